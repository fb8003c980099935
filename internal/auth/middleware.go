package auth

import (
	"net/http"

	"groupchat/internal/apperr"
	"groupchat/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const userKey = "user"

// Middleware 对需要登录的接口执行会话失效策略，失败时清除 cookie 并返回 401。
func Middleware(a *Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.Authorize(c.Request.Context(), FromRequest(c.Request))
		if err != nil {
			if apperr.IsInternal(err) {
				log.Error().Err(err).Str("path", c.FullPath()).Msg("authorize")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
			ClearCookie(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// CurrentUser 返回中间件注入的用户，未登录时为 nil。
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(userKey); ok {
		if u, ok2 := v.(*models.User); ok2 {
			return u
		}
	}
	return nil
}

func SetCookie(c *gin.Context, token string, maxAge int, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, maxAge, "/", "", secure, true)
}

func ClearCookie(c *gin.Context) {
	c.SetCookie(CookieName, "", -1, "/", "", false, true)
}
