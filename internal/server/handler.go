package server

import (
	"net/http"

	"groupchat/internal/apperr"
	"groupchat/internal/auth"
	"groupchat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	users    *service.UserService
	channels *service.ChannelService
	invites  *service.InviteService
	dms      *service.DMService
	messages *service.MessageService

	cookieMaxAge int
	cookieSecure bool
}

type Services struct {
	Users    *service.UserService
	Channels *service.ChannelService
	Invites  *service.InviteService
	DMs      *service.DMService
	Messages *service.MessageService
}

func NewHandler(svc Services, cookieMaxAge int, cookieSecure bool) *Handler {
	return &Handler{
		users:        svc.Users,
		channels:     svc.Channels,
		invites:      svc.Invites,
		dms:          svc.DMs,
		messages:     svc.Messages,
		cookieMaxAge: cookieMaxAge,
		cookieSecure: cookieSecure,
	}
}

// fail 把业务错误映射为 HTTP 响应，内部错误只记录日志不外泄细节。
func fail(c *gin.Context, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}

func badPayload(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
		Nickname string `json:"nickname"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	user, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		Nickname: req.Nickname,
	})
	if err != nil {
		fail(c, "register", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": service.ProfileOf(user)})
}

// Login 处理用户登录请求，token 同时写入 cookie 和响应体。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	res, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, "login", err)
		return
	}
	auth.SetCookie(c, res.Token, h.cookieMaxAge, h.cookieSecure)
	c.JSON(http.StatusOK, gin.H{"token": res.Token, "user": service.ProfileOf(&res.User)})
}

func (h *Handler) Logout(c *gin.Context) {
	auth.ClearCookie(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) Account(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": service.ProfileOf(auth.CurrentUser(c))})
}

// UpdateAccount 修改资料；安全相关字段变更后旧 token 全部失效，需要重新登录。
func (h *Handler) UpdateAccount(c *gin.Context) {
	var req struct {
		Email    *string `json:"email"`
		Username *string `json:"username"`
		Nickname *string `json:"nickname"`
		Password *string `json:"password"`
		Avatar   *string `json:"avatar"`
		Banner   *string `json:"banner"`
		About    *string `json:"about"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	p, err := h.users.UpdateProfile(c.Request.Context(), auth.CurrentUser(c), service.ProfilePatch{
		Email:    req.Email,
		Username: req.Username,
		Nickname: req.Nickname,
		Password: req.Password,
		Avatar:   req.Avatar,
		Banner:   req.Banner,
		About:    req.About,
	})
	if err != nil {
		fail(c, "update account", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": p})
}

// UserProfile 按 id 或用户名查看他人的公开资料，不含邮箱。
func (h *Handler) UserProfile(c *gin.Context) {
	p, err := h.users.PublicProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "user profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": p})
}

func (h *Handler) RevokeSessions(c *gin.Context) {
	if err := h.users.RevokeSessions(c.Request.Context(), auth.CurrentUser(c)); err != nil {
		fail(c, "revoke sessions", err)
		return
	}
	auth.ClearCookie(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListChannels(c *gin.Context) {
	chans, err := h.channels.List(c.Request.Context(), auth.CurrentUser(c).ID)
	if err != nil {
		fail(c, "list channels", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": chans})
}

func (h *Handler) ListAllRooms(c *gin.Context) {
	all, err := h.channels.ListAll(c.Request.Context(), auth.CurrentUser(c).ID)
	if err != nil {
		fail(c, "list rooms", err)
		return
	}
	c.JSON(http.StatusOK, all)
}

type nameRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) CreateChannel(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	ch, err := h.channels.Create(c.Request.Context(), auth.CurrentUser(c), req.Name)
	if err != nil {
		fail(c, "create channel", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"channel": ch})
}

func (h *Handler) GetChannel(c *gin.Context) {
	ch, err := h.channels.Get(c.Request.Context(), auth.CurrentUser(c).ID, c.Param("id"))
	if err != nil {
		fail(c, "get channel", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch})
}

func (h *Handler) RenameChannel(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	ch, err := h.channels.Rename(c.Request.Context(), auth.CurrentUser(c).ID, c.Param("id"), req.Name)
	if err != nil {
		fail(c, "rename channel", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch})
}

func (h *Handler) DeleteChannel(c *gin.Context) {
	if err := h.channels.Delete(c.Request.Context(), auth.CurrentUser(c).ID, c.Param("id")); err != nil {
		fail(c, "delete channel", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) LeaveChannel(c *gin.Context) {
	if err := h.channels.Leave(c.Request.Context(), auth.CurrentUser(c).ID, c.Param("id")); err != nil {
		fail(c, "leave channel", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListInvites(c *gin.Context) {
	invs, err := h.invites.List(c.Request.Context(), auth.CurrentUser(c).ID, c.Param("id"))
	if err != nil {
		fail(c, "list invites", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invites": invs})
}

func (h *Handler) CreateInvite(c *gin.Context) {
	inv, err := h.invites.Create(c.Request.Context(), auth.CurrentUser(c).ID, c.Param("id"))
	if err != nil {
		fail(c, "create invite", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invite": inv})
}

func (h *Handler) LookupInvite(c *gin.Context) {
	inv, err := h.invites.Lookup(c.Request.Context(), c.Param("code"))
	if err != nil {
		fail(c, "lookup invite", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invite": inv})
}

func (h *Handler) AcceptInvite(c *gin.Context) {
	ch, err := h.invites.Accept(c.Request.Context(), auth.CurrentUser(c), c.Param("code"))
	if err != nil {
		fail(c, "accept invite", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": ch})
}

func (h *Handler) DeleteInvite(c *gin.Context) {
	if err := h.invites.Delete(c.Request.Context(), auth.CurrentUser(c).ID, c.Param("code")); err != nil {
		fail(c, "delete invite", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListDMs(c *gin.Context) {
	dms, err := h.dms.List(c.Request.Context(), auth.CurrentUser(c).ID)
	if err != nil {
		fail(c, "list dms", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dms": dms})
}

func (h *Handler) OpenDM(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	dm, err := h.dms.Open(c.Request.Context(), auth.CurrentUser(c), req.Username)
	if err != nil {
		fail(c, "open dm", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dm": dm})
}

func (h *Handler) GetDM(c *gin.Context) {
	dm, err := h.dms.Get(c.Request.Context(), auth.CurrentUser(c).ID, c.Param("id"))
	if err != nil {
		fail(c, "get dm", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dm": dm})
}

type contentRequest struct {
	Content string `json:"content" binding:"required"`
}

// sendMessage 返回频道或私信共用的发送 handler。
func (h *Handler) sendMessage(isDM bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req contentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badPayload(c)
			return
		}
		msg, err := h.messages.Send(c.Request.Context(), auth.CurrentUser(c), c.Param("id"), isDM, req.Content)
		if err != nil {
			fail(c, "send message", err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": msg})
	}
}

func (h *Handler) EditMessage(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c)
		return
	}
	msg, err := h.messages.Edit(c.Request.Context(), auth.CurrentUser(c).ID, c.Param("id"), c.Param("messageId"), req.Content)
	if err != nil {
		fail(c, "edit message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	if err := h.messages.Delete(c.Request.Context(), auth.CurrentUser(c).ID, c.Param("id"), c.Param("messageId")); err != nil {
		fail(c, "delete message", err)
		return
	}
	c.Status(http.StatusNoContent)
}
