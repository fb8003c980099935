package auth

import (
	"net/http"
	"strings"
)

// CookieName 是登录时写入的会话 cookie。
const CookieName = "auth"

// FromRequest 读取 REST 请求中的 token：cookie 优先，其次是 Authorization
// 头（"Bearer <token>" 或裸值）。
func FromRequest(r *http.Request) string {
	if ck, err := r.Cookie(CookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	return stripBearer(r.Header.Get("Authorization"))
}

// FromHandshake 处理实时连接握手携带的 token，可带 "Bearer " 前缀。
func FromHandshake(raw string) string {
	return stripBearer(raw)
}

func stripBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return v
}
