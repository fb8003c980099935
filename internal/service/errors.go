package service

import "groupchat/internal/apperr"

// 业务层通用错误，均带 apperr 分类，handler 统一映射 HTTP 状态码。
var (
	ErrUsernameTaken      = apperr.Conflict("username taken")
	ErrEmailTaken         = apperr.Conflict("email taken")
	ErrInvalidCredentials = apperr.Unauthenticated("invalid credentials")
	ErrAlreadyMember      = apperr.Conflict("already a member")
	ErrNotOwner           = apperr.Forbidden("only the channel owner can do that")
	ErrOwnerCannotLeave   = apperr.Forbidden("the owner cannot leave the channel")
	ErrNotAuthor          = apperr.Forbidden("only the author can change this message")
	ErrSelfDM             = apperr.Forbidden("cannot open a dm with yourself")
	ErrNotMember          = apperr.Forbidden("not a member of this room")
)
