package util

import "errors"

var (
	ErrUserNotFound       = errors.New("用户不存在")
	ErrEmailRegistered    = errors.New("该邮箱已被注册")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("user disabled")
	ErrInvalidRole        = errors.New("invalid role")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrStoreNotFound      = errors.New("store not found")
	ErrSectionNotFound    = errors.New("section not found")
	ErrQuestionNotFound   = errors.New("question not found")
	ErrAuditNotFound      = errors.New("audit not found")
	ErrSessionNotOpen     = errors.New("audit session not open")
	ErrAlreadySaving      = errors.New("audit save already in progress")
	ErrAtFirstSection     = errors.New("already at first section")
	ErrExportUnavailable  = errors.New("export not configured")
)
