package controller

import (
	"errors"
	"net/http"

	"store_audit_backend/internal/scoring"
	"store_audit_backend/internal/service"
	"store_audit_backend/internal/util"
	"store_audit_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError 把业务错误映射为统一响应
func respondError(ctx *gin.Context, err error) {
	var verr *scoring.ValidationError
	var perr *service.PersistenceError

	switch {
	case errors.As(err, &verr):
		util.BadRequest(ctx, verr.Error())
	case errors.Is(err, util.ErrInvalidRole),
		errors.Is(err, util.ErrAtFirstSection):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrUserNotFound),
		errors.Is(err, util.ErrStoreNotFound),
		errors.Is(err, util.ErrSectionNotFound),
		errors.Is(err, util.ErrQuestionNotFound),
		errors.Is(err, util.ErrAuditNotFound),
		errors.Is(err, util.ErrSessionNotOpen):
		util.Error(ctx, http.StatusNotFound, err.Error())
	case errors.Is(err, util.ErrEmailRegistered),
		errors.Is(err, util.ErrAlreadySaving):
		util.Conflict(ctx, err.Error())
	case errors.Is(err, util.ErrInvalidCredentials):
		util.Error(ctx, http.StatusUnauthorized, err.Error())
	case errors.Is(err, util.ErrUserDisabled),
		errors.Is(err, util.ErrPermissionDenied):
		util.Error(ctx, http.StatusForbidden, err.Error())
	case errors.Is(err, util.ErrExportUnavailable):
		util.Error(ctx, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &perr):
		logger.Log.Warn("Persistence failure", zap.String("path", ctx.FullPath()), zap.Error(err))
		if perr.Timeout() {
			util.Error(ctx, http.StatusGatewayTimeout, "persistence timeout")
		} else {
			util.Error(ctx, http.StatusBadGateway, "persistence failure")
		}
	default:
		util.LogInternalError(ctx, err)
	}
}

func pageParams(ctx *gin.Context) (int, int) {
	return util.ParsePage(ctx.Query("page"), ctx.Query("limit"))
}
