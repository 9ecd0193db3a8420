package controller

import (
	"net/http"

	"store_audit_backend/internal/model"
	"store_audit_backend/internal/repository"
	"store_audit_backend/internal/service"
	"store_audit_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AuditController struct {
	AuditService  *service.AuditService
	ExportService *service.ExportService
}

func NewAuditController(auditService *service.AuditService, exportService *service.ExportService) *AuditController {
	return &AuditController{AuditService: auditService, ExportService: exportService}
}

// loadAudit 读取审核并检查访问权限：审核员只能访问自己的审核
func (c *AuditController) loadAudit(ctx *gin.Context) (*model.Audit, bool) {
	return authorizeAudit(ctx, c.AuditService, ctx.Param("id"))
}

func authorizeAudit(ctx *gin.Context, audits *service.AuditService, id string) (*model.Audit, bool) {
	audit, err := audits.Get(ctx.Request.Context(), id)
	if err != nil {
		respondError(ctx, err)
		return nil, false
	}
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return nil, false
	}
	if claims.Role == model.Auditor && audit.AuditorID != claims.UserID {
		util.Forbidden(ctx)
		return nil, false
	}
	return audit, true
}

// StartAudit godoc
// @Summary 开始门店审核
// @Tags 审核
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param body body service.StartAuditRequest true "门店与负责人"
// @Success 201 {object} util.Response{data=model.Audit}
// @Failure 404 {object} util.Response "门店不存在"
// @Router /api/audits [post]
func (c *AuditController) StartAudit(ctx *gin.Context) {
	var req service.StartAuditRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	audit, err := c.AuditService.Start(ctx.Request.Context(), claims.UserID, req)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, audit)
}

// ListAudits godoc
// @Summary 审核历史
// @Description 审核员只能看到自己的审核
// @Tags 审核
// @Produce  json
// @Security ApiKeyAuth
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Param storeId query string false "门店ID"
// @Param status query string false "in_progress | concluded"
// @Param startDate query string false "开始日期 yyyy-mm-dd"
// @Param endDate query string false "结束日期 yyyy-mm-dd"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/audits [get]
func (c *AuditController) ListAudits(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	filter := repository.AuditFilter{
		StoreID: ctx.Query("storeId"),
		Status:  model.AuditStatus(ctx.Query("status")),
	}
	switch filter.Status {
	case "", model.AuditInProgress, model.AuditConcluded:
	default:
		util.BadRequest(ctx, "invalid status")
		return
	}

	var err error
	if filter.StartDate, err = util.ParseDate(ctx.Query("startDate")); err != nil {
		util.BadRequest(ctx, "invalid startDate")
		return
	}
	if filter.EndDate, err = util.ParseDate(ctx.Query("endDate")); err != nil {
		util.BadRequest(ctx, "invalid endDate")
		return
	}
	if !filter.EndDate.IsZero() {
		filter.EndDate = filter.EndDate.AddDate(0, 0, 1)
	}

	claims := util.GetUserFromContext(ctx)
	if claims != nil && claims.Role == model.Auditor {
		filter.AuditorID = claims.UserID
	}

	audits, total, err := c.AuditService.List(ctx.Request.Context(), page, limit, filter)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, util.Page(audits, total, page, limit))
}

// GetAudit godoc
// @Summary 审核详情
// @Tags 审核
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Success 200 {object} util.Response{data=model.Audit}
// @Failure 404 {object} util.Response
// @Router /api/audits/{id} [get]
func (c *AuditController) GetAudit(ctx *gin.Context) {
	audit, ok := c.loadAudit(ctx)
	if !ok {
		return
	}
	util.Success(ctx, audit)
}

// GetReport godoc
// @Summary 审核报告
// @Description 分区小计、总分（一位小数）以及得分 <= 0 的关注项
// @Tags 报告
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Success 200 {object} util.Response{data=service.AuditReport}
// @Router /api/audits/{id}/report [get]
func (c *AuditController) GetReport(ctx *gin.Context) {
	if _, ok := c.loadAudit(ctx); !ok {
		return
	}
	report, err := c.AuditService.Report(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, report)
}

// ExportReport godoc
// @Summary 导出审核报告
// @Description 生成 PDF 并保存；email=true 时发送给审核员和管理员
// @Tags 报告
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Param email query bool false "是否发送邮件"
// @Success 200 {object} util.Response{data=service.ExportResult}
// @Failure 503 {object} util.Response "导出未配置"
// @Router /api/audits/{id}/export [post]
func (c *AuditController) ExportReport(ctx *gin.Context) {
	if _, ok := c.loadAudit(ctx); !ok {
		return
	}
	res, err := c.ExportService.Export(ctx.Request.Context(), ctx.Param("id"), ctx.Query("email") == "true")
	if err != nil {
		if res != nil {
			// PDF 已保存，只是邮件失败
			util.Error(ctx, http.StatusBadGateway, "report stored but email failed: "+err.Error())
			return
		}
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// DeleteAudit godoc
// @Summary 删除审核
// @Description 同时删除全部回答
// @Tags 审核
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Success 200 {object} util.Response
// @Router /api/admin/audits/{id} [delete]
func (c *AuditController) DeleteAudit(ctx *gin.Context) {
	if err := c.AuditService.Delete(ctx.Request.Context(), ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
