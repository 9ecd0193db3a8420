package controller

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"store_audit_backend/internal/scoring"
	"store_audit_backend/internal/service"
	"store_audit_backend/internal/util"
	"store_audit_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionController 审核答题会话
type SessionController struct {
	Sessions       *service.SessionManager
	AuditService   *service.AuditService
	StorageService *service.StorageService
}

func NewSessionController(sessions *service.SessionManager, auditService *service.AuditService, storage *service.StorageService) *SessionController {
	return &SessionController{Sessions: sessions, AuditService: auditService, StorageService: storage}
}

// swagger:model AnswerRequest
type AnswerRequest struct {
	Response string `json:"response" binding:"required"`
}

// swagger:model NoteRequest
type NoteRequest struct {
	Note string `json:"note"`
}

// session 校验访问权限后返回已打开的会话
func (c *SessionController) session(ctx *gin.Context) (*service.AuditSession, bool) {
	if _, ok := authorizeAudit(ctx, c.AuditService, ctx.Param("id")); !ok {
		return nil, false
	}
	s, err := c.Sessions.Get(ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return nil, false
	}
	return s, true
}

// respondAnswer 写入失败时仍返回本地进度，状态码体现失败
func respondAnswer(ctx *gin.Context, res *service.AnswerResult, err error) {
	var perr *service.PersistenceError
	if err != nil && errors.As(err, &perr) && res != nil {
		code := http.StatusBadGateway
		if perr.Timeout() {
			code = http.StatusGatewayTimeout
		}
		ctx.JSON(code, util.Response{Code: code, Message: err.Error(), Data: res})
		return
	}
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// OpenSession godoc
// @Summary 打开答题会话
// @Description 加载已保存的回答并定位到第一个分区；已打开时直接返回
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Success 200 {object} util.Response{data=object}
// @Router /api/audits/{id}/session [post]
func (c *SessionController) OpenSession(ctx *gin.Context) {
	if _, ok := authorizeAudit(ctx, c.AuditService, ctx.Param("id")); !ok {
		return
	}
	s, err := c.Sessions.Open(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"progress": s.Progress(), "section": s.CurrentSection()})
}

// GetProgress godoc
// @Summary 会话进度
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Success 200 {object} util.Response{data=service.SessionSnapshot}
// @Failure 404 {object} util.Response "会话未打开"
// @Router /api/audits/{id}/session [get]
func (c *SessionController) GetProgress(ctx *gin.Context) {
	s, ok := c.session(ctx)
	if !ok {
		return
	}
	util.Success(ctx, s.Progress())
}

// GetSection godoc
// @Summary 当前分区的题目与回答
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Success 200 {object} util.Response{data=service.SectionDetail}
// @Router /api/audits/{id}/session/section [get]
func (c *SessionController) GetSection(ctx *gin.Context) {
	s, ok := c.session(ctx)
	if !ok {
		return
	}
	util.Success(ctx, s.CurrentSection())
}

// Answer godoc
// @Summary 回答题目
// @Description response: yes | no | partial | not_applicable。写入失败时返回 502/504，但本地值保留，保存时重试
// @Tags 答题
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Param questionId path string true "题目ID"
// @Param body body AnswerRequest true "回答"
// @Success 200 {object} util.Response{data=service.AnswerResult}
// @Failure 400 {object} util.Response "非法回答"
// @Failure 502 {object} util.Response{data=service.AnswerResult} "写入失败"
// @Router /api/audits/{id}/session/answers/{questionId} [put]
func (c *SessionController) Answer(ctx *gin.Context) {
	var req AnswerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	response, err := scoring.ParseResponse(req.Response)
	if err != nil {
		respondError(ctx, err)
		return
	}
	s, ok := c.session(ctx)
	if !ok {
		return
	}
	res, err := s.Answer(ctx.Request.Context(), ctx.Param("questionId"), response)
	respondAnswer(ctx, res, err)
}

// SetNote godoc
// @Summary 题目备注
// @Description 未回答的题目备注只保存在会话中，回答时一起写入
// @Tags 答题
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Param questionId path string true "题目ID"
// @Param body body NoteRequest true "备注"
// @Success 200 {object} util.Response{data=service.AnswerResult}
// @Router /api/audits/{id}/session/answers/{questionId}/note [put]
func (c *SessionController) SetNote(ctx *gin.Context) {
	var req NoteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	s, ok := c.session(ctx)
	if !ok {
		return
	}
	res, err := s.SetNote(ctx.Request.Context(), ctx.Param("questionId"), req.Note)
	respondAnswer(ctx, res, err)
}

// UploadAttachment godoc
// @Summary 上传题目附件
// @Description 仅支持图片和 PDF，最大 10MB
// @Tags 答题
// @Accept  multipart/form-data
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Param questionId path string true "题目ID"
// @Param file formData file true "附件"
// @Success 200 {object} util.Response{data=object}
// @Router /api/audits/{id}/session/answers/{questionId}/attachment [post]
func (c *SessionController) UploadAttachment(ctx *gin.Context) {
	s, ok := c.session(ctx)
	if !ok {
		return
	}
	header, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "file is required")
		return
	}
	if header.Size > util.MaxAttachmentSize {
		util.BadRequest(ctx, "file too large")
		return
	}

	file, err := header.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer file.Close()

	mimeType, err := util.ValidateMimeType(file, util.AllowedAttachmentTypes)
	if err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	auditID, questionID := ctx.Param("id"), ctx.Param("questionId")
	ref, err := c.StorageService.SaveAttachment(ctx.Request.Context(), auditID, questionID, header.Filename, file, header.Size, mimeType)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	res, err := s.SetAttachment(ctx.Request.Context(), questionID, ref)
	if err != nil {
		var perr *service.PersistenceError
		if !errors.As(err, &perr) {
			// 引用没有记录到会话中，文件不再需要
			if derr := c.StorageService.Delete(ctx.Request.Context(), ref); derr != nil {
				logger.Log.Warn("Failed to delete orphan attachment", zap.String("key", ref), zap.Error(derr))
			}
		}
		respondAnswer(ctx, res, err)
		return
	}
	util.Success(ctx, gin.H{"attachmentRef": ref, "url": c.StorageService.URL(ref), "result": res})
}

// Next godoc
// @Summary 下一个分区
// @Description 当前分区未完成时返回 warning，但仍然前进
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Success 200 {object} util.Response{data=service.NavResult}
// @Router /api/audits/{id}/session/next [post]
func (c *SessionController) Next(ctx *gin.Context) {
	s, ok := c.session(ctx)
	if !ok {
		return
	}
	util.Success(ctx, s.Next())
}

// Previous godoc
// @Summary 上一个分区
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Success 200 {object} util.Response{data=service.NavResult}
// @Failure 400 {object} util.Response "已在第一个分区"
// @Router /api/audits/{id}/session/previous [post]
func (c *SessionController) Previous(ctx *gin.Context) {
	s, ok := c.session(ctx)
	if !ok {
		return
	}
	nav, err := s.Previous()
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nav)
}

// GoTo godoc
// @Summary 跳转到指定分区
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Param index path int true "分区序号（从 0 开始）"
// @Success 200 {object} util.Response{data=service.NavResult}
// @Router /api/audits/{id}/session/sections/{index} [put]
func (c *SessionController) GoTo(ctx *gin.Context) {
	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil {
		util.BadRequest(ctx, "invalid section index")
		return
	}
	s, ok := c.session(ctx)
	if !ok {
		return
	}
	nav, err := s.GoTo(index)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nav)
}

// Save godoc
// @Summary 保存审核
// @Description 重新计算总分；全部分区完成时标记为 concluded。失败时状态不变
// @Tags 答题
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Success 200 {object} util.Response{data=service.SaveResult}
// @Failure 409 {object} util.Response "正在保存"
// @Failure 502 {object} util.Response "写入失败"
// @Router /api/audits/{id}/session/save [post]
func (c *SessionController) Save(ctx *gin.Context) {
	s, ok := c.session(ctx)
	if !ok {
		return
	}
	res, err := s.Save(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// CloseSession godoc
// @Summary 关闭答题会话
// @Tags 答题
// @Security ApiKeyAuth
// @Param id path string true "审核ID"
// @Success 200 {object} util.Response
// @Router /api/audits/{id}/session [delete]
func (c *SessionController) CloseSession(ctx *gin.Context) {
	if _, ok := authorizeAudit(ctx, c.AuditService, ctx.Param("id")); !ok {
		return
	}
	util.Success(ctx, gin.H{"closed": c.Sessions.Close(ctx.Param("id"))})
}
