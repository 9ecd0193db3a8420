package controller

import (
	"store_audit_backend/internal/model"
	"store_audit_backend/internal/service"
	"store_audit_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// CatalogController 分区与题目
type CatalogController struct {
	CatalogService *service.CatalogService
}

func NewCatalogController(catalogService *service.CatalogService) *CatalogController {
	return &CatalogController{CatalogService: catalogService}
}

// swagger:model SectionRequest
type SectionRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

// swagger:model QuestionRequest
type QuestionRequest struct {
	SectionID *string `json:"sectionId"`
	Text      string  `json:"text" binding:"required"`
	Guidance  string  `json:"guidance"`
	Position  int     `json:"position"`
}

// GetCatalog godoc
// @Summary 全部分区与题目
// @Description 按审核顺序返回；未分配分区的题目放在 unassigned
// @Tags 题库
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=object}
// @Router /api/catalog [get]
func (c *CatalogController) GetCatalog(ctx *gin.Context) {
	sections, unassigned, err := c.CatalogService.Catalog(ctx.Request.Context())
	if err != nil {
		respondError(ctx, err)
		return
	}
	if unassigned == nil {
		unassigned = []model.Question{}
	}
	util.Success(ctx, gin.H{"sections": sections, "unassigned": unassigned})
}

// CreateSection godoc
// @Summary 创建分区
// @Tags 题库
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param body body SectionRequest true "分区"
// @Success 201 {object} util.Response{data=model.Section}
// @Router /api/admin/sections [post]
func (c *CatalogController) CreateSection(ctx *gin.Context) {
	var req SectionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	sec := &model.Section{Name: req.Name, Description: req.Description, Position: req.Position}
	if err := c.CatalogService.CreateSection(ctx.Request.Context(), sec); err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, sec)
}

// UpdateSection godoc
// @Summary 更新分区
// @Tags 题库
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "分区ID"
// @Param body body SectionRequest true "分区"
// @Success 200 {object} util.Response{data=model.Section}
// @Router /api/admin/sections/{id} [put]
func (c *CatalogController) UpdateSection(ctx *gin.Context) {
	var req SectionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	sec, err := c.CatalogService.UpdateSection(ctx.Request.Context(), ctx.Param("id"),
		&model.Section{Name: req.Name, Description: req.Description, Position: req.Position})
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, sec)
}

// DeleteSection godoc
// @Summary 删除分区
// @Description 分区下的题目保留为未分配状态，不再计分
// @Tags 题库
// @Security ApiKeyAuth
// @Param id path string true "分区ID"
// @Success 200 {object} util.Response
// @Router /api/admin/sections/{id} [delete]
func (c *CatalogController) DeleteSection(ctx *gin.Context) {
	if err := c.CatalogService.DeleteSection(ctx.Request.Context(), ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// CreateQuestion godoc
// @Summary 创建题目
// @Tags 题库
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param body body QuestionRequest true "题目"
// @Success 201 {object} util.Response{data=model.Question}
// @Router /api/admin/questions [post]
func (c *CatalogController) CreateQuestion(ctx *gin.Context) {
	var req QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	q := &model.Question{SectionID: req.SectionID, Text: req.Text, Guidance: req.Guidance, Position: req.Position}
	if err := c.CatalogService.CreateQuestion(ctx.Request.Context(), q); err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, q)
}

// UpdateQuestion godoc
// @Summary 更新题目
// @Tags 题库
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "题目ID"
// @Param body body QuestionRequest true "题目"
// @Success 200 {object} util.Response{data=model.Question}
// @Router /api/admin/questions/{id} [put]
func (c *CatalogController) UpdateQuestion(ctx *gin.Context) {
	var req QuestionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	q, err := c.CatalogService.UpdateQuestion(ctx.Request.Context(), ctx.Param("id"),
		&model.Question{SectionID: req.SectionID, Text: req.Text, Guidance: req.Guidance, Position: req.Position})
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, q)
}

// DeleteQuestion godoc
// @Summary 删除题目
// @Tags 题库
// @Security ApiKeyAuth
// @Param id path string true "题目ID"
// @Success 200 {object} util.Response
// @Router /api/admin/questions/{id} [delete]
func (c *CatalogController) DeleteQuestion(ctx *gin.Context) {
	if err := c.CatalogService.DeleteQuestion(ctx.Request.Context(), ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
