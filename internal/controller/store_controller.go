package controller

import (
	"store_audit_backend/internal/model"
	"store_audit_backend/internal/service"
	"store_audit_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type StoreController struct {
	StoreService *service.StoreService
}

func NewStoreController(storeService *service.StoreService) *StoreController {
	return &StoreController{StoreService: storeService}
}

// swagger:model StoreRequest
type StoreRequest struct {
	Name    string `json:"name" binding:"required"`
	Code    string `json:"code"`
	Address string `json:"address"`
	City    string `json:"city"`
	Active  *bool  `json:"active"`
}

func (r StoreRequest) toModel() *model.Store {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return &model.Store{Name: r.Name, Code: r.Code, Address: r.Address, City: r.City, Active: active}
}

// ListStores godoc
// @Summary 门店列表
// @Tags 门店
// @Produce  json
// @Security ApiKeyAuth
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Param search query string false "名称/编码/城市"
// @Param active query bool false "只看启用的门店"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/stores [get]
func (c *StoreController) ListStores(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	stores, total, err := c.StoreService.List(page, limit, ctx.Query("search"), ctx.Query("active") == "true")
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, util.Page(stores, total, page, limit))
}

// GetStore godoc
// @Summary 门店详情
// @Tags 门店
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "门店ID"
// @Success 200 {object} util.Response{data=model.Store}
// @Failure 404 {object} util.Response
// @Router /api/stores/{id} [get]
func (c *StoreController) GetStore(ctx *gin.Context) {
	store, err := c.StoreService.Get(ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, store)
}

// CreateStore godoc
// @Summary 创建门店
// @Tags 门店
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param body body StoreRequest true "门店信息"
// @Success 201 {object} util.Response{data=model.Store}
// @Router /api/admin/stores [post]
func (c *StoreController) CreateStore(ctx *gin.Context) {
	var req StoreRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	store := req.toModel()
	if err := c.StoreService.Create(store); err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, store)
}

// UpdateStore godoc
// @Summary 更新门店
// @Tags 门店
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "门店ID"
// @Param body body StoreRequest true "门店信息"
// @Success 200 {object} util.Response{data=model.Store}
// @Router /api/admin/stores/{id} [put]
func (c *StoreController) UpdateStore(ctx *gin.Context) {
	var req StoreRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	store, err := c.StoreService.Update(ctx.Param("id"), req.toModel())
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, store)
}

// DeleteStore godoc
// @Summary 删除门店
// @Tags 门店
// @Security ApiKeyAuth
// @Param id path string true "门店ID"
// @Success 200 {object} util.Response
// @Router /api/admin/stores/{id} [delete]
func (c *StoreController) DeleteStore(ctx *gin.Context) {
	if err := c.StoreService.Delete(ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
