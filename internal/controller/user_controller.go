package controller

import (
	"store_audit_backend/internal/model"
	"store_audit_backend/internal/service"
	"store_audit_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type UserController struct {
	UserService *service.UserService
}

func NewUserController(userService *service.UserService) *UserController {
	return &UserController{UserService: userService}
}

// CreateUserRequest 管理员创建用户
// swagger:model CreateUserRequest
type CreateUserRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Role     string `json:"role" binding:"required,oneof=admin auditor supervisor manager"`
}

// UpdateUserRequest 未提供的字段保持不变
// swagger:model UpdateUserRequest
type UpdateUserRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email" binding:"omitempty,email"`
	Role     *string `json:"role" binding:"omitempty,oneof=admin auditor supervisor manager"`
	Disabled *bool   `json:"disabled"`
}

// ListUsers godoc
// @Summary 用户列表
// @Tags 用户管理
// @Produce  json
// @Security ApiKeyAuth
// @Param page query int false "页码"
// @Param limit query int false "每页数量"
// @Param role query string false "角色"
// @Param search query string false "姓名或邮箱"
// @Success 200 {object} util.Response{data=util.PageResponse}
// @Router /api/admin/users [get]
func (c *UserController) ListUsers(ctx *gin.Context) {
	page, limit := pageParams(ctx)
	users, total, err := c.UserService.List(page, limit, model.UserRole(ctx.Query("role")), ctx.Query("search"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, util.Page(users, total, page, limit))
}

// GetUser godoc
// @Summary 用户详情
// @Tags 用户管理
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "用户ID"
// @Success 200 {object} util.Response{data=model.User}
// @Failure 404 {object} util.Response
// @Router /api/admin/users/{id} [get]
func (c *UserController) GetUser(ctx *gin.Context) {
	user, err := c.UserService.Get(ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, user)
}

// CreateUser godoc
// @Summary 创建用户
// @Tags 用户管理
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param body body CreateUserRequest true "用户信息"
// @Success 201 {object} util.Response{data=model.User}
// @Failure 409 {object} util.Response "邮箱已被注册"
// @Router /api/admin/users [post]
func (c *UserController) CreateUser(ctx *gin.Context) {
	var req CreateUserRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	user := &model.User{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     model.UserRole(req.Role),
	}
	if err := c.UserService.Create(user); err != nil {
		respondError(ctx, err)
		return
	}
	util.Created(ctx, user)
}

// UpdateUser godoc
// @Summary 更新用户
// @Tags 用户管理
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param id path string true "用户ID"
// @Param body body UpdateUserRequest true "用户信息"
// @Success 200 {object} util.Response{data=model.User}
// @Router /api/admin/users/{id} [put]
func (c *UserController) UpdateUser(ctx *gin.Context) {
	var req UpdateUserRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	in := service.UserUpdate{Name: req.Name, Email: req.Email, Disabled: req.Disabled}
	if req.Role != nil {
		role := model.UserRole(*req.Role)
		in.Role = &role
	}
	user, err := c.UserService.Update(ctx.Param("id"), in)
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, user)
}

// DeleteUser godoc
// @Summary 删除用户
// @Tags 用户管理
// @Security ApiKeyAuth
// @Param id path string true "用户ID"
// @Success 200 {object} util.Response
// @Router /api/admin/users/{id} [delete]
func (c *UserController) DeleteUser(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims != nil && claims.UserID == ctx.Param("id") {
		util.BadRequest(ctx, "cannot delete yourself")
		return
	}
	if err := c.UserService.Delete(ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// ResetPassword godoc
// @Summary 重置用户密码
// @Description 生成临时密码并返回
// @Tags 用户管理
// @Security ApiKeyAuth
// @Param id path string true "用户ID"
// @Success 200 {object} util.Response{data=object}
// @Router /api/admin/users/{id}/reset-password [post]
func (c *UserController) ResetPassword(ctx *gin.Context) {
	password, err := c.UserService.ResetPassword(ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"temporaryPassword": password})
}
