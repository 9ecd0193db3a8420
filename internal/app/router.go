package app

import (
	"store_audit_backend/docs"
	"store_audit_backend/internal/config"
	"store_audit_backend/internal/middleware"
	"store_audit_backend/internal/model"
	"store_audit_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要登录的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.GET("/me", c.auth.Me)
		authGroup.GET("/stores", c.store.ListStores)
		authGroup.GET("/stores/:id", c.store.GetStore)
		authGroup.GET("/catalog", c.catalog.GetCatalog)

		// 审核与会话：审核员、督导、店长
		a.registerAuditRoutes(authGroup, c)
	}

	// 3. 管理员相关接口
	a.registerAdminRoutes(router, c, cfg)
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/login", c.auth.Login)
	}
}

func (a *App) registerAuditRoutes(group *gin.RouterGroup, c *controllers) {
	audits := group.Group("/audits")
	{
		audits.GET("", c.audit.ListAudits)
		audits.GET("/:id", c.audit.GetAudit)
		audits.GET("/:id/report", c.audit.GetReport)
		audits.POST("/:id/export", c.audit.ExportReport)
	}

	// 只有审核员可以开始和填写审核
	writer := group.Group("/audits")
	writer.Use(middleware.RoleMiddleware(model.Auditor))
	{
		writer.POST("", c.audit.StartAudit)

		session := writer.Group("/:id/session")
		{
			session.POST("", c.session.OpenSession)
			session.GET("", c.session.GetProgress)
			session.DELETE("", c.session.CloseSession)
			session.GET("/section", c.session.GetSection)
			session.PUT("/answers/:questionId", c.session.Answer)
			session.PUT("/answers/:questionId/note", c.session.SetNote)
			session.POST("/answers/:questionId/attachment", c.session.UploadAttachment)
			session.POST("/next", c.session.Next)
			session.POST("/previous", c.session.Previous)
			session.PUT("/sections/:index", c.session.GoTo)
			session.POST("/save", c.session.Save)
		}
	}
}

func (a *App) registerAdminRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Admin))
	{
		admin.GET("/users", c.user.ListUsers)
		admin.POST("/users", c.user.CreateUser)
		admin.GET("/users/:id", c.user.GetUser)
		admin.PUT("/users/:id", c.user.UpdateUser)
		admin.DELETE("/users/:id", c.user.DeleteUser)
		admin.POST("/users/:id/reset-password", c.user.ResetPassword)

		admin.POST("/stores", c.store.CreateStore)
		admin.PUT("/stores/:id", c.store.UpdateStore)
		admin.DELETE("/stores/:id", c.store.DeleteStore)

		admin.POST("/sections", c.catalog.CreateSection)
		admin.PUT("/sections/:id", c.catalog.UpdateSection)
		admin.DELETE("/sections/:id", c.catalog.DeleteSection)
		admin.POST("/questions", c.catalog.CreateQuestion)
		admin.PUT("/questions/:id", c.catalog.UpdateQuestion)
		admin.DELETE("/questions/:id", c.catalog.DeleteQuestion)

		admin.DELETE("/audits/:id", c.audit.DeleteAudit)
	}
}
