package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"store_audit_backend/internal/config"
	"store_audit_backend/internal/controller"
	"store_audit_backend/internal/repository"
	"store_audit_backend/internal/service"
	"store_audit_backend/pkg/configwatcher"
	"store_audit_backend/pkg/database"
	"store_audit_backend/pkg/logger"
	"store_audit_backend/pkg/monitoring"
	"store_audit_backend/pkg/security"
	"store_audit_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	ConfigPath      string
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
	// 取消后台协程（限流清理）
	stopBackground context.CancelFunc
}

type repositories struct {
	user    *repository.UserRepository
	store   *repository.StoreRepository
	catalog *repository.CatalogRepository
	audit   *repository.AuditRepository
}

type services struct {
	auth     *service.AuthService
	user     *service.UserService
	store    *service.StoreService
	catalog  *service.CatalogService
	storage  *service.StorageService
	sessions *service.SessionManager
	audit    *service.AuditService
	export   *service.ExportService
}

type controllers struct {
	auth    *controller.AuthController
	user    *controller.UserController
	store   *controller.StoreController
	catalog *controller.CatalogController
	audit   *controller.AuditController
	session *controller.SessionController
	health  *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *repositories {
	var cache repository.CatalogCache
	if rdb != nil {
		cache = repository.NewRedisCatalogCache(rdb, cfg.Redis.CatalogTTL)
	} else {
		cache = repository.NewMemoryCatalogCache(cfg.Redis.CatalogTTL)
	}

	return &repositories{
		user:    repository.NewUserRepository(db),
		store:   repository.NewStoreRepository(db),
		catalog: repository.NewCatalogRepository(db, cache),
		audit:   repository.NewAuditRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config) *services {
	s := &services{}
	s.auth = service.NewAuthService(repos.user, cfg)
	s.user = service.NewUserService(repos.user, s.auth)
	s.store = service.NewStoreService(repos.store)
	s.catalog = service.NewCatalogService(repos.catalog)
	s.storage = service.NewStorageService(cfg)
	s.sessions = service.NewSessionManager(
		repository.NewAuditStore(repos.catalog, repos.audit),
		cfg.Audit.PollInterval,
		cfg.Audit.PersistTimeout,
		cfg.Audit.SessionIdleTimeout,
	)
	s.audit = service.NewAuditService(repos.audit, repos.catalog, repos.store, s.sessions)
	s.export = service.NewExportService(s.audit, s.storage, &cfg.Export)
	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:    controller.NewAuthController(s.auth),
		user:    controller.NewUserController(s.user),
		store:   controller.NewStoreController(s.store),
		catalog: controller.NewCatalogController(s.catalog),
		audit:   controller.NewAuditController(s.audit, s.export),
		session: controller.NewSessionController(s.sessions, s.audit, s.storage),
		health:  controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(ctx context.Context, router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS))
	router.Use(security.Headers(cfg.Security))
	if cfg.RateLimit.MaxRequests > 0 {
		window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
		// 健康检查和指标抓取不计入限流
		limiter := security.NewRateLimiter(ctx, cfg.RateLimit.MaxRequests, window, "/api/health", "/metrics")
		router.Use(limiter.Middleware())
	}

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) startBackgroundTasks(s *services) {
	s.sessions.Start()

	// 配置热更新：目前只有轮询间隔可在运行时调整
	a.RegisterConfigCallback(func(cfg *config.Config) {
		s.sessions.SetPollInterval(cfg.Audit.PollInterval)
	})
}

func (a *App) applyConfig(cfg *config.Config) {
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	// release 模式下默认不迁移，除非显式指定 -migrate
	migrate := cfg.Server.Mode != "release" || cfg.ForceMigrate
	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, migrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	app := &App{
		Config:     cfg,
		ConfigPath: filepath.Join("configs", "config.yaml"),
		DB:         db,
	}
	if cfg.MigrateOnly {
		return app
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		log.Fatalf("Failed to initialize redis: %v", err)
	}
	app.Redis = rdb

	repos := app.initRepositories(db, rdb, cfg)
	services := app.initServices(repos, cfg)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	bgCtx, stopBackground := context.WithCancel(context.Background())
	app.stopBackground = stopBackground
	app.setupMiddlewares(bgCtx, router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.registerRoutes(router, controllers, cfg)

	if _, ok := services.storage.Provider.(*service.LocalStorageProvider); ok {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.startBackgroundTasks(services)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		if err := configwatcher.WatchConfig(watchCtx, a.ConfigPath, a.applyConfig); err != nil {
			logger.Log.Warn("Config watcher disabled", zap.Error(err))
		}
	}()

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.stopBackground != nil {
		a.stopBackground()
	}

	// 停止轮询后再关闭会话，Close 会等待进行中的写入
	if a.services != nil {
		a.services.sessions.Stop()
		a.services.sessions.CloseAll()
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
