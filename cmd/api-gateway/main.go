package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/identity-api/api/swagger"
	"github.com/noah-isme/identity-api/internal/handler"
	"github.com/noah-isme/identity-api/internal/middleware"
	"github.com/noah-isme/identity-api/internal/models"
	"github.com/noah-isme/identity-api/internal/repository"
	"github.com/noah-isme/identity-api/internal/security"
	"github.com/noah-isme/identity-api/internal/service"
	"github.com/noah-isme/identity-api/pkg/cache"
	"github.com/noah-isme/identity-api/pkg/config"
	"github.com/noah-isme/identity-api/pkg/database"
	"github.com/noah-isme/identity-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/identity-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/identity-api/pkg/middleware/requestid"
)

// @title Identity API
// @version 1.0.0
// @description Credential and session security for users, roles and permissions
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	checks := map[string]handler.HealthCheck{
		"postgres": func(ctx context.Context) error { return db.PingContext(ctx) },
	}

	var redisClient *redis.Client
	if cfg.Guard.Store == config.GuardStoreRedis {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	issuer, err := security.NewTokenIssuer(cfg.JWT)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	auditSvc := service.NewAuditService(repository.NewAuditRepository(db), metrics, logr, cfg.Audit)
	auditCtx, stopAudit := context.WithCancel(context.Background())
	defer stopAudit()
	auditSvc.Start(auditCtx)
	defer auditSvc.Stop()

	guard := service.NewBruteForceGuard(newBlockStore(cfg, redisClient, logr), cfg.Guard, auditSvc, metrics, logr)
	lockPolicy := service.NewAccountLockPolicy(cfg.Lockout)
	users := repository.NewUserRepository(db)
	tokens := repository.NewRefreshTokenRepository(db)

	authSvc := service.NewAuthService(service.AuthServiceParams{
		Users:      users,
		Tokens:     tokens,
		Roles:      repository.NewRoleRepository(db),
		Hasher:     security.NewPasswordHasher(),
		Issuer:     issuer,
		Guard:      guard,
		LockPolicy: lockPolicy,
		Audit:      auditSvc,
		Notifier:   service.NewLogRecoveryNotifier(logr),
		Metrics:    metrics,
		Validator:  validate,
		Logger:     logr,
		Config: service.AuthConfig{
			SingleSession:    cfg.Auth.SingleSession,
			DefaultRole:      cfg.Auth.DefaultRole,
			RecoveryTokenTTL: cfg.Recovery.TokenTTL,
		},
	})
	userSvc := service.NewUserService(users, tokens, auditSvc, lockPolicy, validate, logr)

	router := newRouter(cfg, logr, routerDeps{
		auth:    handler.NewAuthHandler(authSvc),
		users:   handler.NewUserHandler(userSvc),
		health:  handler.NewMetricsHandler(metrics, checks),
		tokens:  authSvc,
		metrics: metrics,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env), zap.String("guard_store", cfg.Guard.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logr.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

type routerDeps struct {
	auth    *handler.AuthHandler
	users   *handler.UserHandler
	health  *handler.MetricsHandler
	tokens  middleware.AccessTokenValidator
	metrics *service.MetricsService
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, deps.health.Prometheus)
	}
	if cfg.Swagger.Enabled {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	requireAuth := middleware.JWT(deps.tokens)

	auth := api.Group("/auth")
	auth.POST("/register", deps.auth.Register)
	auth.POST("/login", deps.auth.Login)
	auth.POST("/refresh", deps.auth.Refresh)
	auth.POST("/forgot-password", deps.auth.ForgotPassword)
	auth.POST("/reset-password", deps.auth.ResetPassword)
	auth.POST("/revoke", requireAuth, deps.auth.Revoke)
	auth.POST("/change-password", requireAuth, deps.auth.ChangePassword)
	auth.GET("/me", requireAuth, deps.auth.Me)

	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	users := api.Group("/users", requireAuth)
	users.GET("", adminOnly, deps.users.List)
	users.GET("/:id", middleware.RBAC(models.RoleAdmin, middleware.SelfAccess), deps.users.Get)
	users.PUT("/:id", adminOnly, deps.users.Update)
	users.DELETE("/:id", adminOnly, deps.users.Delete)
	users.DELETE("/:id/hard", adminOnly, deps.users.HardDelete)
	users.PATCH("/:id/restore", adminOnly, deps.users.Restore)
	users.POST("/:id/lock", adminOnly, deps.users.Lock)
	users.POST("/:id/unlock", adminOnly, deps.users.Unlock)

	return r
}

type blockStore interface {
	Update(ctx context.Context, key string, fn repository.BlockMutator) (*models.BlockEntry, error)
}

// newBlockStore picks the guard backend. The in-memory store only sees
// failures handled by this process.
func newBlockStore(cfg *config.Config, client *redis.Client, logr *zap.Logger) blockStore {
	if cfg.Guard.Store == config.GuardStoreRedis && client != nil {
		return repository.NewBlockRedisRepository(client, cfg.Guard.RedisKeyPrefix, cfg.Guard.RedisMaxCASRetries, logr)
	}
	return repository.NewBlockMemoryRepository()
}
