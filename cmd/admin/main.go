package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"

	"connect-api/internal/core/auth"
	"connect-api/internal/core/cache"
	"connect-api/internal/core/config"
	"connect-api/internal/core/database"
	"connect-api/internal/core/logger"
	"connect-api/internal/core/server"
	"connect-api/internal/feature/user"
	"connect-api/internal/repo"
	"connect-api/internal/service"
	"connect-api/internal/transport/http/handler"
	"connect-api/internal/transport/http/router"
	"connect-api/pkg/utils"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load(os.Getenv("CONFIG_PATH"))
	log, cleanup := logger.New(cfg.Log.Level, cfg.Log.JSON)
	defer cleanup()
	defer logger.RedirectStdLog(log, zapcore.InfoLevel)()

	// DB 连接（失败直接 Fatal）
	db := mustOpenDB(cfg, log)
	log.Info("database connected", zap.String("driver", cfg.DB.Driver))
	if cfg.DB.AutoMigrate {
		if err := database.Migrate(db, user.Models()...); err != nil {
			log.Fatal("automigrate failed", zap.Error(err))
		}
	}

	// 依赖
	jwter := &auth.JWTer{
		Secret: []byte(cfg.JWT.Secret),
		Issuer: cfg.JWT.Issuer,
		TTL:    cfg.JWT.AccessTTL(),
	}
	hasher := utils.NewHasher(cfg.Password.BcryptCost)
	userRepo := repo.NewUserRepo(db)

	userOpts := []service.UserOption{service.WithUserLogger(log.Named("admin"))}
	if cfg.Redis.Addr != "" {
		// 只用于封禁/恢复时清理用户端的资料缓存
		rc := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		rc.Prefix = cfg.Redis.Prefix
		defer rc.Close()
		userOpts = append(userOpts, service.WithProfileCache(rc, time.Duration(cfg.Redis.ProfileTTLSec)*time.Second))
	}
	userSvc := service.NewUserService(userRepo, hasher, userOpts...)

	if cfg.Admin.Email != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		created, err := userSvc.EnsureAdmin(ctx, cfg.Admin.Email, cfg.Admin.Username, cfg.Admin.Password)
		cancel()
		if err != nil {
			log.Fatal("seed admin failed", zap.Error(err))
		}
		log.Info("admin account ready", zap.String("email", cfg.Admin.Email), zap.Bool("created", created),
			zap.String("sign_in", "POST /api/v1/auth/login"))
	}

	adminH := handler.NewAdminHandler(userSvc, log)

	// 路由（后台端）
	mode := gin.DebugMode
	if cfg.App.Env == "prod" || cfg.App.Env == "production" {
		mode = gin.ReleaseMode
	}
	base := server.NewRouter(log, server.Options{Mode: mode, CORSOrigins: cfg.CORS.Origins})
	r := router.NewAdminEngine(base, log, router.Limits{
		RequestTimeout: time.Duration(cfg.App.HTTP.RequestTimeoutSec) * time.Second,
		MaxBodyBytes:   cfg.App.HTTP.MaxBodyBytes,
		MaxInFlight:    cfg.App.HTTP.MaxInFlight,
	}, jwter, adminH)

	addr := server.Addr(cfg.App.Admin.Host, cfg.App.Admin.Port)
	srv := server.BuildServer(addr, r, 5*time.Second, 10*time.Second, 60*time.Second, log)

	host4human := cfg.App.Admin.Host
	if host4human == "" || host4human == "0.0.0.0" {
		host4human = "127.0.0.1"
	}
	baseURL := "http://" + host4human + ":" + fmt.Sprint(cfg.App.Admin.Port)
	log.Info("admin api starting",
		zap.String("addr", addr),
		zap.String("health", baseURL+"/health"),
		zap.String("admin_v1", baseURL+"/admin/v1"),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("admin api start FAILED", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("admin api stopped gracefully")
}

func mustOpenDB(cfg *config.Config, l *zap.Logger) *gorm.DB {
	db, err := database.NewGorm(database.Opts{
		Driver:             cfg.DB.Driver,
		DSN:                cfg.DB.DSN,
		Username:           cfg.DB.Username,
		Password:           cfg.DB.Password,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetimeMin: cfg.DB.ConnMaxLifetimeMin,
		LogLevel:           cfg.DB.LogLevel,
		Log:                l,
	})
	if err != nil {
		l.Fatal("db open", zap.Error(err))
	}
	return db
}
