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
	log, cleanup := newLogger(cfg)
	defer cleanup()
	defer logger.RedirectStdLog(log, zapcore.InfoLevel)()

	// 数据库（失败会直接 Fatal）
	db := mustOpenDB(cfg, log)
	log.Info("database connected", zap.String("driver", cfg.DB.Driver))

	if cfg.DB.AutoMigrate {
		if err := database.Migrate(db, user.Models()...); err != nil {
			log.Fatal("automigrate failed", zap.Error(err))
		}
		log.Info("automigrate done")
	}

	jwter := &auth.JWTer{
		Secret:     []byte(cfg.JWT.Secret),
		Issuer:     cfg.JWT.Issuer,
		TTL:        cfg.JWT.AccessTTL(),
		RefreshTTL: cfg.JWT.RefreshTTL(),
	}
	hasher := utils.NewHasher(cfg.Password.BcryptCost)
	userRepo := repo.NewUserRepo(db)

	sessions := service.NewSessionService(userRepo, jwter, hasher,
		service.WithLogger(log.Named("session")),
		service.WithStrictRotation(cfg.Session.StrictRotation),
	)

	userOpts := []service.UserOption{service.WithUserLogger(log.Named("user"))}
	if rc := openCache(cfg, log); rc != nil {
		defer rc.Close()
		userOpts = append(userOpts, service.WithProfileCache(rc, time.Duration(cfg.Redis.ProfileTTLSec)*time.Second))
	}
	users := service.NewUserService(userRepo, hasher, userOpts...)

	// 路由（用户端）
	base := server.NewRouter(log, server.Options{Mode: ginMode(cfg.App.Env), CORSOrigins: cfg.CORS.Origins})
	r := router.NewAPIEngine(base, log, limits(cfg), jwter, handler.NewAuthHandler(sessions, users, log))

	addr := server.Addr(cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	srv := server.BuildServer(
		addr, r,
		time.Duration(cfg.App.HTTP.ReadTimeoutSec)*time.Second,
		time.Duration(cfg.App.HTTP.WriteTimeoutSec)*time.Second,
		time.Duration(cfg.App.HTTP.IdleTimeoutSec)*time.Second,
		log,
	)

	host4human := cfg.App.HTTP.Host
	if host4human == "" || host4human == "0.0.0.0" {
		host4human = "127.0.0.1"
	}
	baseURL := "http://" + host4human + ":" + fmt.Sprint(cfg.App.HTTP.Port)
	log.Info("user api starting",
		zap.String("addr", addr),
		zap.String("health", baseURL+"/health"),
		zap.String("api_v1", baseURL+"/api/v1"),
		zap.Bool("strict_rotation", cfg.Session.StrictRotation),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("user api start FAILED", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	log.Info("user api stopped gracefully")
}

func newLogger(cfg *config.Config) (*zap.Logger, func()) {
	f := cfg.Log.File
	if f.Enable {
		return logger.NewWithRotate(cfg.Log.Level, cfg.Log.JSON, logger.FileRotate{
			Enable: true, Filename: f.Filename, MaxSizeMB: f.MaxSizeMB,
			MaxBackups: f.MaxBackups, MaxAgeDays: f.MaxAgeDays, Compress: f.Compress,
		})
	}
	return logger.New(cfg.Log.Level, cfg.Log.JSON)
}

func ginMode(env string) string {
	if env == "prod" || env == "production" {
		return gin.ReleaseMode
	}
	return gin.DebugMode
}

func limits(cfg *config.Config) router.Limits {
	return router.Limits{
		RequestTimeout: time.Duration(cfg.App.HTTP.RequestTimeoutSec) * time.Second,
		MaxBodyBytes:   cfg.App.HTTP.MaxBodyBytes,
		MaxInFlight:    cfg.App.HTTP.MaxInFlight,
	}
}

// openCache redis.addr 为空或连不上都返回 nil，资料接口退化为直查库
func openCache(cfg *config.Config, l *zap.Logger) *cache.Cache {
	if cfg.Redis.Addr == "" {
		return nil
	}
	c := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	c.Prefix = cfg.Redis.Prefix
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		l.Warn("redis unavailable, profile cache disabled", zap.Error(err))
		_ = c.Close()
		return nil
	}
	l.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	return c
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
