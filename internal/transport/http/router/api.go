package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"connect-api/internal/core/server"
	"connect-api/internal/transport/http/handler"
	mdw "connect-api/internal/transport/http/middleware"
)

type Limits struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	MaxInFlight    int64
}

func useCommon(r *gin.Engine, l *zap.Logger, lim Limits) {
	r.Use(
		mdw.RequestID(),
		mdw.ConcurrencyLimit(lim.MaxInFlight),
		mdw.MaxBodyBytes(lim.MaxBodyBytes),
		mdw.Timeout(lim.RequestTimeout),
		mdw.Metrics(),
		mdw.AccessLog(l),
	)
	r.GET("/health", server.Health)
	r.GET("/metrics", mdw.MetricsHandler())
}

// NewAPIEngine 用户端：/api/v1/auth/register、/api/v1/auth/refresh、/api/v1/me
func NewAPIEngine(base *gin.Engine, l *zap.Logger, lim Limits, verifier mdw.AccessVerifier, authH *handler.AuthHandler) *gin.Engine {
	useCommon(base, l, lim)

	api := base.Group("/api/v1")
	authed := api.Group("")
	authed.Use(mdw.AuthJWT(verifier))

	authH.Mount(api, authed)
	return base
}
