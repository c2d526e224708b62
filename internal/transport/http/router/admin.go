package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"connect-api/internal/domain"
	"connect-api/internal/transport/http/handler"
	mdw "connect-api/internal/transport/http/middleware"
)

// NewAdminEngine 管理端 /admin/v1，统一要求 ADMIN
func NewAdminEngine(base *gin.Engine, l *zap.Logger, lim Limits, verifier mdw.AccessVerifier, adminH *handler.AdminHandler) *gin.Engine {
	useCommon(base, l, lim)

	admin := base.Group("/admin/v1")
	admin.Use(mdw.AuthJWT(verifier), mdw.RequireRole(domain.RoleAdmin))

	adminH.Mount(admin)
	return base
}
