package middleware

import (
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"connect-api/internal/core/auth"
	"connect-api/internal/domain"
	resp "connect-api/internal/transport/http/response"
)

// gin.Context 上的 key
const (
	KeyUserID = "userId"
	KeyRole   = "role"
	KeyEmail  = "email"
)

const (
	MsgMissingAuthHeader = "Missing or invalid authorization header"
	MsgInvalidToken      = "Invalid or expired token"
	MsgForbidden         = "Insufficient permissions"
)

type AccessVerifier interface {
	VerifyAccess(token string) (*auth.Claims, error)
}

// AuthJWT 校验 Bearer access token，通过后写入 userId/role/email
func AuthJWT(v AccessVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ah := c.GetHeader("Authorization")
		tok, ok := strings.CutPrefix(ah, "Bearer ")
		if !ok || strings.TrimSpace(tok) == "" {
			resp.Abort(c, resp.CodeUnauthorized, MsgMissingAuthHeader)
			return
		}
		claims, err := v.VerifyAccess(strings.TrimSpace(tok))
		if err != nil {
			resp.Abort(c, resp.CodeUnauthorized, MsgInvalidToken)
			return
		}
		c.Set(KeyUserID, claims.Subject)
		c.Set(KeyRole, claims.Role)
		c.Set(KeyEmail, claims.Email)
		c.Next()
	}
}

// RequireRole 必须挂在 AuthJWT 之后
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := domain.Role(c.GetString(KeyRole))
		if !slices.Contains(roles, role) {
			resp.Abort(c, resp.CodeForbidden, MsgForbidden)
			return
		}
		c.Next()
	}
}
