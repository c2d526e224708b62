package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"connect-api/internal/domain"
	"connect-api/internal/service"
	httpez "connect-api/internal/transport/http/ez"
)

type AdminAPI interface {
	List(ctx context.Context, page, size int, q string, withDeleted bool) (*service.Page, error)
	Ban(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
}

type AdminHandler struct {
	users AdminAPI
	log   *zap.Logger
}

func NewAdminHandler(users AdminAPI, l *zap.Logger) *AdminHandler {
	return &AdminHandler{users: users, log: l}
}

type listQ struct {
	Page        int    `form:"page,default=1"`
	Size        int    `form:"size,default=20"`
	Q           string `form:"q"`            // 按 email/username 模糊搜
	WithDeleted bool   `form:"with_deleted"` // 是否包含软删
}

type userRow struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username"`
	Role          string     `json:"role"`
	EmailVerified bool       `json:"emailVerified"`
	CreatedAt     time.Time  `json:"createdAt"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`
}

type listOut struct {
	Total int64     `json:"total"`
	Page  int       `json:"page"`
	Size  int       `json:"size"`
	Items []userRow `json:"items"`
}

type idOut struct {
	ID string `json:"id"`
}

// Mount admin 分组需已挂 AuthJWT + RequireRole(ADMIN)
func (h *AdminHandler) Mount(admin *gin.RouterGroup) {
	ez := httpez.New(admin, h.log)

	httpez.RegisterAction(ez, httpez.Action[listQ, listOut]{
		Method:  http.MethodGet,
		Path:    "/users",
		Binder:  httpez.BindQuery,
		Handler: h.list,
	})
	httpez.RegisterAction(ez, httpez.Action[struct{}, idOut]{
		Method:  http.MethodPost,
		Path:    "/users/:id/ban",
		Binder:  httpez.BindNone,
		Handler: h.ban,
	})
	httpez.RegisterAction(ez, httpez.Action[struct{}, idOut]{
		Method:  http.MethodPost,
		Path:    "/users/:id/restore",
		Binder:  httpez.BindNone,
		Handler: h.restore,
	})
}

func (h *AdminHandler) list(c *gin.Context, in *listQ) (listOut, error) {
	p, err := h.users.List(c.Request.Context(), in.Page, in.Size, in.Q, in.WithDeleted)
	if err != nil {
		return listOut{}, err
	}
	out := listOut{Total: p.Total, Page: p.Page, Size: p.Size, Items: make([]userRow, 0, len(p.Items))}
	for _, u := range p.Items {
		out.Items = append(out.Items, userRow{
			ID: u.ID, Email: u.Email, Username: u.Username, Role: string(u.Role),
			EmailVerified: u.EmailVerified, CreatedAt: u.CreatedAt, DeletedAt: u.DeletedAt,
		})
	}
	return out, nil
}

func (h *AdminHandler) ban(c *gin.Context, _ *struct{}) (idOut, error) {
	id := c.Param("id")
	if id == "" {
		return idOut{}, domain.Validation("missing id")
	}
	if err := h.users.Ban(c.Request.Context(), id); err != nil {
		return idOut{}, err
	}
	return idOut{ID: id}, nil
}

func (h *AdminHandler) restore(c *gin.Context, _ *struct{}) (idOut, error) {
	id := c.Param("id")
	if id == "" {
		return idOut{}, domain.Validation("missing id")
	}
	if err := h.users.Restore(c.Request.Context(), id); err != nil {
		return idOut{}, err
	}
	return idOut{ID: id}, nil
}
