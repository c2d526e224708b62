package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"connect-api/internal/domain"
	"connect-api/internal/service"
	httpez "connect-api/internal/transport/http/ez"
	mdw "connect-api/internal/transport/http/middleware"
)

type SessionAPI interface {
	Register(ctx context.Context, email, username, password string) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error)
}

type ProfileAPI interface {
	Profile(ctx context.Context, id string) (*domain.PublicUser, error)
}

type AuthHandler struct {
	sessions SessionAPI
	profiles ProfileAPI
	log      *zap.Logger
}

func NewAuthHandler(sessions SessionAPI, profiles ProfileAPI, l *zap.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, profiles: profiles, log: l}
}

type registerIn struct {
	Email    string `json:"email"    binding:"required,email"`
	Username string `json:"username" binding:"required,min=3,max=30"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type loginIn struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required,max=128"`
}

// 字段必须存在，空串交给签名校验去拒
type refreshIn struct {
	RefreshToken *string `json:"refreshToken" binding:"required"`
}

// Mount public 挂 /auth/register、/auth/login、/auth/refresh，authed 需已挂 AuthJWT
func (h *AuthHandler) Mount(public, authed *gin.RouterGroup) {
	ezPublic := httpez.New(public, h.log)

	httpez.RegisterAction(ezPublic, httpez.Action[registerIn, *service.AuthResult]{
		Method:  http.MethodPost,
		Path:    "/auth/register",
		Binder:  httpez.BindJSON,
		Status:  http.StatusCreated,
		Handler: h.register,
	})
	httpez.RegisterAction(ezPublic, httpez.Action[loginIn, *service.AuthResult]{
		Method:  http.MethodPost,
		Path:    "/auth/login",
		Binder:  httpez.BindJSON,
		Handler: h.login,
	})
	httpez.RegisterAction(ezPublic, httpez.Action[refreshIn, *service.AuthResult]{
		Method:  http.MethodPost,
		Path:    "/auth/refresh",
		Binder:  httpez.BindJSON,
		Handler: h.refresh,
	})

	httpez.RegisterAction(httpez.New(authed, h.log), httpez.Action[struct{}, *domain.PublicUser]{
		Method:  http.MethodGet,
		Path:    "/me",
		Binder:  httpez.BindNone,
		Handler: h.me,
	})
}

func (h *AuthHandler) register(c *gin.Context, in *registerIn) (*service.AuthResult, error) {
	res, err := h.sessions.Register(c.Request.Context(), in.Email, in.Username, in.Password)
	mdw.ObserveAuth("register", outcome(err))
	return res, err
}

func (h *AuthHandler) login(c *gin.Context, in *loginIn) (*service.AuthResult, error) {
	res, err := h.sessions.Login(c.Request.Context(), in.Email, in.Password)
	mdw.ObserveAuth("login", outcome(err))
	return res, err
}

func (h *AuthHandler) refresh(c *gin.Context, in *refreshIn) (*service.AuthResult, error) {
	res, err := h.sessions.Refresh(c.Request.Context(), *in.RefreshToken)
	mdw.ObserveAuth("refresh", outcome(err))
	return res, err
}

func (h *AuthHandler) me(c *gin.Context, _ *struct{}) (*domain.PublicUser, error) {
	uid := c.GetString(mdw.KeyUserID)
	if uid == "" {
		return nil, domain.Unauthorized(mdw.MsgMissingAuthHeader)
	}
	return h.profiles.Profile(c.Request.Context(), uid)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return domain.KindOf(err).String()
}
