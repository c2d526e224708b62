package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"connect-api/internal/core/cache"
	"connect-api/internal/domain"
)

const DefaultProfileTTL = time.Minute

type UserStore interface {
	domain.IdentityStore
	domain.UserDirectory
}

// ProfileCache 可为 nil，此时每次都查库
type ProfileCache interface {
	cache.Loader
	Delete(ctx context.Context, keys ...string) error
}

type UserService struct {
	store  UserStore
	hasher CredentialHasher
	cache  ProfileCache
	ttl    time.Duration
	log    *zap.Logger
}

type UserOption func(*UserService)

func WithProfileCache(c ProfileCache, ttl time.Duration) UserOption {
	return func(s *UserService) {
		s.cache = c
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithUserLogger(l *zap.Logger) UserOption {
	return func(s *UserService) { s.log = l }
}

func NewUserService(store UserStore, hasher CredentialHasher, opts ...UserOption) *UserService {
	s := &UserService{store: store, hasher: hasher, ttl: DefaultProfileTTL, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func profileKey(id string) string { return "user:profile:" + id }

// Profile 当前用户的公开资料；已软删视为不存在
func (s *UserService) Profile(ctx context.Context, id string) (*domain.PublicUser, error) {
	load := func(ctx context.Context) (*domain.PublicUser, error) {
		u, err := s.store.FindByID(ctx, id)
		if err != nil {
			return nil, domain.Internal("load profile failed", err)
		}
		if u == nil {
			return nil, domain.Unauthorized(MsgUserNotFound)
		}
		p := u.Public()
		return &p, nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	p, err := cache.GetOrLoadJSON(s.cache, ctx, profileKey(id), s.ttl, load)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.Unauthorized(MsgUserNotFound)
	}
	return p, nil
}

type Page struct {
	Items []domain.User `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Size  int           `json:"size"`
}

func (s *UserService) List(ctx context.Context, page, size int, q string, withDeleted bool) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	items, total, err := s.store.List(ctx, domain.ListFilter{
		Offset:      (page - 1) * size,
		Limit:       size,
		Query:       strings.TrimSpace(q),
		WithDeleted: withDeleted,
	})
	if err != nil {
		return nil, domain.Internal("list users failed", err)
	}
	if items == nil {
		items = []domain.User{}
	}
	return &Page{Items: items, Total: total, Page: page, Size: size}, nil
}

// Ban 软删；之后该用户的 refresh 与 /me 都会被拒
func (s *UserService) Ban(ctx context.Context, id string) error {
	ok, err := s.store.SoftDelete(ctx, id)
	if err != nil {
		return domain.Internal("ban user failed", err)
	}
	if !ok {
		return domain.NotFound("User not found")
	}
	s.evict(ctx, id)
	s.log.Info("user banned", zap.String("user_id", id))
	return nil
}

func (s *UserService) Restore(ctx context.Context, id string) error {
	ok, err := s.store.Restore(ctx, id)
	if err != nil {
		return domain.Internal("restore user failed", err)
	}
	if !ok {
		return domain.NotFound("User not found or not banned")
	}
	s.evict(ctx, id)
	s.log.Info("user restored", zap.String("user_id", id))
	return nil
}

// EnsureAdmin 启动时调用：邮箱不存在则创建 ADMIN（之后用该密码走 /auth/login），
// 存在但不是 ADMIN 则提权。不修改已有用户的密码。
func (s *UserService) EnsureAdmin(ctx context.Context, email, username, password string) (created bool, err error) {
	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return false, domain.Internal("find admin failed", err)
	}
	if u != nil {
		if u.Role != domain.RoleAdmin {
			if err := s.store.SetRole(ctx, u.ID, domain.RoleAdmin); err != nil {
				return false, domain.Internal("promote admin failed", err)
			}
			s.evict(ctx, u.ID)
		}
		return false, nil
	}

	if err := ValidatePassword(password); err != nil {
		return false, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, domain.Internal("hash password failed", err)
	}
	if _, err := s.store.CreateUserWithRole(ctx, email, username, hash, domain.RoleAdmin); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdentity) {
			return false, domain.Conflict("User with this username already exists")
		}
		return false, domain.Internal("create admin failed", err)
	}
	return true, nil
}

func (s *UserService) evict(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, profileKey(id)); err != nil {
		s.log.Warn("evict profile cache failed", zap.String("user_id", id), zap.Error(err))
	}
}
