package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"connect-api/internal/domain"
)

// 对外固定文案；refresh 校验失败统一成一条，不区分原因
const (
	MsgInvalidOrExpiredRefresh = "Invalid or expired refresh token"
	MsgUserNotFound            = "User not found"
	MsgNoActiveSession         = "No active session"
	MsgInvalidRefresh          = "Invalid refresh token"
	MsgInvalidCredentials      = "Invalid email or password"
)

type TokenSigner interface {
	SignAccess(subject, email, role string) (string, error)
	SignRefresh(subject string) (string, error)
	VerifyRefresh(token string) (subject string, err error)
}

// CredentialHasher 密码和落库的 refresh token 共用
type CredentialHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) bool
}

type AuthResult struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	User         domain.PublicUser `json:"user"`
}

// SessionService 注册与 refresh token 轮换。
// 一个 refresh token 只在被使用之前有效：每次成功 refresh 都会覆盖库里的哈希。
type SessionService struct {
	store  domain.IdentityStore
	signer TokenSigner
	hasher CredentialHasher
	log    *zap.Logger

	// strictRotation 开启后，写新哈希时比较旧哈希（需要 store 实现 RefreshHashSwapper）
	strictRotation bool
}

type SessionOption func(*SessionService)

func WithLogger(l *zap.Logger) SessionOption {
	return func(s *SessionService) { s.log = l }
}

func WithStrictRotation(on bool) SessionOption {
	return func(s *SessionService) { s.strictRotation = on }
}

func NewSessionService(store domain.IdentityStore, signer TokenSigner, hasher CredentialHasher, opts ...SessionOption) *SessionService {
	s := &SessionService{store: store, signer: signer, hasher: hasher, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	if s.strictRotation {
		if _, ok := store.(domain.RefreshHashSwapper); !ok {
			s.log.Warn("strict rotation requested but store cannot compare-and-swap; using plain update")
			s.strictRotation = false
		}
	}
	return s
}

func (s *SessionService) Register(ctx context.Context, email, username, password string) (*AuthResult, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	existing, err := s.store.FindUserByEmailOrUsername(ctx, email, username)
	if err != nil {
		return nil, domain.Internal("check user failed", err)
	}
	if existing != nil {
		return nil, conflictFor(existing, email)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, domain.Internal("hash password failed", err)
	}

	u, err := s.store.CreateUserWithEmailAccount(ctx, email, username, passwordHash)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateIdentity) {
			// 检查与写入之间被别人抢注
			return nil, s.conflictAfterRace(ctx, email, username)
		}
		return nil, domain.Internal("create user failed", err)
	}

	access, refresh, refreshHash, err := s.issue(u)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateAccountRefreshHashByProviderKey(ctx, domain.ProviderEmail, u.Email, refreshHash); err != nil {
		return nil, domain.Internal("store session failed", err)
	}

	s.log.Info("user registered", zap.String("user_id", u.ID))
	return &AuthResult{AccessToken: access, RefreshToken: refresh, User: u.Public()}, nil
}

// Login 邮箱 + 密码换新的一对 token，同时顶掉之前的 refresh token。
// 查无此人、密码错、已软删统一返回同一条 401。
func (s *SessionService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	u, err := s.store.FindUserByEmailOrUsername(ctx, email, email)
	if err != nil {
		return nil, domain.Internal("find user failed", err)
	}
	// 只按邮箱登录；命中的是 username 相同的另一个用户时也当作不存在
	if u == nil || u.Email != email || u.Deleted() || !s.hasher.Verify(password, u.PasswordHash) {
		return nil, domain.Unauthorized(MsgInvalidCredentials)
	}

	access, refresh, refreshHash, err := s.issue(u)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateAccountRefreshHashByProviderKey(ctx, domain.ProviderEmail, u.Email, refreshHash); err != nil {
		return nil, domain.Internal("store session failed", err)
	}

	s.log.Info("user logged in", zap.String("user_id", u.ID))
	return &AuthResult{AccessToken: access, RefreshToken: refresh, User: u.Public()}, nil
}

// Refresh 顺序固定：先校验，后写入。
//
// 同一个 token 并发 refresh 时，两个请求可能都通过校验再各自写入，
// 两边都返回成功，最后写入的那个 token 才是有效的。这是已接受的窗口；
// 需要单赢家语义时开启 strictRotation。
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	sub, err := s.signer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, domain.Unauthorized(MsgInvalidOrExpiredRefresh)
	}

	u, err := s.store.FindUserByIDWithEmailAccount(ctx, sub)
	if err != nil {
		return nil, domain.Internal("load user failed", err)
	}
	if u == nil || u.Deleted() {
		return nil, domain.Unauthorized(MsgUserNotFound)
	}

	acc := u.EmailAccount()
	if acc == nil || acc.RefreshToken == nil || *acc.RefreshToken == "" {
		return nil, domain.Unauthorized(MsgNoActiveSession)
	}
	stored := *acc.RefreshToken

	// 签名有效但已被轮换掉的 token 在这里被拒
	if !s.hasher.Verify(refreshToken, stored) {
		s.log.Warn("refresh token rejected by stored hash", zap.String("user_id", u.ID))
		return nil, domain.Unauthorized(MsgInvalidRefresh)
	}

	access, refresh, refreshHash, err := s.issue(u)
	if err != nil {
		return nil, err
	}

	if s.strictRotation {
		won, err := s.store.(domain.RefreshHashSwapper).SwapAccountRefreshHash(ctx, acc.ID, stored, refreshHash)
		if err != nil {
			return nil, domain.Internal("rotate session failed", err)
		}
		if !won {
			s.log.Warn("refresh token lost rotation race", zap.String("user_id", u.ID))
			return nil, domain.Unauthorized(MsgInvalidRefresh)
		}
	} else if err := s.store.UpdateAccountRefreshHashByID(ctx, acc.ID, refreshHash); err != nil {
		return nil, domain.Internal("rotate session failed", err)
	}

	return &AuthResult{AccessToken: access, RefreshToken: refresh, User: u.Public()}, nil
}

// issue 并发签发 access/refresh，两个都成功后再哈希 refresh
func (s *SessionService) issue(u *domain.User) (access, refresh, refreshHash string, err error) {
	var g errgroup.Group
	g.Go(func() error {
		var e error
		access, e = s.signer.SignAccess(u.ID, u.Email, string(u.Role))
		return e
	})
	g.Go(func() error {
		var e error
		refresh, e = s.signer.SignRefresh(u.ID)
		return e
	})
	if err = g.Wait(); err != nil {
		return "", "", "", domain.Internal("issue token failed", err)
	}

	refreshHash, err = s.hasher.Hash(refresh)
	if err != nil {
		return "", "", "", domain.Internal("hash refresh token failed", err)
	}
	return access, refresh, refreshHash, nil
}

// email 优先：两个字段都撞时报 email
func conflictFor(existing *domain.User, email string) error {
	field := "username"
	if existing.Email == email {
		field = "email"
	}
	return domain.Conflict(fmt.Sprintf("User with this %s already exists", field))
}

func (s *SessionService) conflictAfterRace(ctx context.Context, email, username string) error {
	existing, err := s.store.FindUserByEmailOrUsername(ctx, email, username)
	if err != nil || existing == nil {
		return domain.Conflict("User with this email already exists")
	}
	return conflictFor(existing, email)
}
