package domain

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type Provider string

// 本服务只产出/消费 EMAIL 这一种 provider
const ProviderEmail Provider = "EMAIL"

type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Username      string     `json:"username"`
	PasswordHash  string     `json:"-"`
	Role          Role       `json:"role"`
	EmailVerified bool       `json:"emailVerified"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	DeletedAt     *time.Time `json:"deletedAt,omitempty"`

	// 仅 FindUserByIDWithEmailAccount 会填充
	Accounts []Account `json:"-"`
}

// Account 一个用户的一种登录凭据。
// RefreshToken 存的是最近一次签发的 refresh token 的哈希，nil 表示没有可续期的会话。
type Account struct {
	ID                string
	UserID            string
	Provider          Provider
	ProviderAccountID string
	RefreshToken      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (u *User) Deleted() bool { return u.DeletedAt != nil }

// EmailAccount 返回 EMAIL 账户，没有则 nil
func (u *User) EmailAccount() *Account {
	for i := range u.Accounts {
		if u.Accounts[i].Provider == ProviderEmail {
			return &u.Accounts[i]
		}
	}
	return nil
}

// PublicUser 对外暴露的用户投影（不含密码哈希）
type PublicUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	Role          Role   `json:"role"`
	EmailVerified bool   `json:"emailVerified"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
	}
}

// IdentityStore 会话核心需要的持久化能力。
// 查不到记录时返回 (nil, nil)。
type IdentityStore interface {
	FindUserByEmailOrUsername(ctx context.Context, email, username string) (*User, error)
	// CreateUserWithEmailAccount 在同一事务里创建用户和它的 EMAIL 账户。
	// 唯一索引冲突时返回 ErrDuplicateIdentity。
	CreateUserWithEmailAccount(ctx context.Context, email, username, passwordHash string) (*User, error)
	UpdateAccountRefreshHashByProviderKey(ctx context.Context, provider Provider, providerAccountID, hash string) error
	// FindUserByIDWithEmailAccount 包含软删用户，由调用方判断 DeletedAt。
	FindUserByIDWithEmailAccount(ctx context.Context, id string) (*User, error)
	UpdateAccountRefreshHashByID(ctx context.Context, accountID, hash string) error
}

// RefreshHashSwapper 可选能力：只有当存量哈希仍等于 expected 时才写入 next。
// 返回 false 表示已被别的请求抢先轮换。
type RefreshHashSwapper interface {
	SwapAccountRefreshHash(ctx context.Context, accountID, expected, next string) (bool, error)
}

// UserDirectory 管理端与 /me 用到的读写
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, f ListFilter) ([]User, int64, error)
	// CreateUserWithRole 与 CreateUserWithEmailAccount 相同，但角色随用户一起写入
	CreateUserWithRole(ctx context.Context, email, username, passwordHash string, role Role) (*User, error)
	SetRole(ctx context.Context, id string, role Role) error
	SoftDelete(ctx context.Context, id string) (bool, error)
	Restore(ctx context.Context, id string) (bool, error)
}

type ListFilter struct {
	Offset      int
	Limit       int
	Query       string // email/username 模糊搜
	WithDeleted bool
}
