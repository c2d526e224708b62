package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"connect-api/internal/domain"
	"connect-api/internal/feature/user"
	"connect-api/pkg/utils"
)

var ErrAccountNotFound = errors.New("account not found")

type UserRepo struct{ db *gorm.DB }

func NewUserRepo(db *gorm.DB) *UserRepo { return &UserRepo{db: db} }

var (
	_ domain.IdentityStore      = (*UserRepo)(nil)
	_ domain.RefreshHashSwapper = (*UserRepo)(nil)
	_ domain.UserDirectory      = (*UserRepo)(nil)
)

// ---------- 会话核心 ----------

// FindUserByEmailOrUsername 一次查询同时判断两个字段；软删用户同样占用唯一索引
func (r *UserRepo) FindUserByEmailOrUsername(ctx context.Context, email, username string) (*domain.User, error) {
	var m user.UserModel
	err := r.db.WithContext(ctx).Unscoped().
		Where("email = ? OR username = ?", email, username).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email or username: %w", err)
	}
	return m.ToDomain(), nil
}

func (r *UserRepo) CreateUserWithEmailAccount(ctx context.Context, email, username, passwordHash string) (*domain.User, error) {
	return r.CreateUserWithRole(ctx, email, username, passwordHash, domain.RoleUser)
}

// CreateUserWithRole 用户、角色和 EMAIL 账户在同一事务里落库
func (r *UserRepo) CreateUserWithRole(ctx context.Context, email, username, passwordHash string, role domain.Role) (*domain.User, error) {
	m := user.UserModel{
		ID:           utils.NewID(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         string(role),
	}
	acc := user.AccountModel{
		ID:                utils.NewID(),
		UserID:            m.ID,
		Provider:          string(domain.ProviderEmail),
		ProviderAccountID: email,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		return tx.Create(&acc).Error
	})
	if err != nil {
		if isDupKey(err) {
			return nil, domain.ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	m.Accounts = []user.AccountModel{acc}
	return m.ToDomain(), nil
}

func (r *UserRepo) UpdateAccountRefreshHashByProviderKey(ctx context.Context, provider domain.Provider, providerAccountID, hash string) error {
	res := r.db.WithContext(ctx).Model(&user.AccountModel{}).
		Where("provider = ? AND provider_account_id = ?", string(provider), providerAccountID).
		Update("refresh_token", hash)
	if res.Error != nil {
		return fmt.Errorf("update account refresh token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// FindUserByIDWithEmailAccount 包含软删用户，只预加载 EMAIL 账户
func (r *UserRepo) FindUserByIDWithEmailAccount(ctx context.Context, id string) (*domain.User, error) {
	var m user.UserModel
	err := r.db.WithContext(ctx).Unscoped().
		Preload("Accounts", "provider = ?", string(domain.ProviderEmail)).
		Where("id = ?", id).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return m.ToDomain(), nil
}

func (r *UserRepo) UpdateAccountRefreshHashByID(ctx context.Context, accountID, hash string) error {
	res := r.db.WithContext(ctx).Model(&user.AccountModel{}).
		Where("id = ?", accountID).
		Update("refresh_token", hash)
	if res.Error != nil {
		return fmt.Errorf("update account refresh token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SwapAccountRefreshHash 单条 UPDATE 带旧值条件，输家影响 0 行
func (r *UserRepo) SwapAccountRefreshHash(ctx context.Context, accountID, expected, next string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&user.AccountModel{}).
		Where("id = ? AND refresh_token = ?", accountID, expected).
		Update("refresh_token", next)
	if res.Error != nil {
		return false, fmt.Errorf("swap account refresh token: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ---------- 管理端 / 个人资料 ----------

func (r *UserRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var m user.UserModel
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return m.ToDomain(), nil
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var m user.UserModel
	err := r.db.WithContext(ctx).Unscoped().First(&m, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return m.ToDomain(), nil
}

func (r *UserRepo) List(ctx context.Context, f domain.ListFilter) ([]domain.User, int64, error) {
	q := r.db.WithContext(ctx).Model(&user.UserModel{})
	if f.WithDeleted {
		q = q.Unscoped()
	}
	if s := strings.TrimSpace(f.Query); s != "" {
		like := "%" + s + "%"
		q = q.Where("email LIKE ? OR username LIKE ?", like, like)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	var ms []user.UserModel
	if err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&ms).Error; err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	out := make([]domain.User, 0, len(ms))
	for i := range ms {
		out = append(out, *ms[i].ToDomain())
	}
	return out, total, nil
}

func (r *UserRepo) SetRole(ctx context.Context, id string, role domain.Role) error {
	res := r.db.WithContext(ctx).Unscoped().Model(&user.UserModel{}).
		Where("id = ?", id).
		Update("role", string(role))
	if res.Error != nil {
		return fmt.Errorf("set role: %w", res.Error)
	}
	return nil
}

// SoftDelete 写 deleted_at，不物理删除
func (r *UserRepo) SoftDelete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&user.UserModel{})
	if res.Error != nil {
		return false, fmt.Errorf("soft delete user: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *UserRepo) Restore(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Unscoped().Model(&user.UserModel{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Updates(map[string]any{"deleted_at": nil, "updated_at": time.Now()})
	if res.Error != nil {
		return false, fmt.Errorf("restore user: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func isDupKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// 不开 TranslateError 时只能看驱动原文
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation") ||
		strings.Contains(msg, "sqlstate 23505")
}
