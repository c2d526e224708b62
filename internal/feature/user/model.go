package user

import (
	"time"

	"gorm.io/gorm"

	"connect-api/internal/domain"
)

type UserModel struct {
	ID            string `gorm:"primaryKey;type:varchar(36)"`
	Email         string `gorm:"uniqueIndex;size:255;not null"`
	Username      string `gorm:"uniqueIndex;size:30;not null"`
	PasswordHash  string `gorm:"size:100;not null"`
	Role          string `gorm:"size:16;not null"`
	EmailVerified bool   `gorm:"not null"`

	Accounts []AccountModel `gorm:"foreignKey:UserID"`

	CreatedAt time.Time      `gorm:"autoCreateTime"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (UserModel) TableName() string { return "users" }

// AccountModel (provider, provider_account_id) 唯一
type AccountModel struct {
	ID                string  `gorm:"primaryKey;type:varchar(36)"`
	UserID            string  `gorm:"type:varchar(36);not null;index"`
	Provider          string  `gorm:"size:16;not null;uniqueIndex:idx_accounts_provider_key"`
	ProviderAccountID string  `gorm:"size:255;not null;uniqueIndex:idx_accounts_provider_key"`
	RefreshToken      *string `gorm:"size:100"` // 只存哈希

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (AccountModel) TableName() string { return "accounts" }

func (m *UserModel) ToDomain() *domain.User {
	u := &domain.User{
		ID:            m.ID,
		Email:         m.Email,
		Username:      m.Username,
		PasswordHash:  m.PasswordHash,
		Role:          domain.Role(m.Role),
		EmailVerified: m.EmailVerified,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.DeletedAt.Valid {
		t := m.DeletedAt.Time
		u.DeletedAt = &t
	}
	for _, a := range m.Accounts {
		u.Accounts = append(u.Accounts, a.ToDomain())
	}
	return u
}

func (a AccountModel) ToDomain() domain.Account {
	return domain.Account{
		ID:                a.ID,
		UserID:            a.UserID,
		Provider:          domain.Provider(a.Provider),
		ProviderAccountID: a.ProviderAccountID,
		RefreshToken:      a.RefreshToken,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

// Models AutoMigrate 用
func Models() []any { return []any{&UserModel{}, &AccountModel{}} }
