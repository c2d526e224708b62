package service

import (
	"context"
	"sync"
	"time"

	"connect-api/internal/domain"
	"connect-api/pkg/utils"
)

// memStore 内存版 IdentityStore / UserDirectory，返回的都是快照
type memStore struct {
	mu       sync.Mutex
	users    map[string]*domain.User // by id
	accounts map[string]*domain.Account

	writes int

	createErr error
	updateErr error
	findHook  func(calls int) (*domain.User, bool) // 返回 true 时替代真实查询
	findCalls int

	// loadBarrier 非空时 FindUserByIDWithEmailAccount 读完快照后在此等待
	loadBarrier *sync.WaitGroup
}

func newMemStore() *memStore {
	return &memStore{users: map[string]*domain.User{}, accounts: map[string]*domain.Account{}}
}

func (s *memStore) snapshot(u *domain.User, withAccount bool) *domain.User {
	cp := *u
	cp.Accounts = nil
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		cp.DeletedAt = &t
	}
	if withAccount {
		for _, a := range s.accounts {
			if a.UserID == u.ID && a.Provider == domain.ProviderEmail {
				ac := *a
				if a.RefreshToken != nil {
					h := *a.RefreshToken
					ac.RefreshToken = &h
				}
				cp.Accounts = append(cp.Accounts, ac)
			}
		}
	}
	return &cp
}

func (s *memStore) FindUserByEmailOrUsername(_ context.Context, email, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	if s.findHook != nil {
		if u, ok := s.findHook(s.findCalls); ok {
			return u, nil
		}
	}
	for _, u := range s.users {
		if u.Email == email || u.Username == username {
			return s.snapshot(u, false), nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateUserWithEmailAccount(ctx context.Context, email, username, passwordHash string) (*domain.User, error) {
	return s.CreateUserWithRole(ctx, email, username, passwordHash, domain.RoleUser)
}

func (s *memStore) CreateUserWithRole(_ context.Context, email, username, passwordHash string, role domain.Role) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	for _, u := range s.users {
		if u.Email == email || u.Username == username {
			return nil, domain.ErrDuplicateIdentity
		}
	}
	s.writes++
	now := time.Now()
	u := &domain.User{
		ID: utils.NewID(), Email: email, Username: username, PasswordHash: passwordHash,
		Role: role, CreatedAt: now, UpdatedAt: now,
	}
	a := &domain.Account{
		ID: utils.NewID(), UserID: u.ID, Provider: domain.ProviderEmail, ProviderAccountID: email,
		CreatedAt: now, UpdatedAt: now,
	}
	s.users[u.ID] = u
	s.accounts[a.ID] = a
	return s.snapshot(u, true), nil
}

func (s *memStore) UpdateAccountRefreshHashByProviderKey(_ context.Context, provider domain.Provider, providerAccountID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	for _, a := range s.accounts {
		if a.Provider == provider && a.ProviderAccountID == providerAccountID {
			s.writes++
			h := hash
			a.RefreshToken = &h
			return nil
		}
	}
	return errNoAccount
}

func (s *memStore) FindUserByIDWithEmailAccount(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	var out *domain.User
	if u, ok := s.users[id]; ok {
		out = s.snapshot(u, true)
	}
	barrier := s.loadBarrier
	s.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	return out, nil
}

func (s *memStore) UpdateAccountRefreshHashByID(_ context.Context, accountID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return errNoAccount
	}
	s.writes++
	h := hash
	a.RefreshToken = &h
	return nil
}

// ---------- UserDirectory ----------

func (s *memStore) FindByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Deleted() {
		return nil, nil
	}
	return s.snapshot(u, false), nil
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return s.snapshot(u, false), nil
		}
	}
	return nil, nil
}

func (s *memStore) List(_ context.Context, f domain.ListFilter) ([]domain.User, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.User
	for _, u := range s.users {
		if u.Deleted() && !f.WithDeleted {
			continue
		}
		out = append(out, *s.snapshot(u, false))
	}
	return out, int64(len(out)), nil
}

func (s *memStore) SetRole(_ context.Context, id string, role domain.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		s.writes++
		u.Role = role
	}
	return nil
}

func (s *memStore) SoftDelete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Deleted() {
		return false, nil
	}
	s.writes++
	now := time.Now()
	u.DeletedAt = &now
	return true, nil
}

func (s *memStore) Restore(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || !u.Deleted() {
		return false, nil
	}
	s.writes++
	u.DeletedAt = nil
	return true, nil
}

// ---------- 测试辅助 ----------

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) storedHash(userID string) *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.UserID == userID && a.Provider == domain.ProviderEmail {
			if a.RefreshToken == nil {
				return nil
			}
			h := *a.RefreshToken
			return &h
		}
	}
	return nil
}

func (s *memStore) clearHash(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.UserID == userID {
			a.RefreshToken = nil
		}
	}
}

func (s *memStore) markDeleted(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.users[userID].DeletedAt = &now
}

// swapStore 在 memStore 基础上支持比较后写入
type swapStore struct{ *memStore }

func (s swapStore) SwapAccountRefreshHash(_ context.Context, accountID, expected, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || a.RefreshToken == nil || *a.RefreshToken != expected {
		return false, nil
	}
	s.writes++
	h := next
	a.RefreshToken = &h
	return true, nil
}

type storeErr string

func (e storeErr) Error() string { return string(e) }

const errNoAccount = storeErr("no account")
