package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"connect-api/internal/domain"
	"connect-api/pkg/utils"
)

// mapCache 进程内的 ProfileCache
type mapCache struct {
	mu    sync.Mutex
	data  map[string][]byte
	loads int
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]byte{}} }

func (c *mapCache) GetOrLoad(ctx context.Context, key string, _ time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	if b, ok := c.data[key]; ok {
		c.mu.Unlock()
		return b, nil
	}
	c.mu.Unlock()

	b, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.loads++
	c.data[key] = b
	c.mu.Unlock()
	return b, nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func seedUser(t *testing.T, store *memStore, email, username string) *domain.User {
	t.Helper()
	u, err := store.CreateUserWithEmailAccount(context.Background(), email, username, "h")
	require.NoError(t, err)
	return u
}

func TestProfile_Uncached(t *testing.T) {
	store := newMemStore()
	u := seedUser(t, store, "a@x.com", "alice")
	svc := NewUserService(store, utils.NewHasher(bcrypt.MinCost))

	p, err := svc.Profile(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Public(), *p)

	_, err = svc.Profile(context.Background(), "missing")
	assertKind(t, err, domain.KindUnauthorized, MsgUserNotFound)
}

func TestProfile_CachedUntilBan(t *testing.T) {
	store := newMemStore()
	u := seedUser(t, store, "a@x.com", "alice")
	c := newMapCache()
	svc := NewUserService(store, utils.NewHasher(bcrypt.MinCost), WithProfileCache(c, time.Minute))
	ctx := context.Background()

	_, err := svc.Profile(ctx, u.ID)
	require.NoError(t, err)
	_, err = svc.Profile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.loads)

	require.NoError(t, svc.Ban(ctx, u.ID))
	_, err = svc.Profile(ctx, u.ID)
	assertKind(t, err, domain.KindUnauthorized, MsgUserNotFound)
}

func TestProfile_MissIsNotCached(t *testing.T) {
	store := newMemStore()
	c := newMapCache()
	svc := NewUserService(store, utils.NewHasher(bcrypt.MinCost), WithProfileCache(c, 0))

	_, err := svc.Profile(context.Background(), "nobody")
	require.Error(t, err)
	assert.Empty(t, c.data)
	assert.Equal(t, DefaultProfileTTL, svc.ttl)
}

func TestBanAndRestore(t *testing.T) {
	store := newMemStore()
	u := seedUser(t, store, "a@x.com", "alice")
	svc := NewUserService(store, utils.NewHasher(bcrypt.MinCost))
	ctx := context.Background()

	require.NoError(t, svc.Ban(ctx, u.ID))
	assertKind(t, svc.Ban(ctx, u.ID), domain.KindNotFound, "")

	page, err := svc.List(ctx, 1, 20, "", false)
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	page, err = svc.List(ctx, 1, 20, "", true)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.NotNil(t, page.Items[0].DeletedAt)

	require.NoError(t, svc.Restore(ctx, u.ID))
	assertKind(t, svc.Restore(ctx, u.ID), domain.KindNotFound, "")
	assertKind(t, svc.Ban(ctx, "missing"), domain.KindNotFound, "User not found")
}

func TestList_ClampsPaging(t *testing.T) {
	store := newMemStore()
	seedUser(t, store, "a@x.com", "alice")
	svc := NewUserService(store, utils.NewHasher(bcrypt.MinCost))

	page, err := svc.List(context.Background(), 0, 1000, "  ", false)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Size)
	assert.EqualValues(t, 1, page.Total)
}

func TestEnsureAdmin(t *testing.T) {
	store := newMemStore()
	hasher := utils.NewHasher(bcrypt.MinCost)
	svc := NewUserService(store, hasher)
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "root@x.com", "root", "Admin1234")
	require.NoError(t, err)
	assert.True(t, created)

	u, err := store.FindByEmail(ctx, "root@x.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, domain.RoleAdmin, u.Role)
	assert.True(t, hasher.Verify("Admin1234", u.PasswordHash))

	// 再次调用是幂等的
	created, err = svc.EnsureAdmin(ctx, "root@x.com", "root", "Admin1234")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnsureAdmin_PromotesExisting(t *testing.T) {
	store := newMemStore()
	u := seedUser(t, store, "a@x.com", "alice")
	svc := NewUserService(store, utils.NewHasher(bcrypt.MinCost))

	created, err := svc.EnsureAdmin(context.Background(), "a@x.com", "alice", "whatever")
	require.NoError(t, err)
	assert.False(t, created)

	got, _ := store.FindByID(context.Background(), u.ID)
	assert.Equal(t, domain.RoleAdmin, got.Role)
}

func TestEnsureAdmin_WeakPassword(t *testing.T) {
	svc := NewUserService(newMemStore(), utils.NewHasher(bcrypt.MinCost))
	_, err := svc.EnsureAdmin(context.Background(), "root@x.com", "root", "weak")
	assertKind(t, err, domain.KindValidation, MsgPasswordPolicy)
}

func TestEnsureAdmin_SeededAdminCanLogIn(t *testing.T) {
	store := newMemStore()
	sessions, signer, hasher := newTestSession(t, store)
	users := NewUserService(store, hasher)
	ctx := context.Background()

	created, err := users.EnsureAdmin(ctx, "root@x.com", "root", "Admin1234")
	require.NoError(t, err)
	require.True(t, created)
	// 用户和角色一次写入
	assert.Equal(t, 1, store.writeCount())

	res, err := sessions.Login(ctx, "root@x.com", "Admin1234")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, res.User.Role)

	claims, err := signer.VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, string(domain.RoleAdmin), claims.Role)

	// refresh 之后仍是 ADMIN
	next, err := sessions.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	claims, err = signer.VerifyAccess(next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, string(domain.RoleAdmin), claims.Role)
}

func TestEnsureAdmin_UsernameTaken(t *testing.T) {
	store := newMemStore()
	seedUser(t, store, "a@x.com", "root")
	svc := NewUserService(store, utils.NewHasher(bcrypt.MinCost))
	writes := store.writeCount()

	_, err := svc.EnsureAdmin(context.Background(), "root@x.com", "root", "Admin1234")
	assertKind(t, err, domain.KindConflict, "User with this username already exists")
	assert.Equal(t, writes, store.writeCount())

	u, err := store.FindByEmail(context.Background(), "root@x.com")
	require.NoError(t, err)
	assert.Nil(t, u)
}
