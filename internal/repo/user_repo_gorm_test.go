package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"connect-api/internal/domain"
)

var userCols = []string{
	"id", "email", "username", "password_hash", "role", "email_verified",
	"created_at", "updated_at", "deleted_at",
}

func newRepoWithMock(t *testing.T) (*UserRepo, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewUserRepo(db), mock
}

func TestFindUserByEmailOrUsername_Found(t *testing.T) {
	r, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM "users" WHERE .*email = \$1 OR username = \$2`).
		WithArgs("a@x.com", "alice", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "a@x.com", "bob", "h", "USER", false, now, now, nil))

	u, err := r.FindUserByEmailOrUsername(context.Background(), "a@x.com", "alice")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "a@x.com", u.Email)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.Nil(t, u.DeletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUserByEmailOrUsername_NotFound(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT \* FROM "users"`).
		WillReturnRows(sqlmock.NewRows(userCols))

	u, err := r.FindUserByEmailOrUsername(context.Background(), "a@x.com", "alice")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestFindUserByEmailOrUsername_DBError(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT \* FROM "users"`).
		WillReturnError(errors.New("db down"))

	_, err := r.FindUserByEmailOrUsername(context.Background(), "a@x.com", "alice")
	assert.ErrorContains(t, err, "db down")
}

func TestCreateUserWithEmailAccount_Success(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "users"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "accounts"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u, err := r.CreateUserWithEmailAccount(context.Background(), "a@x.com", "alice", "hash")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, domain.RoleUser, u.Role)
	assert.False(t, u.EmailVerified)

	acc := u.EmailAccount()
	require.NotNil(t, acc)
	assert.Equal(t, u.ID, acc.UserID)
	assert.Equal(t, "a@x.com", acc.ProviderAccountID)
	assert.Nil(t, acc.RefreshToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserWithEmailAccount_AccountFailureRollsBack(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "users"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "accounts"`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := r.CreateUserWithEmailAccount(context.Background(), "a@x.com", "alice", "hash")
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserWithEmailAccount_Duplicate(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "users"`).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "idx_users_email" (SQLSTATE 23505)`))
	mock.ExpectRollback()

	_, err := r.CreateUserWithEmailAccount(context.Background(), "a@x.com", "alice", "hash")
	assert.ErrorIs(t, err, domain.ErrDuplicateIdentity)
}

func TestCreateUserWithRole_SingleTransaction(t *testing.T) {
	r, mock := newRepoWithMock(t)

	// 角色随 INSERT 写入，事务里没有额外的 UPDATE
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "users"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "accounts"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u, err := r.CreateUserWithRole(context.Background(), "root@x.com", "root", "hash", domain.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, u.Role)
	require.NotNil(t, u.EmailAccount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccountRefreshHashByProviderKey(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE "accounts" SET "refresh_token"=\$1,"updated_at"=\$2 WHERE provider = \$3 AND provider_account_id = \$4`).
		WithArgs("hash", sqlmock.AnyArg(), "EMAIL", "a@x.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.UpdateAccountRefreshHashByProviderKey(context.Background(), domain.ProviderEmail, "a@x.com", "hash")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccountRefreshHashByProviderKey_NoRow(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE "accounts"`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := r.UpdateAccountRefreshHashByProviderKey(context.Background(), domain.ProviderEmail, "a@x.com", "hash")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestFindUserByIDWithEmailAccount(t *testing.T) {
	r, mock := newRepoWithMock(t)
	now := time.Now()
	deleted := now.Add(-time.Hour)

	mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "a@x.com", "alice", "h", "USER", false, now, now, deleted))
	mock.ExpectQuery(`SELECT \* FROM "accounts" WHERE "accounts"."user_id" = \$1 AND provider = \$2`).
		WithArgs("u1", "EMAIL").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "provider", "provider_account_id", "refresh_token", "created_at", "updated_at"}).
			AddRow("acc1", "u1", "EMAIL", "a@x.com", "stored-hash", now, now))

	u, err := r.FindUserByIDWithEmailAccount(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.True(t, u.Deleted())

	acc := u.EmailAccount()
	require.NotNil(t, acc)
	assert.Equal(t, "acc1", acc.ID)
	require.NotNil(t, acc.RefreshToken)
	assert.Equal(t, "stored-hash", *acc.RefreshToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUserByIDWithEmailAccount_NotFound(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT \* FROM "users" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(userCols))

	u, err := r.FindUserByIDWithEmailAccount(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUpdateAccountRefreshHashByID(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE "accounts" SET "refresh_token"=\$1,"updated_at"=\$2 WHERE id = \$3`).
		WithArgs("next", sqlmock.AnyArg(), "acc1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.UpdateAccountRefreshHashByID(context.Background(), "acc1", "next"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapAccountRefreshHash(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"won", 1, true},
		{"lost", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, mock := newRepoWithMock(t)

			mock.ExpectExec(`UPDATE "accounts" SET "refresh_token"=\$1,"updated_at"=\$2 WHERE id = \$3 AND refresh_token = \$4`).
				WithArgs("next", sqlmock.AnyArg(), "acc1", "prev").
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			ok, err := r.SwapAccountRefreshHash(context.Background(), "acc1", "prev", "next")
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestSoftDelete(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE "users" SET "deleted_at"=\$1 WHERE id = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := r.SoftDelete(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRestore_NothingToRestore(t *testing.T) {
	r, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE "users" SET "deleted_at"=\$1,"updated_at"=\$2 WHERE id = \$3 AND deleted_at IS NOT NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := r.Restore(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestList(t *testing.T) {
	r, mock := newRepoWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT count\(\*\) FROM "users" WHERE \(?email LIKE \$1 OR username LIKE \$2\)?`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE \(?email LIKE \$1 OR username LIKE \$2\)?`).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u2", "b@x.com", "bob", "h", "USER", false, now, now, nil).
			AddRow("u1", "a@x.com", "alice", "h", "ADMIN", true, now, now, nil))

	users, total, err := r.List(context.Background(), domain.ListFilter{Limit: 20, Query: "x.com"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, users, 2)
	assert.Equal(t, domain.RoleAdmin, users[1].Role)
	assert.True(t, users[1].EmailVerified)
}

func TestIsDupKey(t *testing.T) {
	assert.True(t, isDupKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDupKey(errors.New("Error 1062 (23000): Duplicate entry 'a@x.com' for key 'users.idx_users_email'")))
	assert.True(t, isDupKey(errors.New(`duplicate key value violates unique constraint "idx_users_username"`)))
	assert.False(t, isDupKey(errors.New("connection refused")))
}
