package users

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/audit"
	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
	"github.com/mind-engage/psyportal/internal/db"
	"github.com/mind-engage/psyportal/internal/rbac"
)

func newStore(t *testing.T) (*SQLStore, *db.DB) {
	t.Helper()
	prev := auth.BcryptCost
	auth.BcryptCost = bcrypt.MinCost
	t.Cleanup(func() { auth.BcryptCost = prev })
	d := db.OpenTest(t)
	return NewSQLStore(d), d
}

func mustCreate(t *testing.T, s *SQLStore, username, role string) User {
	t.Helper()
	u, err := s.Create(context.Background(), NewUser{
		Username: username,
		Email:    username + "@example.org",
		FullName: username,
		Password: "secret-pass",
		Role:     role,
	}, "")
	require.NoError(t, err)
	return u
}

func TestCreateAndAuthenticate(t *testing.T) {
	s, d := newStore(t)
	ctx := context.Background()

	u, err := s.Create(ctx, NewUser{Username: "ada", Email: " Ada@Example.org ", Password: "secret-pass"}, "")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleUser, u.Role)
	assert.Equal(t, "ada@example.org", u.Email)

	got, err := s.Authenticate(ctx, "ada", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = s.Authenticate(ctx, "ADA@example.org", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Authenticate(ctx, "ada", "wrong-pass")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = s.Authenticate(ctx, "nobody", "secret-pass")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	events, err := audit.NewLog(d).List(ctx, audit.ListOpts{Type: audit.UserRegistered})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, u.ID, events[0].Actor)
}

func TestCreateValidationAndDuplicates(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	mustCreate(t, s, "ada", "")

	cases := []NewUser{
		{Username: "a", Email: "a@x.org", Password: "secret-pass"},
		{Username: "bad name", Email: "b@x.org", Password: "secret-pass"},
		{Username: "bob", Email: "not-an-email", Password: "secret-pass"},
		{Username: "bob", Email: "bob@x.org", Password: "short"},
		{Username: "bob", Email: "bob@x.org", Password: "secret-pass", Role: "root"},
	}
	for _, c := range cases {
		_, err := s.Create(ctx, c, "")
		assert.ErrorIs(t, err, apperr.ErrInvalid, c.Username)
	}

	_, err := s.Create(ctx, NewUser{Username: "ada", Email: "other@x.org", Password: "secret-pass"}, "")
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, err = s.Create(ctx, NewUser{Username: "ada2", Email: "ada@example.org", Password: "secret-pass"}, "")
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestListFilters(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	mustCreate(t, s, "carol", rbac.RolePsychologist)
	mustCreate(t, s, "alice", rbac.RoleUser)
	mustCreate(t, s, "bob_smith", rbac.RoleUser)

	all, err := s.List(ctx, ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"alice", "bob_smith", "carol"}, []string{all[0].Username, all[1].Username, all[2].Username})

	psych, err := s.List(ctx, ListOpts{Role: rbac.RolePsychologist})
	require.NoError(t, err)
	require.Len(t, psych, 1)
	assert.Equal(t, "carol", psych[0].Username)

	// "_" must match literally, not as a wildcard.
	found, err := s.List(ctx, ListOpts{Q: "B_S"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "bob_smith", found[0].Username)

	page, err := s.List(ctx, ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "bob_smith", page[0].Username)
}

func TestLastAdminGuards(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	root := mustCreate(t, s, "root", rbac.RoleAdmin)
	other := mustCreate(t, s, "other", rbac.RoleUser)

	err := s.SetRole(ctx, root.ID, rbac.RoleUser, root.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	err = s.Delete(ctx, root.ID, root.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	err = s.Delete(ctx, root.ID, other.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	require.NoError(t, s.SetRole(ctx, other.ID, rbac.RoleAdmin, root.ID))
	require.NoError(t, s.SetRole(ctx, root.ID, rbac.RolePsychologist, other.ID))
	role, err := s.RoleOf(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, rbac.RolePsychologist, role)

	require.NoError(t, s.Delete(ctx, root.ID, other.ID))
	_, err = s.Get(ctx, root.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.RoleOf(ctx, root.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.ErrorIs(t, s.SetRole(ctx, other.ID, "root", other.ID), apperr.ErrInvalid)
	assert.ErrorIs(t, s.SetRole(ctx, "missing", rbac.RoleUser, other.ID), apperr.ErrNotFound)
}

func TestChangePassword(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	u := mustCreate(t, s, "ada", "")

	assert.ErrorIs(t, s.ChangePassword(ctx, u.ID, "wrong-pass", "new-secret"), apperr.ErrForbidden)
	assert.ErrorIs(t, s.ChangePassword(ctx, u.ID, "secret-pass", "short"), apperr.ErrInvalid)
	require.NoError(t, s.ChangePassword(ctx, u.ID, "secret-pass", "new-secret"))

	_, err := s.Authenticate(ctx, "ada", "new-secret")
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, "ada", "secret-pass")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestEnsureAdmin(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	u, created, err := s.EnsureAdmin(ctx, "root", "root@example.org", "admin-pass")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, rbac.RoleAdmin, u.Role)

	mustCreate(t, s, "promoted", rbac.RoleUser)
	u, created, err = s.EnsureAdmin(ctx, "promoted", "", "fresh-pass")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rbac.RoleAdmin, u.Role)
	_, err = s.Authenticate(ctx, "promoted", "fresh-pass")
	require.NoError(t, err)
}

func TestBulkUpsert(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	admin := mustCreate(t, s, "root", rbac.RoleAdmin)
	existing := mustCreate(t, s, "ada", rbac.RoleUser)

	ins, upd, err := s.BulkUpsert(ctx, []BulkRow{
		{Username: "ada", Email: "ada@new.org", FullName: "Ada L", Role: "psychologist"},
		{Username: "bob", Email: "bob@example.org", Password: "bob-secret"},
	}, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ins)
	assert.Equal(t, 1, upd)

	got, err := s.Get(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@new.org", got.Email)
	assert.Equal(t, rbac.RolePsychologist, got.Role)
	_, err = s.Authenticate(ctx, "ada", "secret-pass")
	require.NoError(t, err, "password kept when none given")

	_, err = s.Authenticate(ctx, "bob", "bob-secret")
	require.NoError(t, err)
}

func TestBulkUpsertIsAllOrNothing(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	admin := mustCreate(t, s, "root", rbac.RoleAdmin)

	_, _, err := s.BulkUpsert(ctx, []BulkRow{
		{Username: "carl", Email: "carl@example.org", Password: "carl-secret"},
		{Username: "dora", Email: "dora@example.org"},
	}, admin.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	list, err := s.List(ctx, ListOpts{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, _, err = s.BulkUpsert(ctx, []BulkRow{{ID: admin.ID, Username: "root", Email: "root@example.org", Role: "user"}}, admin.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, _, err = s.BulkUpsert(ctx, []BulkRow{{Username: "eve", Email: "eve@example.org", Role: "root"}}, admin.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestPasswordLengthLimits(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	long := strings.Repeat("p", MaxPasswordLen+1)
	exact := strings.Repeat("p", MaxPasswordLen)

	_, err := s.Create(ctx, NewUser{Username: "ada", Email: "ada@example.org", Password: long}, "")
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	// multibyte input is measured in bytes
	_, err = s.Create(ctx, NewUser{Username: "ada", Email: "ada@example.org", Password: strings.Repeat("ü", 40)}, "")
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	u, err := s.Create(ctx, NewUser{Username: "ada", Email: "ada@example.org", Password: exact}, "")
	require.NoError(t, err)
	assert.ErrorIs(t, s.ChangePassword(ctx, u.ID, exact, long), apperr.ErrInvalid)

	_, _, err = s.EnsureAdmin(ctx, "ada", "ada@example.org", long)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, _, err = s.EnsureAdmin(ctx, "root", "root@example.org", long)
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	_, _, err = s.BulkUpsert(ctx, []BulkRow{{Username: "bob", Email: "bob@example.org", Password: long}}, u.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	assert.Contains(t, err.Error(), "row 1")
}

func TestAdminRowsLockedOnPostgres(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	s := NewSQLStore(db.New(sqlDB, db.DriverPostgres, nil))
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT role FROM users WHERE id=\$1`).WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow(rbac.RoleAdmin))
	mock.ExpectQuery(`SELECT id FROM users WHERE role=\$1 FOR UPDATE`).WithArgs(rbac.RoleAdmin).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a1"))
	mock.ExpectRollback()
	assert.ErrorIs(t, s.SetRole(ctx, "a1", rbac.RoleUser, "a1"), apperr.ErrInvalid)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT role FROM users WHERE id=\$1`).WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow(rbac.RoleAdmin))
	mock.ExpectQuery(`SELECT id FROM users WHERE role=\$1 FOR UPDATE`).WithArgs(rbac.RoleAdmin).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a1").AddRow("a2"))
	mock.ExpectExec(`UPDATE users SET role=\$1`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO event_log`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	require.NoError(t, s.SetRole(ctx, "a1", rbac.RoleUser, "a2"))

	require.NoError(t, mock.ExpectationsWereMet())
}
