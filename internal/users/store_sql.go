package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/audit"
	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
	"github.com/mind-engage/psyportal/internal/db"
	"github.com/mind-engage/psyportal/internal/rbac"
)

type SQLStore struct {
	db *db.DB
}

func NewSQLStore(d *db.DB) *SQLStore { return &SQLStore{db: d} }

const userCols = `id, username, email, full_name, role, created_at, updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanUser(row scanner) (User, error) {
	var u User
	var created, updated int64
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Role, &created, &updated); err != nil {
		return User{}, err
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	u.UpdatedAt = time.Unix(updated, 0).UTC()
	return u, nil
}

// Create registers a new account. actor is recorded in the audit log and
// may be empty for self-registration.
func (s *SQLStore) Create(ctx context.Context, in NewUser, actor string) (User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normEmail(in.Email)
	if in.Role == "" {
		in.Role = rbac.RoleUser
	}
	switch {
	case !ValidUsername(in.Username):
		return User{}, apperr.Invalidf("username must be 3-32 letters, digits, _ or -")
	case !ValidEmail(in.Email):
		return User{}, apperr.Invalidf("invalid email")
	case !rbac.ValidRole(in.Role):
		return User{}, apperr.Invalidf("invalid role %q", in.Role)
	}
	if err := checkPassword(in.Password); err != nil {
		return User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	u := User{
		ID:        uuid.NewString(),
		Username:  in.Username,
		Email:     in.Email,
		FullName:  strings.TrimSpace(in.FullName),
		Role:      in.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if actor == "" {
		actor = u.ID
	}
	err = s.db.Tx(ctx, func(tx *sql.Tx) error {
		if err := insertUser(ctx, tx, u, hash); err != nil {
			return err
		}
		return audit.Append(ctx, tx, audit.UserRegistered, u.ID, actor,
			map[string]string{"username": u.Username, "role": u.Role})
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return User{}, apperr.Conflictf("username or email already taken")
		}
		return User{}, err
	}
	return u, nil
}

func insertUser(ctx context.Context, q db.Querier, u User, hash string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (id, username, email, full_name, password_hash, role, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.ID, u.Username, u.Email, u.FullName, hash, u.Role, u.CreatedAt.Unix(), u.UpdatedAt.Unix())
	if err != nil && db.IsUniqueViolation(err) {
		return apperr.Conflictf("username or email already taken")
	}
	return err
}

func (s *SQLStore) Get(ctx context.Context, id string) (User, error) {
	var u User
	err := s.db.Do(ctx, func(q db.Querier) error {
		var err error
		u, err = scanUser(q.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
		return db.NotFound(err, "user")
	})
	return u, err
}

// RoleOf returns the stored role of id.
func (s *SQLStore) RoleOf(ctx context.Context, id string) (string, error) {
	var role string
	err := s.db.Do(ctx, func(q db.Querier) error {
		err := q.QueryRowContext(ctx, `SELECT role FROM users WHERE id=$1`, id).Scan(&role)
		return db.NotFound(err, "user")
	})
	return role, err
}

// Authenticate checks a username or email against its password. Unknown
// logins and wrong passwords produce the same error.
func (s *SQLStore) Authenticate(ctx context.Context, login, password string) (User, error) {
	login = strings.TrimSpace(login)
	var (
		u    User
		hash string
	)
	err := s.db.Do(ctx, func(q db.Querier) error {
		row := q.QueryRowContext(ctx,
			`SELECT `+userCols+`, password_hash FROM users WHERE username=$1 OR email=$2`,
			login, normEmail(login))
		var created, updated int64
		err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &u.Role, &created, &updated, &hash)
		u.CreatedAt = time.Unix(created, 0).UTC()
		u.UpdatedAt = time.Unix(updated, 0).UTC()
		return err
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		auth.BurnCompare(password)
		return User{}, apperr.ErrUnauthorized
	case err != nil:
		return User{}, err
	case !auth.CheckPassword(hash, password):
		return User{}, apperr.ErrUnauthorized
	}
	return u, nil
}

// List returns users ordered by username.
func (s *SQLStore) List(ctx context.Context, opts ListOpts) ([]User, error) {
	limit, offset := db.Page(opts.Limit, opts.Offset)
	var args db.Args
	query := `SELECT ` + userCols + ` FROM users WHERE 1=1`
	if opts.Role != "" {
		query += ` AND role=` + args.Add(opts.Role)
	}
	if q := strings.TrimSpace(opts.Q); q != "" {
		p := args.Add(db.Like(q))
		query += ` AND (LOWER(username) LIKE ` + p + ` ESCAPE '\' OR LOWER(email) LIKE ` + p +
			` ESCAPE '\' OR LOWER(full_name) LIKE ` + p + ` ESCAPE '\')`
	}
	query += ` ORDER BY username LIMIT ` + args.Add(limit) + ` OFFSET ` + args.Add(offset)

	out := []User{}
	err := s.db.Do(ctx, func(q db.Querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	return out, err
}

// SetRole changes the role of id. The last admin cannot be demoted.
func (s *SQLStore) SetRole(ctx context.Context, id, role, actor string) error {
	if !rbac.ValidRole(role) {
		return apperr.Invalidf("invalid role %q", role)
	}
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id=$1`, id).Scan(&current)
		if err != nil {
			return db.NotFound(err, "user")
		}
		if current == role {
			return nil
		}
		if current == rbac.RoleAdmin {
			if err := s.ensureOtherAdmin(ctx, tx, id); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET role=$1, updated_at=$2 WHERE id=$3`,
			role, time.Now().Unix(), id); err != nil {
			return err
		}
		return audit.Append(ctx, tx, audit.UserRoleChanged, id, actor,
			map[string]string{"from": current, "to": role})
	})
}

// Delete removes id and its results. Callers cannot delete themselves or the
// last admin.
func (s *SQLStore) Delete(ctx context.Context, id, actor string) error {
	if id == actor {
		return apperr.Invalidf("cannot delete your own account")
	}
	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		var username, role string
		err := tx.QueryRowContext(ctx, `SELECT username, role FROM users WHERE id=$1`, id).Scan(&username, &role)
		if err != nil {
			return db.NotFound(err, "user")
		}
		if role == rbac.RoleAdmin {
			if err := s.ensureOtherAdmin(ctx, tx, id); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id); err != nil {
			return err
		}
		return audit.Append(ctx, tx, audit.UserDeleted, id, actor, map[string]string{"username": username})
	})
}

// adminIDs locks and returns every admin row, so concurrent demotions
// serialise on Postgres. SQLite already runs one writer at a time.
func (s *SQLStore) adminIDs(ctx context.Context, q db.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM users WHERE role=$1`+s.db.LockClause(), rbac.RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) ensureOtherAdmin(ctx context.Context, q db.Querier, except string) error {
	ids, err := s.adminIDs(ctx, q)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id != except {
			return nil
		}
	}
	return apperr.Invalidf("cannot remove the last admin")
}

// ChangePassword replaces the password of id after checking the old one.
func (s *SQLStore) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	var stored string
	err := s.db.Do(ctx, func(q db.Querier) error {
		err := q.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id=$1`, id).Scan(&stored)
		return db.NotFound(err, "user")
	})
	if err != nil {
		return err
	}
	if !auth.CheckPassword(stored, oldPassword) {
		return apperr.ErrForbidden
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.db.Do(ctx, func(q db.Querier) error {
		_, err := q.ExecContext(ctx, `UPDATE users SET password_hash=$1, updated_at=$2 WHERE id=$3`,
			hash, time.Now().Unix(), id)
		return err
	})
}

// EnsureAdmin creates an admin account, or promotes and resets the password
// of an existing account with the same username.
func (s *SQLStore) EnsureAdmin(ctx context.Context, username, email, password string) (User, bool, error) {
	var existing string
	err := s.db.Do(ctx, func(q db.Querier) error {
		return q.QueryRowContext(ctx, `SELECT id FROM users WHERE username=$1`, username).Scan(&existing)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		u, err := s.Create(ctx, NewUser{
			Username: username, Email: email, FullName: username,
			Password: password, Role: rbac.RoleAdmin,
		}, "cli")
		return u, err == nil, err
	case err != nil:
		return User{}, false, err
	}
	if err := checkPassword(password); err != nil {
		return User{}, false, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return User{}, false, err
	}
	err = s.db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET role=$1, password_hash=$2, updated_at=$3 WHERE id=$4`,
			rbac.RoleAdmin, hash, time.Now().Unix(), existing); err != nil {
			return err
		}
		return audit.Append(ctx, tx, audit.UserRoleChanged, existing, "cli", map[string]string{"to": rbac.RoleAdmin})
	})
	if err != nil {
		return User{}, false, err
	}
	u, err := s.Get(ctx, existing)
	return u, false, err
}

// BulkUpsert imports rows in a single transaction. New accounts need a
// password; existing ones keep theirs unless one is given. Any invalid row
// aborts the whole import.
func (s *SQLStore) BulkUpsert(ctx context.Context, rows []BulkRow, actor string) (inserted, updated int, err error) {
	hashes := make([]string, len(rows))
	for i := range rows {
		r := &rows[i]
		r.ID = strings.TrimSpace(r.ID)
		r.Username = strings.TrimSpace(r.Username)
		r.Email = normEmail(r.Email)
		r.Role = strings.ToLower(strings.TrimSpace(r.Role))
		if r.Role == "" {
			r.Role = rbac.RoleUser
		}
		switch {
		case !ValidUsername(r.Username):
			return 0, 0, apperr.Invalidf("row %d: invalid username %q", i+1, r.Username)
		case !ValidEmail(r.Email):
			return 0, 0, apperr.Invalidf("row %d: invalid email %q", i+1, r.Email)
		case !rbac.ValidRole(r.Role):
			return 0, 0, apperr.Invalidf("row %d: invalid role %q", i+1, r.Role)
		}
		if r.Password != "" {
			if err := checkPassword(r.Password); err != nil {
				return 0, 0, fmt.Errorf("row %d: %w", i+1, err)
			}
			if hashes[i], err = auth.HashPassword(r.Password); err != nil {
				return 0, 0, err
			}
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	err = s.db.Tx(ctx, func(tx *sql.Tx) error {
		inserted, updated = 0, 0
		before, err := s.adminIDs(ctx, tx)
		if err != nil {
			return err
		}
		for i, r := range rows {
			var id string
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM users WHERE id=$1 OR ($1='' AND username=$2)`, r.ID, r.Username).Scan(&id)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if hashes[i] == "" {
					return apperr.Invalidf("row %d: password required for new user %s", i+1, r.Username)
				}
				u := User{ID: r.ID, Username: r.Username, Email: r.Email, FullName: r.FullName,
					Role: r.Role, CreatedAt: now, UpdatedAt: now}
				if u.ID == "" {
					u.ID = uuid.NewString()
				}
				if err := insertUser(ctx, tx, u, hashes[i]); err != nil {
					return err
				}
				if err := audit.Append(ctx, tx, audit.UserRegistered, u.ID, actor,
					map[string]string{"username": u.Username, "role": u.Role, "source": "bulk"}); err != nil {
					return err
				}
				inserted++
				continue
			case err != nil:
				return err
			}

			query := `UPDATE users SET username=$1, email=$2, full_name=$3, role=$4, updated_at=$5 WHERE id=$6`
			args := []any{r.Username, r.Email, r.FullName, r.Role, now.Unix(), id}
			if hashes[i] != "" {
				query = `UPDATE users SET username=$1, email=$2, full_name=$3, role=$4, updated_at=$5, password_hash=$7 WHERE id=$6`
				args = append(args, hashes[i])
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				if db.IsUniqueViolation(err) {
					return apperr.Conflictf("row %d: username or email already taken", i+1)
				}
				return err
			}
			updated++
		}
		after, err := s.adminIDs(ctx, tx)
		if err != nil {
			return err
		}
		if len(before) > 0 && len(after) == 0 {
			return apperr.Invalidf("import would remove the last admin")
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}
