package db

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/mind-engage/psyportal/internal/apperr"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Page clamps list paging parameters.
func Page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Args collects positional arguments and hands out $n placeholders, which
// both sqlite and postgres accept.
type Args []any

// Add appends v and returns its placeholder.
func (a *Args) Add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

// Like returns a lowercase substring pattern for LOWER(col) LIKE $n.
func Like(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// NotFound turns sql.ErrNoRows into an apperr not-found error naming what.
func NotFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFoundf("%s", what)
	}
	return err
}

// Exists reports whether query returns a row.
func Exists(row *sql.Row) (bool, error) {
	var one int
	err := row.Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	}
	return false, err
}
