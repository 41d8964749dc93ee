// Package users stores accounts and their roles.
package users

import (
	"regexp"
	"strings"
	"time"

	"github.com/mind-engage/psyportal/internal/apperr"
)

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type NewUser struct {
	Username string
	Email    string
	FullName string
	Password string
	Role     string // defaults to user
}

type ListOpts struct {
	Role   string
	Q      string // matches username, email or full name
	Limit  int
	Offset int
}

// BulkRow is one line of a bulk import. Rows are matched on ID when set,
// otherwise on username.
type BulkRow struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role,omitempty"`
	Password string `json:"password,omitempty"`
}

const (
	MinPasswordLen = 8
	// MaxPasswordLen is bcrypt's input limit in bytes.
	MaxPasswordLen = 72
)

func checkPassword(pw string) error {
	switch {
	case len(pw) < MinPasswordLen:
		return apperr.Invalidf("password must be at least %d characters", MinPasswordLen)
	case len(pw) > MaxPasswordLen:
		return apperr.Invalidf("password must be at most %d bytes", MaxPasswordLen)
	}
	return nil
}

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

func ValidUsername(s string) bool { return usernameRe.MatchString(s) }

// ValidEmail is a shape check only; addresses are never verified.
func ValidEmail(s string) bool {
	at := strings.LastIndexByte(s, '@')
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\r\n")
}

func normEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
