package http

import (
	"net/http"

	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
	"github.com/mind-engage/psyportal/internal/users"
)

type registerReq struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"max=200"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginReq struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type tokenResp struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int64      `json:"expires_in"`
	User        users.User `json:"user"`
}

func issue(a *auth.AuthService, u users.User) (tokenResp, error) {
	tok, err := a.IssueJWT(u.ID, u.Role)
	if err != nil {
		return tokenResp{}, err
	}
	return tokenResp{
		AccessToken: tok,
		TokenType:   "Bearer",
		ExpiresIn:   int64(a.TTL().Seconds()),
		User:        u,
	}, nil
}

// RegisterHandler creates a plain user account and signs it in.
func RegisterHandler(store *users.SQLStore, a *auth.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerReq
		if !decode(w, r, &req) {
			return
		}
		u, err := store.Create(r.Context(), users.NewUser{
			Username: req.Username,
			Email:    req.Email,
			FullName: req.FullName,
			Password: req.Password,
		}, "")
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp, err := issue(a, u)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// LoginHandler accepts a username or an email address.
func LoginHandler(store *users.SQLStore, a *auth.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginReq
		if !decode(w, r, &req) {
			return
		}
		u, err := store.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp, err := issue(a, u)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func MeHandler(store *users.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := store.Get(r.Context(), auth.SubjectFromContext(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}
