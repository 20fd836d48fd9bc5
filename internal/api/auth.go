package api

import (
	"errors"
	"net/http"

	"github.com/taskwarden/taskwarden/internal/auth"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeBody(r, &creds); err != nil {
		errorResponse(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	user, err := s.users.CreateUser(creds.Email, creds.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrValidation):
			errorResponse(w, http.StatusBadRequest, codeValidation, err.Error())
		case errors.Is(err, auth.ErrEmailTaken):
			errorResponse(w, http.StatusConflict, codeEmailTaken, "email already registered")
		default:
			s.logger.Error("signup", "error", err)
			errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
		}
		return
	}

	token, expires, err := s.users.IssueToken(user.ID, s.tokenTTL)
	if err != nil {
		s.logger.Error("issue token", "error", err, "user_id", user.ID)
		errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"user":       user,
		"token":      token,
		"expires_at": expires,
	})
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := decodeBody(r, &creds); err != nil {
		errorResponse(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}

	user, err := s.users.Authenticate(creds.Email, creds.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			errorResponse(w, http.StatusUnauthorized, codeCredentials, "invalid email or password")
			return
		}
		s.logger.Error("signin", "error", err)
		errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	token, expires, err := s.users.IssueToken(user.ID, s.tokenTTL)
	if err != nil {
		s.logger.Error("issue token", "error", err, "user_id", user.ID)
		errorResponse(w, http.StatusInternalServerError, codeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":       user,
		"token":      token,
		"expires_at": expires,
	})
}
