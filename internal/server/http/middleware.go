package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vkushnir/filevault/internal/common"
	"github.com/vkushnir/filevault/internal/server/models"
)

type ctxKey string

const userKey ctxKey = "user"

// withAuth verifies the request token, rotates it, writes the replacement
// into the response header and puts the authenticated user on the context.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(TokenHeaderName)

		userID, rotated, err := s.sessions.Verify(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		user, err := s.users.GetByID(r.Context(), userID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		w.Header().Set(TokenHeaderName, rotated)

		ctx := context.WithValue(r.Context(), userKey, user)
		next(w, r.WithContext(ctx))
	}
}

func userFrom(r *http.Request) *models.User {
	user, _ := r.Context().Value(userKey).(*models.User)
	return user
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps sentinel errors onto HTTP status codes. Anything
// unmatched is an internal error and is logged with its cause; the client
// only sees a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, common.ErrorValidation):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, common.ErrorForbidden):
		status = http.StatusForbidden
	case errors.Is(err, common.ErrorNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrorAlreadyExists):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		s.writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}

	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
