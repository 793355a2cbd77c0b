// Package sessions implements the session-token lifecycle: issue on login,
// atomic verify-and-rotate on every authenticated request, and revoke on
// logout. Tokens are opaque random strings; a user has at most one live
// session at any time.
package sessions

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"context"

	"github.com/google/uuid"
	"github.com/vkushnir/filevault/internal/common"
	"github.com/vkushnir/filevault/internal/dbx"
	"github.com/vkushnir/filevault/internal/logging"
	"github.com/vkushnir/filevault/internal/server/config"
	"github.com/vkushnir/filevault/internal/server/repositories/repomanager"
)

// maxTokenAttempts bounds retries when a freshly drawn token collides with
// an existing one. With 128-bit tokens a single retry is already
// astronomically unlikely.
const maxTokenAttempts = 5

type Service struct {
	db       *sql.DB
	rm       repomanager.RepositoryManager
	validity time.Duration
	logger   logging.Logger
}

func NewService(db *sql.DB, rm repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *Service {
	return &Service{
		db:       db,
		rm:       rm,
		validity: cfg.TokenValidityDuration,
		logger:   logger.With("module", "sessions"),
	}
}

// newToken draws a random 128-bit value formatted as 32 hex characters.
func newToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Issue creates or replaces the session for userID and returns the fresh
// token. An existing session row is overwritten in place, so issuing for a
// logged-in user invalidates their previous token.
func (s *Service) Issue(ctx context.Context, userID string) (string, error) {
	repo := s.rm.Sessions(s.db)

	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token := newToken()
		err := repo.Upsert(ctx, userID, token, time.Now())
		if errors.Is(err, common.ErrorAlreadyExists) {
			// token collided with another user's session
			continue
		}
		if err != nil {
			return "", fmt.Errorf("issuing session: %w", err)
		}
		return token, nil
	}

	return "", fmt.Errorf("could not allocate a unique token: %w", common.ErrorInternal)
}

// Verify checks token and, when valid, rotates it in the same database
// transaction, so two concurrent requests bearing the same token cannot
// both pass. It returns the session's user id together with the
// replacement token the caller must propagate back to the client.
//
// An absent or expired session returns common.ErrorUnauthorized. Expired
// rows are left in place; they are treated as invalid on lookup rather
// than purged.
func (s *Service) Verify(ctx context.Context, token string) (string, string, error) {
	if token == "" {
		return "", "", common.ErrorUnauthorized
	}

	var userID, rotated string

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.rm.Sessions(tx)

		session, err := repo.GetByTokenForUpdate(ctx, token)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorUnauthorized
			}
			return fmt.Errorf("looking up session: %w", err)
		}

		if time.Since(session.LastUsed) >= s.validity {
			return common.ErrorUnauthorized
		}

		for attempt := 0; attempt < maxTokenAttempts; attempt++ {
			fresh := newToken()
			err := repo.UpdateToken(ctx, session.UserID, fresh, time.Now())
			if errors.Is(err, common.ErrorAlreadyExists) {
				continue
			}
			if err != nil {
				return fmt.Errorf("rotating token: %w", err)
			}
			userID = session.UserID
			rotated = fresh
			return nil
		}

		return fmt.Errorf("could not allocate a unique token: %w", common.ErrorInternal)
	})

	if err != nil {
		return "", "", err
	}

	return userID, rotated, nil
}

// Revoke deletes the session for userID. Revoking an absent session is a
// no-op.
func (s *Service) Revoke(ctx context.Context, userID string) error {
	if err := s.rm.Sessions(s.db).Delete(ctx, userID); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}
