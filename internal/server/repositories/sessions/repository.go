package sessions

import (
	"context"
	"time"

	"github.com/vkushnir/filevault/internal/server/models"
)

type Repository interface {
	// Upsert creates the session row for userID or replaces its token and
	// last_used in place, preserving at most one row per user.
	Upsert(ctx context.Context, userID, token string, lastUsed time.Time) error

	// GetByTokenForUpdate fetches the session row holding a row-level lock
	// until the surrounding transaction ends. Must be called inside a
	// transaction.
	GetByTokenForUpdate(ctx context.Context, token string) (*models.Session, error)

	// UpdateToken rotates the token and refreshes last_used for userID.
	UpdateToken(ctx context.Context, userID, token string, lastUsed time.Time) error

	// Delete removes the session for userID; no-op if absent.
	Delete(ctx context.Context, userID string) error
}
