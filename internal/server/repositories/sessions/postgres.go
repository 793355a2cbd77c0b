// Package sessions provides the PostgreSQL-backed repository for the
// single-session-per-user table.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vkushnir/filevault/internal/common"
	"github.com/vkushnir/filevault/internal/dbx"
	"github.com/vkushnir/filevault/internal/server/models"
)

// PostgresRepository implements session storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const uniqueViolation = "23505"

// Upsert writes the session for userID, rotating token and last_used in
// place if a row already exists. A collision with another user's token
// maps to common.ErrorAlreadyExists so the caller can retry with a fresh
// token.
func (r *PostgresRepository) Upsert(ctx context.Context, userID, token string, lastUsed time.Time) error {
	query := `
		INSERT INTO sessions (user_id, token, last_used)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET token = EXCLUDED.token, last_used = EXCLUDED.last_used
	`
	if _, err := r.db.ExecContext(ctx, query, userID, token, lastUsed); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByTokenForUpdate returns the session row for token, locked FOR UPDATE.
// If not found, it returns common.ErrorNotFound.
func (r *PostgresRepository) GetByTokenForUpdate(ctx context.Context, token string) (*models.Session, error) {
	query := `
		SELECT user_id, token, last_used
		FROM sessions
		WHERE token = $1
		FOR UPDATE
	`
	session := &models.Session{}
	if err := r.db.QueryRowContext(ctx, query, token).Scan(&session.UserID, &session.Token, &session.LastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return session, nil
}

// UpdateToken rotates the token for userID and refreshes last_used.
func (r *PostgresRepository) UpdateToken(ctx context.Context, userID, token string, lastUsed time.Time) error {
	query := `
		UPDATE sessions
		SET token = $2, last_used = $3
		WHERE user_id = $1
	`
	res, err := r.db.ExecContext(ctx, query, userID, token, lastUsed)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// Delete removes the session for userID. Deleting an absent row is not an
// error.
func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	query := `
		DELETE FROM sessions
		WHERE user_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
