// Package files provides the PostgreSQL-backed repository for file
// metadata rows.
package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vkushnir/filevault/internal/common"
	"github.com/vkushnir/filevault/internal/dbx"
	"github.com/vkushnir/filevault/internal/server/models"
)

// PostgresRepository implements file metadata storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const uniqueViolation = "23505"

// Create inserts a file row. A duplicate (creator_id, filename) maps to
// common.ErrorAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (creator_id, filename, hash_value, shared)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.ExecContext(ctx, query, file.CreatorID, file.Filename, file.HashValue, file.Shared); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Get returns the file row for (creatorID, filename) or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, creatorID, filename string) (*models.File, error) {
	query := `
		SELECT creator_id, filename, hash_value, shared
		FROM files
		WHERE creator_id = $1 AND filename = $2
	`
	file := &models.File{}
	err := r.db.QueryRowContext(ctx, query, creatorID, filename).
		Scan(&file.CreatorID, &file.Filename, &file.HashValue, &file.Shared)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return file, nil
}

// Delete removes the file row for (creatorID, filename). Deleting an
// absent row returns common.ErrorNotFound.
func (r *PostgresRepository) Delete(ctx context.Context, creatorID, filename string) error {
	query := `
		DELETE FROM files
		WHERE creator_id = $1 AND filename = $2
	`
	res, err := r.db.ExecContext(ctx, query, creatorID, filename)
	if err != nil {
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

// CountByHash counts the creator's remaining rows referencing hash.
func (r *PostgresRepository) CountByHash(ctx context.Context, creatorID, hash string) (int64, error) {
	query := `
		SELECT count(*)
		FROM files
		WHERE creator_id = $1 AND hash_value = $2
	`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, creatorID, hash).Scan(&count); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

// ToggleShared flips the shared flag in place and returns the new value.
func (r *PostgresRepository) ToggleShared(ctx context.Context, creatorID, filename string) (bool, error) {
	query := `
		UPDATE files
		SET shared = NOT shared
		WHERE creator_id = $1 AND filename = $2
		RETURNING shared
	`
	var shared bool
	if err := r.db.QueryRowContext(ctx, query, creatorID, filename).Scan(&shared); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, common.ErrorNotFound
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return shared, nil
}

// ListByCreator returns all file rows owned by creatorID.
func (r *PostgresRepository) ListByCreator(ctx context.Context, creatorID string) ([]*models.File, error) {
	query := `
		SELECT creator_id, filename, hash_value, shared
		FROM files
		WHERE creator_id = $1
		ORDER BY filename
	`
	rows, err := r.db.QueryContext(ctx, query, creatorID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		var item models.File
		if err := rows.Scan(&item.CreatorID, &item.Filename, &item.HashValue, &item.Shared); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListShared returns (filename, owner username) pairs for all shared files.
func (r *PostgresRepository) ListShared(ctx context.Context) ([]*models.SharedFile, error) {
	query := `
		SELECT f.filename, u.username
		FROM files f
		JOIN users u ON u.id = f.creator_id
		WHERE f.shared
		ORDER BY u.username, f.filename
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.SharedFile
	for rows.Next() {
		var item models.SharedFile
		if err := rows.Scan(&item.Filename, &item.OwnerName); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
