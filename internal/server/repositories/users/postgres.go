// Package users provides the PostgreSQL-backed repository for vault users.
package users

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

// PostgresRepository implements user storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const uniqueViolation = "23505"

// Create inserts a new user together with its sealed secrets. A duplicate
// username maps to common.ErrorAlreadyExists.
func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (username, password_hash, password_salt, enc_symmetric_key, enc_private_key, enc_public_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.UserName, user.PasswordHash, user.PasswordSalt,
		user.EncSymmetricKey, user.EncPrivateKey, user.EncPublicKey).Scan(&user.ID)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query :=
		`SELECT id, username, password_hash, password_salt, enc_symmetric_key, enc_private_key, enc_public_key
		 FROM users
		 WHERE username = $1
		 `

	return r.scanOne(r.db.QueryRowContext(ctx, query, username))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query :=
		`SELECT id, username, password_hash, password_salt, enc_symmetric_key, enc_private_key, enc_public_key
		 FROM users
		 WHERE id = $1
		 `

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.UserName, &user.PasswordHash, &user.PasswordSalt,
		&user.EncSymmetricKey, &user.EncPrivateKey, &user.EncPublicKey)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}
