package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vkushnir/filevault/internal/common"
	"github.com/vkushnir/filevault/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func testUser() *models.User {
	return &models.User{
		UserName:        "alice",
		PasswordHash:    []byte("hash"),
		PasswordSalt:    []byte("salt"),
		EncSymmetricKey: []byte("enc-sym"),
		EncPrivateKey:   []byte("enc-priv"),
		EncPublicKey:    []byte("enc-pub"),
	}
}

const createQuery = `(?s)^\s*INSERT\s+INTO\s+users\s*\(username,\s*password_hash,\s*password_salt,\s*enc_symmetric_key,\s*enc_private_key,\s*enc_public_key\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)\s*RETURNING\s+id\s*$`

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id"}).AddRow("u-1")
	mock.ExpectQuery(createQuery).
		WithArgs("alice", []byte("hash"), []byte("salt"), []byte("enc-sym"), []byte("enc-priv"), []byte("enc-pub")).
		WillReturnRows(rows)

	got, err := repo.Create(context.Background(), testUser())
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID != "u-1" || got.UserName != "alice" {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestCreate_DuplicateUsername(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(createQuery).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.Create(context.Background(), testUser())
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want common.ErrorAlreadyExists, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(createQuery).
		WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), testUser())
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

const getByUsernameQuery = `(?s)^\s*SELECT\s+id,\s*username,\s*password_hash,\s*password_salt,\s*enc_symmetric_key,\s*enc_private_key,\s*enc_public_key\s+FROM\s+users\s+WHERE\s+username\s*=\s*\$1\s*$`

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "username", "password_hash", "password_salt", "enc_symmetric_key", "enc_private_key", "enc_public_key"}).
		AddRow("u-1", "alice", []byte("hash"), []byte("salt"), []byte("enc-sym"), []byte("enc-priv"), []byte("enc-pub"))
}

func TestGetByUsername_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(getByUsernameQuery).
		WithArgs("alice").
		WillReturnRows(userRows())

	got, err := repo.GetByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetByUsername error: %v", err)
	}
	if got.ID != "u-1" || got.UserName != "alice" || string(got.EncSymmetricKey) != "enc-sym" {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestGetByUsername_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(getByUsernameQuery).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByUsername(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

const getByIDQuery = `(?s)^\s*SELECT\s+id,\s*username,\s*password_hash,\s*password_salt,\s*enc_symmetric_key,\s*enc_private_key,\s*enc_public_key\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s*$`

func TestGetByID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(getByIDQuery).
		WithArgs("u-1").
		WillReturnRows(userRows())

	got, err := repo.GetByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.ID != "u-1" || got.UserName != "alice" {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(getByIDQuery).
		WithArgs("u-404").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "u-404")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}
