package http

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/vkushnir/filevault/internal/cryptox"
	"github.com/vkushnir/filevault/internal/logging"
	"github.com/vkushnir/filevault/internal/server/blobstore"
	"github.com/vkushnir/filevault/internal/server/config"
	"github.com/vkushnir/filevault/internal/server/files"
	"github.com/vkushnir/filevault/internal/server/repositories/repomanager"
	"github.com/vkushnir/filevault/internal/server/sessions"
	"github.com/vkushnir/filevault/internal/server/users"
	"golang.org/x/crypto/argon2"
)

const (
	insertUserQuery   = `(?s)^\s*INSERT\s+INTO\s+users\s+`
	selectUserQuery   = `(?s)^\s*SELECT\s+id,\s*username,.*FROM\s+users\s+WHERE\s+username\s*=\s*\$1\s*$`
	selectUserByIDQ   = `(?s)^\s*SELECT\s+id,\s*username,.*FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s*$`
	insertSessionQ    = `(?s)^\s*INSERT\s+INTO\s+sessions\s+`
	selectSessionQ    = `(?s)^\s*SELECT\s+user_id,\s*token,\s*last_used\s+FROM\s+sessions\s+WHERE\s+token\s*=\s*\$1\s+FOR\s+UPDATE\s*$`
	rotateSessionQ    = `(?s)^\s*UPDATE\s+sessions\s+SET\s+token\s*=\s*\$2`
	listByCreatorQ    = `(?s)^\s*SELECT\s+creator_id,\s*filename,\s*hash_value,\s*shared\s+FROM\s+files\s+WHERE\s+creator_id\s*=\s*\$1\s+ORDER\s+BY\s+filename\s*$`
	listSharedQuery   = `(?s)^\s*SELECT\s+f\.filename,\s*u\.username\s+FROM\s+files\s+`
	userColumnsHeader = "id,username,password_hash,password_salt,enc_symmetric_key,enc_private_key,enc_public_key"
)

type testEnv struct {
	handler http.Handler
	mock    sqlmock.Sqlmock
	crypto  *cryptox.Service
	db      *sql.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	master, err := cryptox.LoadOrCreateMasterKey(filepath.Join(t.TempDir(), "master.key"))
	if err != nil {
		t.Fatalf("LoadOrCreateMasterKey error: %v", err)
	}
	crypto := cryptox.NewService(master)

	blobs, err := blobstore.NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemStore error: %v", err)
	}

	cfg := &config.Config{
		TokenValidityDuration: 30 * time.Minute,
		MaxUploadSize:         1024,
		AllowedFileSuffixes:   []string{"txt"},
	}
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	rm := repomanager.NewPostgresRepositoryManager()

	us := users.NewService(db, rm, crypto, logger)
	ss := sessions.NewService(db, rm, cfg, logger)
	fs := files.NewService(db, rm, blobs, crypto, cfg, logger)

	server := NewServer(":0", logger, us, ss, fs)
	return &testEnv{handler: server.routes(), mock: mock, crypto: crypto, db: db}
}

func userRow(t *testing.T, env *testEnv, id, username, password string) *sqlmock.Rows {
	t.Helper()

	salt := []byte("0123456789abcdef0123456789abcdef")
	hash := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)

	sealedKey, err := env.crypto.Seal(cryptox.NewSymmetricKey())
	if err != nil {
		t.Fatalf("sealing key: %v", err)
	}

	return sqlmock.NewRows(strings.Split(userColumnsHeader, ",")).
		AddRow(id, username, hash, salt, sealedKey, []byte("enc-priv"), []byte("enc-pub"))
}

func TestRegister_Created(t *testing.T) {
	env := newTestEnv(t)

	rows := sqlmock.NewRows([]string{"id"}).AddRow("u-1")
	env.mock.ExpectQuery(insertUserQuery).WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodPost, "/api/register",
		strings.NewReader(`{"username":"alice","password":"Sup3rSecret"}`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["username"] != "alice" {
		t.Fatalf("unexpected response %v", resp)
	}
}

func TestRegister_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(`{broken`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRegister_WeakPassword(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/register",
		strings.NewReader(`{"username":"alice","password":"short"}`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestLogin_IssuesToken(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(selectUserQuery).
		WithArgs("alice").
		WillReturnRows(userRow(t, env, "u-1", "alice", "Sup3rSecret"))
	env.mock.ExpectExec(insertSessionQ).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"alice","password":"Sup3rSecret"}`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp["token"]) != 32 {
		t.Fatalf("unexpected token %q", resp["token"])
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)

	env.mock.ExpectQuery(selectUserQuery).
		WithArgs("alice").
		WillReturnRows(userRow(t, env, "u-1", "alice", "Sup3rSecret"))

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"alice","password":"WrongPass1"}`))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticated_MissingToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticated_RotatesTokenHeader(t *testing.T) {
	env := newTestEnv(t)

	token := "44444444444444444444444444444444"

	env.mock.ExpectBegin()
	sessionRows := sqlmock.NewRows([]string{"user_id", "token", "last_used"}).
		AddRow("u-1", token, time.Now().Add(-time.Minute))
	env.mock.ExpectQuery(selectSessionQ).WithArgs(token).WillReturnRows(sessionRows)
	env.mock.ExpectExec(rotateSessionQ).WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()

	env.mock.ExpectQuery(selectUserByIDQ).
		WithArgs("u-1").
		WillReturnRows(userRow(t, env, "u-1", "alice", "Sup3rSecret"))

	fileRows := sqlmock.NewRows([]string{"creator_id", "filename", "hash_value", "shared"}).
		AddRow("u-1", "notes.txt", "cafe", false)
	env.mock.ExpectQuery(listByCreatorQ).WithArgs("u-1").WillReturnRows(fileRows)

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set(TokenHeaderName, token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rotated := rec.Header().Get(TokenHeaderName)
	if rotated == "" || rotated == token {
		t.Fatalf("expected a rotated token header, got %q", rotated)
	}

	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(list) != 1 || list[0]["filename"] != "notes.txt" {
		t.Fatalf("unexpected list %v", list)
	}
	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestAuthenticated_ExpiredSession(t *testing.T) {
	env := newTestEnv(t)

	token := "55555555555555555555555555555555"

	env.mock.ExpectBegin()
	sessionRows := sqlmock.NewRows([]string{"user_id", "token", "last_used"}).
		AddRow("u-1", token, time.Now().Add(-time.Hour))
	env.mock.ExpectQuery(selectSessionQ).WithArgs(token).WillReturnRows(sessionRows)
	env.mock.ExpectRollback()

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set(TokenHeaderName, token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestSharedList_NoAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rows := sqlmock.NewRows([]string{"filename", "username"}).
		AddRow("public.txt", "alice")
	env.mock.ExpectQuery(listSharedQuery).WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/api/shared", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var list []map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(list) != 1 || list[0]["owner"] != "alice" {
		t.Fatalf("unexpected list %v", list)
	}
}

func TestUpload_MissingFilename(t *testing.T) {
	env := newTestEnv(t)

	token := "66666666666666666666666666666666"

	env.mock.ExpectBegin()
	sessionRows := sqlmock.NewRows([]string{"user_id", "token", "last_used"}).
		AddRow("u-1", token, time.Now().Add(-time.Minute))
	env.mock.ExpectQuery(selectSessionQ).WithArgs(token).WillReturnRows(sessionRows)
	env.mock.ExpectExec(rotateSessionQ).WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()
	env.mock.ExpectQuery(selectUserByIDQ).
		WithArgs("u-1").
		WillReturnRows(userRow(t, env, "u-1", "alice", "Sup3rSecret"))

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", strings.NewReader("data"))
	req.Header.Set(TokenHeaderName, token)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
