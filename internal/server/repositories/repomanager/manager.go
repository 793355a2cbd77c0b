package repomanager

import (
	"context"
	"database/sql"

	"github.com/vkushnir/filevault/internal/dbx"
	"github.com/vkushnir/filevault/internal/server/repositories/files"
	"github.com/vkushnir/filevault/internal/server/repositories/sessions"
	"github.com/vkushnir/filevault/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so services can run
// the same repository code against *sql.DB or inside a transaction.
type RepositoryManager interface {
	Users(db dbx.DBTX) users.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	Files(db dbx.DBTX) files.Repository
	RunMigrations(ctx context.Context, db *sql.DB) error
}
