package files

import (
	"context"

	"github.com/vkushnir/filevault/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, file *models.File) error
	Get(ctx context.Context, creatorID, filename string) (*models.File, error)
	Delete(ctx context.Context, creatorID, filename string) error

	// CountByHash returns how many of the creator's rows still reference
	// the given content hash. Used for reference-counted blob deletion.
	CountByHash(ctx context.Context, creatorID, hash string) (int64, error)

	// ToggleShared flips the shared flag and returns the new value.
	ToggleShared(ctx context.Context, creatorID, filename string) (bool, error)

	ListByCreator(ctx context.Context, creatorID string) ([]*models.File, error)
	ListShared(ctx context.Context) ([]*models.SharedFile, error)
}
