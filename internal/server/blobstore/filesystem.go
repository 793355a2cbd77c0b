package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vkushnir/filevault/internal/common"
)

// FilesystemStore keeps blobs on local disk: one directory per user id
// under the configured root, one file per object.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates the root directory if needed and returns a
// store over it.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o770); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", root, err)
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) path(userID, name string) string {
	return filepath.Join(s.root, userID, name)
}

func (s *FilesystemStore) Put(ctx context.Context, userID, name string, data []byte) error {
	dir := filepath.Join(s.root, userID)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, common.ErrorStorage)
	}
	if err := os.WriteFile(s.path(userID, name), data, 0o660); err != nil {
		return fmt.Errorf("writing blob %s: %w", name, common.ErrorStorage)
	}
	return nil
}

func (s *FilesystemStore) Get(ctx context.Context, userID, name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(userID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("reading blob %s: %w", name, common.ErrorStorage)
	}
	return data, nil
}

func (s *FilesystemStore) Delete(ctx context.Context, userID, name string) error {
	err := os.Remove(s.path(userID, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob %s: %w", name, common.ErrorStorage)
	}
	return nil
}

func (s *FilesystemStore) Exists(ctx context.Context, userID, name string) (bool, error) {
	_, err := os.Stat(s.path(userID, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat blob %s: %w", name, common.ErrorStorage)
}
