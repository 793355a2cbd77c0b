// Package blobstore abstracts durable storage of ciphertext blobs and their
// detached signatures. Blobs live in a per-user namespace and are keyed by
// content hash, so identical uploads by the same user share one object.
package blobstore

import "context"

// BlobStore is the storage backend for encrypted content. Keys are opaque
// names scoped to a user id; the vault uses the hex content hash and
// "<hash>.sig" pairs.
type BlobStore interface {
	// Put stores data under (userID, name), overwriting any existing object.
	Put(ctx context.Context, userID, name string, data []byte) error

	// Get returns the object at (userID, name), or common.ErrorNotFound.
	Get(ctx context.Context, userID, name string) ([]byte, error)

	// Delete removes the object at (userID, name). Deleting a missing
	// object is not an error.
	Delete(ctx context.Context, userID, name string) error

	// Exists reports whether an object is stored at (userID, name).
	Exists(ctx context.Context, userID, name string) (bool, error)
}
