package models

// File is the metadata row for one uploaded file. The ciphertext and its
// detached signature live in blob storage under the creator's directory,
// keyed by HashValue; several rows may reference the same blob.
type File struct {
	CreatorID string
	Filename  string
	HashValue string
	Shared    bool
}

// SharedFile is one entry of the cross-user shared listing.
type SharedFile struct {
	Filename  string
	OwnerName string
}
