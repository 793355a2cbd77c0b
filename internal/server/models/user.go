// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is a vault identity. The three Enc* fields are the user's secrets,
// each sealed under the master public key at registration; they are never
// stored in plaintext and never mutated afterwards.
type User struct {
	ID           string
	UserName     string
	PasswordHash []byte
	PasswordSalt []byte

	EncSymmetricKey []byte
	EncPrivateKey   []byte
	EncPublicKey    []byte

	CreatedAt time.Time
}
