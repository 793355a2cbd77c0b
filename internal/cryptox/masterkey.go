// Package cryptox implements the vault's key management: the process-wide
// master keypair, sealing of per-user secrets under it, authenticated
// symmetric encryption of file content, and detached signatures.
package cryptox

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/vkushnir/filevault/internal/common"
	"golang.org/x/crypto/curve25519"
)

// KeySize is the length in bytes of Curve25519 scalars and of symmetric keys.
const KeySize = 32

// MasterKey is the process-wide keypair. The Curve25519 private scalar is
// persisted to disk; the Ed25519 signing key is derived from the same
// 32-byte seed, so the encryption and signing roles share one secret and
// callers must not assume key separation between them.
type MasterKey struct {
	encryptPriv [KeySize]byte
	encryptPub  [KeySize]byte
	signKey     ed25519.PrivateKey
}

// PublicKey returns the Curve25519 public key as a fresh slice.
func (m *MasterKey) PublicKey() []byte {
	out := make([]byte, KeySize)
	copy(out, m.encryptPub[:])
	return out
}

// SigningPublicKey returns the Ed25519 verify key.
func (m *MasterKey) SigningPublicKey() ed25519.PublicKey {
	return m.signKey.Public().(ed25519.PublicKey)
}

func newMasterKeyFromSeed(seed []byte) (*MasterKey, error) {
	if len(seed) != KeySize {
		return nil, fmt.Errorf("master key: unexpected seed length %d", len(seed))
	}

	m := &MasterKey{}
	copy(m.encryptPriv[:], seed)

	pub, err := curve25519.X25519(seed, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("master key: deriving public key: %w", err)
	}
	copy(m.encryptPub[:], pub)

	m.signKey = ed25519.NewKeyFromSeed(seed)

	return m, nil
}

// LoadOrCreateMasterKey returns the master keypair backed by the file at
// path. On first start it generates a fresh random seed and persists it;
// on every subsequent start it reads the existing bytes and reconstructs
// the same keypair. Any I/O failure is returned to the caller and must be
// treated as fatal at startup: the vault cannot unseal any user secret
// without this key.
func LoadOrCreateMasterKey(path string) (*MasterKey, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		return newMasterKeyFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("master key: reading %s: %w", path, err)
	}

	seed = common.GenerateRandByteArray(KeySize)
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, fmt.Errorf("master key: writing %s: %w", path, err)
	}

	return newMasterKeyFromSeed(seed)
}
