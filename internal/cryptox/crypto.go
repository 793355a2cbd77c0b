package cryptox

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/vkushnir/filevault/internal/common"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// NonceSize is the length of the random nonce prepended to every
// symmetric ciphertext.
const NonceSize = 24

// Service exposes stateless cryptographic operations over the master key.
type Service struct {
	master *MasterKey
}

func NewService(m *MasterKey) *Service {
	return &Service{master: m}
}

// Seal encrypts secret under the master public key using an anonymous
// sealed box. The sender is not authenticated; only the process holding
// the master private key can recover the secret.
func (s *Service) Seal(secret []byte) ([]byte, error) {
	sealed, err := box.SealAnonymous(nil, secret, &s.master.encryptPub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return sealed, nil
}

// Open decrypts a sealed box produced by Seal. It returns ErrorCrypto if
// the ciphertext was not produced for this keypair or has been tampered with.
func (s *Service) Open(sealed []byte) ([]byte, error) {
	secret, ok := box.OpenAnonymous(nil, sealed, &s.master.encryptPub, &s.master.encryptPriv)
	if !ok {
		return nil, fmt.Errorf("open sealed box: %w", common.ErrorCrypto)
	}
	return secret, nil
}

// Sign returns a detached Ed25519 signature over message, using the signing
// key derived from the master seed.
func (s *Service) Sign(message []byte) []byte {
	return ed25519.Sign(s.master.signKey, message)
}

// Verify reports whether signature is a valid detached signature over
// message under the master verify key.
func (s *Service) Verify(message, signature []byte) bool {
	return ed25519.Verify(s.master.SigningPublicKey(), message, signature)
}

// NewSymmetricKey returns a fresh random 32-byte secretbox key.
func NewSymmetricKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// NewKeyPair generates a fresh Curve25519 keypair and returns the raw
// private and public scalars.
func NewKeyPair() (privateKey, publicKey []byte, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating keypair: %w", err)
	}
	return priv[:], pub[:], nil
}

// SymmetricEncrypt encrypts plaintext with the given 32-byte key using
// secretbox. A fresh random nonce is generated per call and prepended to
// the returned ciphertext.
func SymmetricEncrypt(key, plaintext []byte) ([]byte, error) {
	k, err := asKey(key)
	if err != nil {
		return nil, err
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, k), nil
}

// SymmetricDecrypt reverses SymmetricEncrypt. It returns ErrorCrypto when
// the ciphertext is too short, the key is wrong, or the authentication tag
// does not match.
func SymmetricDecrypt(key, ciphertext []byte) ([]byte, error) {
	k, err := asKey(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < NonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("ciphertext too short: %w", common.ErrorCrypto)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, k)
	if !ok {
		return nil, fmt.Errorf("symmetric decrypt: %w", common.ErrorCrypto)
	}
	return plaintext, nil
}

func asKey(key []byte) (*[KeySize]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key length %d: %w", len(key), common.ErrorCrypto)
	}
	var k [KeySize]byte
	copy(k[:], key)
	return &k, nil
}
