// Package users implements registration and credential verification. At
// registration each user gets a fresh symmetric file key and a Curve25519
// keypair, all sealed under the master public key before they touch the
// database.
package users

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"unicode"

	"github.com/vkushnir/filevault/internal/common"
	"github.com/vkushnir/filevault/internal/cryptox"
	"github.com/vkushnir/filevault/internal/logging"
	"github.com/vkushnir/filevault/internal/server/models"
	"github.com/vkushnir/filevault/internal/server/repositories/repomanager"
	"golang.org/x/crypto/argon2"
)

var usernamePattern = regexp.MustCompile(`^[\p{Han}a-zA-Z0-9]+$`)

const (
	minPasswordLen = 8
	maxPasswordLen = 36
	saltSize       = 32
)

type Service struct {
	db     *sql.DB
	rm     repomanager.RepositoryManager
	crypto *cryptox.Service
	logger logging.Logger
}

func NewService(db *sql.DB, rm repomanager.RepositoryManager, crypto *cryptox.Service, logger logging.Logger) *Service {
	return &Service{
		db:     db,
		rm:     rm,
		crypto: crypto,
		logger: logger.With("module", "users"),
	}
}

func hashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// validatePassword enforces the password policy: 8–36 characters with at
// least one lower-case letter, one upper-case letter and one digit.
func validatePassword(password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return fmt.Errorf("password must be %d-%d characters: %w", minPasswordLen, maxPasswordLen, common.ErrorValidation)
	}

	var hasLower, hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLower || !hasUpper || !hasDigit {
		return fmt.Errorf("password needs a lower-case letter, an upper-case letter and a digit: %w", common.ErrorValidation)
	}
	return nil
}

// Register validates the credentials, generates the user's secrets, seals
// them under the master public key and persists the new user. A taken
// username returns common.ErrorAlreadyExists.
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	if !usernamePattern.MatchString(username) || len(username) > 64 {
		return nil, fmt.Errorf("invalid username: %w", common.ErrorValidation)
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	salt := common.GenerateRandByteArray(saltSize)
	hash := hashPassword([]byte(password), salt)

	symmetricKey := cryptox.NewSymmetricKey()
	defer common.WipeByteArray(symmetricKey)

	privateKey, publicKey, err := cryptox.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating user keypair: %w", err)
	}
	defer common.WipeByteArray(privateKey)

	encSymmetricKey, err := s.crypto.Seal(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("sealing symmetric key: %w", err)
	}
	encPrivateKey, err := s.crypto.Seal(privateKey)
	if err != nil {
		return nil, fmt.Errorf("sealing private key: %w", err)
	}
	encPublicKey, err := s.crypto.Seal(publicKey)
	if err != nil {
		return nil, fmt.Errorf("sealing public key: %w", err)
	}

	user := &models.User{
		UserName:        username,
		PasswordHash:    hash,
		PasswordSalt:    salt,
		EncSymmetricKey: encSymmetricKey,
		EncPrivateKey:   encPrivateKey,
		EncPublicKey:    encPublicKey,
	}

	user, err = s.rm.Users(s.db).Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info(ctx, "user registered", "username", username)
	return user, nil
}

// Authenticate verifies username and password and returns the user. Both an
// unknown username and a wrong password map to common.ErrorUnauthorized.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.rm.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	candidate := hashPassword([]byte(password), user.PasswordSalt)
	if subtle.ConstantTimeCompare(user.PasswordHash, candidate) != 1 {
		return nil, common.ErrorUnauthorized
	}

	return user, nil
}

// GetByID returns the user for id or common.ErrorNotFound.
func (s *Service) GetByID(ctx context.Context, id string) (*models.User, error) {
	return s.rm.Users(s.db).GetByID(ctx, id)
}

// GetByUsername returns the user for username or common.ErrorNotFound.
func (s *Service) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.rm.Users(s.db).GetByUsername(ctx, username)
}
