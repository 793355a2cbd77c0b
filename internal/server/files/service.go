// Package files implements the content-addressed encrypted store. Uploads
// are hashed with SHA-512, encrypted under the owner's unsealed symmetric
// key, signed, and deduplicated per user; downloads serve one of four
// projections of the stored content.
package files

import (
	"context"
	"crypto/sha512"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/vkushnir/filevault/internal/common"
	"github.com/vkushnir/filevault/internal/cryptox"
	"github.com/vkushnir/filevault/internal/logging"
	"github.com/vkushnir/filevault/internal/server/blobstore"
	"github.com/vkushnir/filevault/internal/server/config"
	"github.com/vkushnir/filevault/internal/server/models"
	"github.com/vkushnir/filevault/internal/server/repositories/repomanager"
)

// Projection selects which representation of a stored file a download
// returns.
type Projection string

const (
	ProjectionHash      Projection = "hashvalue"
	ProjectionSignature Projection = "signature"
	ProjectionEncrypted Projection = "encrypted"
	ProjectionPlaintext Projection = "plaintext"
)

// ParseProjection maps a request string onto a Projection.
func ParseProjection(s string) (Projection, error) {
	switch Projection(s) {
	case ProjectionHash, ProjectionSignature, ProjectionEncrypted, ProjectionPlaintext:
		return Projection(s), nil
	default:
		return "", fmt.Errorf("unknown projection %q: %w", s, common.ErrorValidation)
	}
}

const (
	maxFilenameLen = 64
	signatureExt   = ".sig"
)

var filenamePattern = regexp.MustCompile(`^[\p{L}\p{N}._ -]+$`)

type Service struct {
	db            *sql.DB
	rm            repomanager.RepositoryManager
	blobs         blobstore.BlobStore
	crypto        *cryptox.Service
	logger        logging.Logger
	maxUploadSize int64
	suffixes      map[string]struct{}
}

func NewService(db *sql.DB, rm repomanager.RepositoryManager, blobs blobstore.BlobStore,
	crypto *cryptox.Service, cfg *config.Config, logger logging.Logger) *Service {

	suffixes := make(map[string]struct{}, len(cfg.AllowedFileSuffixes))
	for _, s := range cfg.AllowedFileSuffixes {
		suffixes[strings.ToLower(s)] = struct{}{}
	}

	return &Service{
		db:            db,
		rm:            rm,
		blobs:         blobs,
		crypto:        crypto,
		logger:        logger.With("module", "files"),
		maxUploadSize: cfg.MaxUploadSize,
		suffixes:      suffixes,
	}
}

func (s *Service) validateFilename(filename string) error {
	if len(filename) > maxFilenameLen {
		return fmt.Errorf("filename too long (>%dB): %w", maxFilenameLen, common.ErrorValidation)
	}
	if !filenamePattern.MatchString(filename) {
		return fmt.Errorf("filename contains forbidden characters: %w", common.ErrorValidation)
	}

	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return fmt.Errorf("missing filename suffix: %w", common.ErrorValidation)
	}
	if _, ok := s.suffixes[strings.ToLower(filename[idx+1:])]; !ok {
		return fmt.Errorf("banned file type: %w", common.ErrorValidation)
	}
	return nil
}

// Upload validates the filename, reads and hashes the content, encrypts
// and signs it if this is the first copy of these bytes for the owner, and
// records the metadata row. The blob and its signature are written before
// the row is committed, so a row never references a missing blob.
func (s *Service) Upload(ctx context.Context, owner *models.User, filename string, src io.Reader) (*models.File, error) {
	if err := s.validateFilename(filename); err != nil {
		return nil, err
	}

	repo := s.rm.Files(s.db)

	if _, err := repo.Get(ctx, owner.ID, filename); err == nil {
		return nil, fmt.Errorf("file already exists: %w", common.ErrorAlreadyExists)
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("checking for existing file: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(src, s.maxUploadSize))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", common.ErrorStorage)
	}
	if int64(len(content)) >= s.maxUploadSize {
		return nil, fmt.Errorf("file too large (>=%dB): %w", s.maxUploadSize, common.ErrorValidation)
	}

	digest := sha512.Sum512(content)
	hashValue := hex.EncodeToString(digest[:])

	stored, err := s.blobs.Exists(ctx, owner.ID, hashValue)
	if err != nil {
		return nil, err
	}

	if !stored {
		key, err := s.crypto.Open(owner.EncSymmetricKey)
		if err != nil {
			s.logger.Error(ctx, "unsealing user key failed", "user", owner.ID, "error", err)
			return nil, err
		}

		ciphertext, err := cryptox.SymmetricEncrypt(key, content)
		common.WipeByteArray(key)
		if err != nil {
			return nil, err
		}

		signature := s.crypto.Sign(ciphertext)

		if err := s.blobs.Put(ctx, owner.ID, hashValue, ciphertext); err != nil {
			return nil, err
		}
		if err := s.blobs.Put(ctx, owner.ID, hashValue+signatureExt, signature); err != nil {
			return nil, err
		}
	}

	file := &models.File{CreatorID: owner.ID, Filename: filename, HashValue: hashValue}
	if err := repo.Create(ctx, file); err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, fmt.Errorf("file already exists: %w", common.ErrorAlreadyExists)
		}
		return nil, fmt.Errorf("recording file: %w", err)
	}

	s.logger.Info(ctx, "upload stored", "user", owner.ID, "filename", filename, "dedup", stored)
	return file, nil
}

// Download returns the requested projection of the owner's file together
// with the suggested attachment filename. Non-owners may fetch only the
// encrypted and signature projections, and only while the file is shared;
// plaintext stays owner-only because a non-owner cannot unseal the owner's
// symmetric key.
func (s *Service) Download(ctx context.Context, owner *models.User, filename string, projection Projection, isOwner bool) ([]byte, string, error) {
	file, err := s.rm.Files(s.db).Get(ctx, owner.ID, filename)
	if err != nil {
		return nil, "", err
	}

	if !isOwner {
		if projection != ProjectionEncrypted && projection != ProjectionSignature {
			return nil, "", fmt.Errorf("projection %s is owner-only: %w", projection, common.ErrorForbidden)
		}
		if !file.Shared {
			return nil, "", common.ErrorNotFound
		}
	}

	switch projection {
	case ProjectionHash:
		return []byte(file.HashValue), filename + ".hash", nil

	case ProjectionSignature:
		signature, err := s.blobs.Get(ctx, owner.ID, file.HashValue+signatureExt)
		if err != nil {
			return nil, "", err
		}
		return signature, filename + ".sig", nil

	case ProjectionEncrypted:
		ciphertext, err := s.blobs.Get(ctx, owner.ID, file.HashValue)
		if err != nil {
			return nil, "", err
		}
		return ciphertext, filename + ".encrypted", nil

	case ProjectionPlaintext:
		ciphertext, err := s.blobs.Get(ctx, owner.ID, file.HashValue)
		if err != nil {
			return nil, "", err
		}

		key, err := s.crypto.Open(owner.EncSymmetricKey)
		if err != nil {
			s.logger.Error(ctx, "unsealing user key failed", "user", owner.ID, "error", err)
			return nil, "", err
		}

		plaintext, err := cryptox.SymmetricDecrypt(key, ciphertext)
		common.WipeByteArray(key)
		if err != nil {
			s.logger.Error(ctx, "stored ciphertext failed to decrypt", "user", owner.ID, "hash", file.HashValue, "error", err)
			return nil, "", err
		}
		return plaintext, filename, nil

	default:
		return nil, "", fmt.Errorf("unknown projection %q: %w", projection, common.ErrorValidation)
	}
}

// Delete removes the metadata row and, when no other row of the same owner
// still references the content hash, the ciphertext and signature blobs.
// A missing blob at that point is non-fatal: another delete may have won
// the race.
func (s *Service) Delete(ctx context.Context, owner *models.User, filename string) error {
	repo := s.rm.Files(s.db)

	file, err := repo.Get(ctx, owner.ID, filename)
	if err != nil {
		return err
	}

	if err := repo.Delete(ctx, owner.ID, filename); err != nil {
		return err
	}

	remaining, err := repo.CountByHash(ctx, owner.ID, file.HashValue)
	if err != nil {
		return fmt.Errorf("counting hash references: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	if err := s.blobs.Delete(ctx, owner.ID, file.HashValue); err != nil {
		s.logger.Warn(ctx, "removing blob failed", "user", owner.ID, "hash", file.HashValue, "error", err)
	}
	if err := s.blobs.Delete(ctx, owner.ID, file.HashValue+signatureExt); err != nil {
		s.logger.Warn(ctx, "removing signature failed", "user", owner.ID, "hash", file.HashValue, "error", err)
	}
	return nil
}

// ToggleShare flips the shared flag and returns the new value.
func (s *Service) ToggleShare(ctx context.Context, owner *models.User, filename string) (bool, error) {
	return s.rm.Files(s.db).ToggleShared(ctx, owner.ID, filename)
}

// List returns the owner's files.
func (s *Service) List(ctx context.Context, ownerID string) ([]*models.File, error) {
	return s.rm.Files(s.db).ListByCreator(ctx, ownerID)
}

// ListShared returns (filename, owner) pairs for every shared file.
func (s *Service) ListShared(ctx context.Context) ([]*models.SharedFile, error) {
	return s.rm.Files(s.db).ListShared(ctx)
}
