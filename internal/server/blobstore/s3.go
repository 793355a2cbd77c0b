package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/vkushnir/filevault/internal/common"
)

// S3Options configures the S3-compatible backend (AWS S3 or minio).
type S3Options struct {
	RootUser     string
	RootPassword string
	Bucket       string
	Region       string
	BaseEndpoint string
}

// S3Store keeps blobs in an S3-compatible bucket under "users/<id>/<name>"
// keys, mirroring the per-user directory layout of the filesystem backend.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds an S3 client from static credentials and returns a
// store over the configured bucket.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.RootUser,
			opts.RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.BaseEndpoint)
		o.UsePathStyle = true
	})

	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

func (s *S3Store) key(userID, name string) string {
	return fmt.Sprintf("users/%s/%s", userID, name)
}

func (s *S3Store) Put(ctx context.Context, userID, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(userID, name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", name, common.ErrorStorage)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, userID, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(userID, name)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", name, common.ErrorStorage)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", name, common.ErrorStorage)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, userID, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(userID, name)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", name, common.ErrorStorage)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, userID, name string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(userID, name)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head %s: %w", name, common.ErrorStorage)
	}
	return true, nil
}
