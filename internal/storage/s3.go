package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/vadim/flock/internal/apperror"
)

// MaxAvatarSize caps avatar uploads at 5 MiB.
const MaxAvatarSize = 5 << 20

// S3Config holds S3/MinIO configuration
type S3Config struct {
	Endpoint        string // e.g., "http://localhost:9000" for MinIO
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	PublicURL       string // Public URL for accessing files (e.g., "http://localhost:9000/avatars")
}

// AvatarStorage stores profile images in an S3-compatible bucket.
type AvatarStorage struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewAvatarStorage creates a new S3-backed avatar store
func NewAvatarStorage(cfg S3Config) (*AvatarStorage, error) {
	// Static credentials and a custom endpoint; path style is required
	// for MinIO
	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(cfg.Endpoint),
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
		UsePathStyle: true,
	})

	return &AvatarStorage{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: cfg.PublicURL,
	}, nil
}

// UploadInput represents one avatar upload
type UploadInput struct {
	UserID      string
	Reader      io.Reader
	ContentType string
	Size        int64
}

// UploadOutput represents the stored avatar
type UploadOutput struct {
	Key        string // Object key in S3
	URL        string // Public URL to access the image
	Size       int64
	UploadedAt time.Time
}

// Upload stores an avatar image and returns its public URL. Only image
// content types are accepted. The key embeds a fresh UUID so an upload
// never overwrites the previous avatar mid-download.
func (s *AvatarStorage) Upload(ctx context.Context, in UploadInput) (*UploadOutput, error) {
	ext := avatarExtension(in.ContentType)
	if ext == "" {
		return nil, apperror.InvalidInput("content_type", "avatar must be a jpeg, png, gif or webp image")
	}
	if in.Size <= 0 || in.Size > MaxAvatarSize {
		return nil, apperror.InvalidInput("size", "avatar must be between 1 byte and 5 MiB")
	}

	key := fmt.Sprintf("avatars/%s/%s%s", in.UserID, uuid.New().String(), ext)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          in.Reader,
		ContentType:   aws.String(in.ContentType),
		ContentLength: aws.Int64(in.Size),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading avatar to s3: %w", err)
	}

	return &UploadOutput{
		Key:        key,
		URL:        fmt.Sprintf("%s/%s", s.publicURL, key),
		Size:       in.Size,
		UploadedAt: time.Now(),
	}, nil
}

// KeyFromURL maps a public avatar URL back to its object key. It reports
// false for URLs outside this bucket, such as externally hosted avatars set
// through a profile edit.
func (s *AvatarStorage) KeyFromURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, s.publicURL+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// Delete removes a stored avatar
func (s *AvatarStorage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting avatar from s3: %w", err)
	}
	return nil
}

// avatarExtension returns the file extension for an accepted image content
// type, or "" when the type is not allowed
func avatarExtension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
