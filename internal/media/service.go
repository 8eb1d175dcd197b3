package media

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
)

const uploadTTL = 15 * time.Minute

var allowedMimeTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type signer interface {
	SignedURL(bucket, object, contentType string, expires time.Duration) (string, error)
	PublicURL(bucket, object string) string
	DefaultBucket() string
}

// Service hands out signed upload URLs for product and chat images.
type Service interface {
	PresignUpload(ctx context.Context, userID uuid.UUID, input PresignInput) (*PresignOutput, error)
}

type service struct {
	storage signer
	cfg     config.MediaConfig
}

// PresignInput models the payload required to request an upload URL.
type PresignInput struct {
	MimeType  string
	FileName  string
	SizeBytes int64
}

// PresignOutput contains the upload URL and the public URL the client embeds
// in messages and product posts once the PUT succeeds.
type PresignOutput struct {
	ObjectKey    string    `json:"object_key"`
	SignedPUTURL string    `json:"signed_put_url"`
	PublicURL    string    `json:"public_url"`
	ContentType  string    `json:"content_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewService builds a media service backed by the provided storage signer.
func NewService(storage signer, cfg config.MediaConfig) (Service, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage signer required")
	}
	if cfg.MaxUploadMB <= 0 {
		return nil, fmt.Errorf("max upload size must be positive")
	}
	return &service{storage: storage, cfg: cfg}, nil
}

func (s *service) PresignUpload(ctx context.Context, userID uuid.UUID, input PresignInput) (*PresignOutput, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user identity missing")
	}

	fileName := strings.TrimSpace(input.FileName)
	if fileName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file_name is required")
	}

	maxBytes := int64(s.cfg.MaxUploadMB) * 1024 * 1024
	if input.SizeBytes <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "size_bytes must be positive")
	}
	if input.SizeBytes > maxBytes {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("size_bytes must not exceed %d bytes", maxBytes))
	}

	mimeType := strings.TrimSpace(strings.ToLower(input.MimeType))
	ext, ok := allowedMimeTypes[mimeType]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mime_type not allowed")
	}

	objectKey := path.Join(userID.String(), uuid.NewString()+ext)
	bucket := s.storage.DefaultBucket()

	signedURL, err := s.storage.SignedURL(bucket, objectKey, mimeType, uploadTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "signing upload url")
	}

	return &PresignOutput{
		ObjectKey:    objectKey,
		SignedPUTURL: signedURL,
		PublicURL:    s.storage.PublicURL(bucket, objectKey),
		ContentType:  mimeType,
		ExpiresAt:    time.Now().Add(uploadTTL),
	}, nil
}
