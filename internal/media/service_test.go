package media

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
)

type fakeSigner struct {
	lastObject string
	err        error
}

func (f *fakeSigner) SignedURL(bucket, object, contentType string, expires time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.lastObject = object
	return fmt.Sprintf("https://signed.example/%s/%s", bucket, object), nil
}

func (f *fakeSigner) PublicURL(bucket, object string) string {
	return fmt.Sprintf("https://public.example/%s/%s", bucket, object)
}

func (f *fakeSigner) DefaultBucket() string {
	return "product_images"
}

func newMediaService(t *testing.T, storage signer) Service {
	t.Helper()

	svc, err := NewService(storage, config.MediaConfig{BucketName: "product_images", MaxUploadMB: 10})
	require.NoError(t, err)
	return svc
}

func TestPresignUploadReturnsURLs(t *testing.T) {
	storage := &fakeSigner{}
	svc := newMediaService(t, storage)
	userID := uuid.New()

	out, err := svc.PresignUpload(context.Background(), userID, PresignInput{
		MimeType:  "image/jpeg",
		FileName:  "lamp.jpg",
		SizeBytes: 1024,
	})
	require.NoError(t, err)
	assert.Contains(t, out.SignedPUTURL, "https://signed.example/product_images/")
	assert.Contains(t, out.PublicURL, "https://public.example/product_images/")
	assert.Contains(t, out.ObjectKey, userID.String())
	assert.Equal(t, "image/jpeg", out.ContentType)
	assert.True(t, out.ExpiresAt.After(time.Now()))
}

func TestPresignUploadValidation(t *testing.T) {
	svc := newMediaService(t, &fakeSigner{})

	cases := []struct {
		name  string
		input PresignInput
	}{
		{"missing file name", PresignInput{MimeType: "image/png", SizeBytes: 10}},
		{"zero size", PresignInput{MimeType: "image/png", FileName: "a.png"}},
		{"oversized", PresignInput{MimeType: "image/png", FileName: "a.png", SizeBytes: 11 * 1024 * 1024}},
		{"bad mime", PresignInput{MimeType: "application/pdf", FileName: "a.pdf", SizeBytes: 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PresignUpload(context.Background(), uuid.New(), tc.input)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}

	_, err := svc.PresignUpload(context.Background(), uuid.Nil, PresignInput{
		MimeType: "image/png", FileName: "a.png", SizeBytes: 10,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestPresignUploadWrapsSignerFailure(t *testing.T) {
	svc := newMediaService(t, &fakeSigner{err: fmt.Errorf("no credentials")})

	_, err := svc.PresignUpload(context.Background(), uuid.New(), PresignInput{
		MimeType:  "image/png",
		FileName:  "a.png",
		SizeBytes: 10,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
