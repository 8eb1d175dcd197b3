package controllers

import (
	"net/http"

	"github.com/antiquefeed/antiquefeed-backend/api/responses"
	"github.com/antiquefeed/antiquefeed-backend/api/validators"
	mediasvc "github.com/antiquefeed/antiquefeed-backend/internal/media"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
)

type presignUploadRequest struct {
	MimeType  string `json:"mime_type" validate:"required"`
	FileName  string `json:"file_name" validate:"required,max=255"`
	SizeBytes int64  `json:"size_bytes" validate:"required,min=1"`
}

// PresignUpload issues a short-lived signed URL for a direct image upload.
func PresignUpload(svc mediasvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "media service unavailable"))
			return
		}

		caller, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload presignUploadRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		output, err := svc.PresignUpload(r.Context(), caller.ID, mediasvc.PresignInput{
			MimeType:  payload.MimeType,
			FileName:  payload.FileName,
			SizeBytes: payload.SizeBytes,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, output)
	}
}
