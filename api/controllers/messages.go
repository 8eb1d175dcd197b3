package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/antiquefeed/antiquefeed-backend/api/responses"
	"github.com/antiquefeed/antiquefeed-backend/api/validators"
	"github.com/antiquefeed/antiquefeed-backend/internal/eventlog"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
)

const defaultEventPageSize = 200

type postMessageRequest struct {
	Kind      string  `json:"kind" validate:"required"`
	Body      string  `json:"body,omitempty" validate:"max=2000"`
	ImageURL  string  `json:"image_url,omitempty" validate:"omitempty,url"`
	ProductID *string `json:"product_id,omitempty"`
}

func (req postMessageRequest) toPayload() (eventlog.MessagePayload, error) {
	kind, err := enums.ParseMessageKind(strings.TrimSpace(req.Kind))
	if err != nil {
		return eventlog.MessagePayload{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid message kind")
	}

	payload := eventlog.MessagePayload{
		Kind:     kind,
		Body:     strings.TrimSpace(req.Body),
		ImageURL: strings.TrimSpace(req.ImageURL),
	}

	switch kind {
	case enums.MessageKindText:
		if payload.Body == "" {
			return eventlog.MessagePayload{}, pkgerrors.New(pkgerrors.CodeValidation, "text messages require a body")
		}
	case enums.MessageKindImage:
		if payload.ImageURL == "" {
			return eventlog.MessagePayload{}, pkgerrors.New(pkgerrors.CodeValidation, "image messages require an image url")
		}
	case enums.MessageKindProduct:
		if req.ProductID == nil {
			return eventlog.MessagePayload{}, pkgerrors.New(pkgerrors.CodeValidation, "product messages require a product id")
		}
	}

	if req.ProductID != nil {
		productID, parseErr := uuid.Parse(*req.ProductID)
		if parseErr != nil {
			return eventlog.MessagePayload{}, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid product id")
		}
		payload.ProductID = &productID
	}

	return payload, nil
}

// PostMessage appends a chat message to a session's event log and fans it out
// to subscribers.
func PostMessage(svc eventlog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "event service unavailable"))
			return
		}

		caller, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sessionID, err := uuidParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req postMessageRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payload, err := req.toPayload()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		event, err := svc.Append(r.Context(), eventlog.AppendInput{
			SessionID: sessionID,
			Kind:      enums.EventKindMessage,
			SenderID:  caller.ID,
			Payload:   payload,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, event)
	}
}

// ListSessionEvents pages through a session's event log after a sequence
// number, in order. Clients use it for reconnect catch-up and history.
func ListSessionEvents(svc eventlog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "event service unavailable"))
			return
		}

		sessionID, err := uuidParam(r, "sessionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		afterSeq, err := afterSeqParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, _, err := listParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if limit == defaultListLimit && r.URL.Query().Get("limit") == "" {
			limit = defaultEventPageSize
		}

		events, err := svc.ReadSince(r.Context(), sessionID, afterSeq, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, events)
	}
}

func afterSeqParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("after_seq")
	if raw == "" {
		return 0, nil
	}
	afterSeq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || afterSeq < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid after_seq")
	}
	return afterSeq, nil
}
