package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/antiquefeed/antiquefeed-backend/api/middleware"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type actor struct {
	ID   uuid.UUID
	Role enums.UserRole
}

func actorFromRequest(r *http.Request) (actor, error) {
	rawID := middleware.UserIDFromContext(r.Context())
	if rawID == "" {
		return actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	role, err := enums.ParseUserRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		return actor{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid actor role")
	}
	return actor{ID: id, Role: role}, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name)
	}
	return id, nil
}

func listParams(r *http.Request) (limit, offset int, err error) {
	limit = defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed < 1 {
			return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid limit")
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed < 0 {
			return 0, 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid offset")
		}
		offset = parsed
	}
	return limit, offset, nil
}
