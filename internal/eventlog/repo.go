package eventlog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
)

// Repository persists session events and answers sequence queries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.SessionEvent) (*models.SessionEvent, error)
	NextSeq(ctx context.Context, sessionID uuid.UUID) (int64, error)
	LastSeq(ctx context.Context, sessionID uuid.UUID) (int64, error)
	ListSince(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.SessionEvent, error)
	SessionStatus(ctx context.Context, sessionID uuid.UUID) (enums.SessionStatus, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an event log repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, event *models.SessionEvent) (*models.SessionEvent, error) {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return nil, err
	}
	return event, nil
}

// NextSeq returns the next sequence number for a session. Callers must hold
// the session lock; the unique (session_id, seq) index is the backstop for
// races this instance cannot see.
func (r *repository) NextSeq(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	last, err := r.LastSeq(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (r *repository) LastSeq(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	var last *int64
	err := r.db.WithContext(ctx).
		Model(&models.SessionEvent{}).
		Where("session_id = ?", sessionID).
		Select("MAX(seq)").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	return *last, nil
}

func (r *repository) ListSince(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.SessionEvent, error) {
	query := r.db.WithContext(ctx).
		Where("session_id = ? AND seq > ?", sessionID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []models.SessionEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) SessionStatus(ctx context.Context, sessionID uuid.UUID) (enums.SessionStatus, error) {
	var session models.LiveSession
	err := r.db.WithContext(ctx).
		Select("status").
		Where("id = ?", sessionID).
		First(&session).Error
	if err != nil {
		return "", err
	}
	return session.Status, nil
}
