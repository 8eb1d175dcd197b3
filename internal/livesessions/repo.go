package livesessions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
)

// Repository persists live sessions and the profile reads the views need.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, session *models.LiveSession) (*models.LiveSession, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	List(ctx context.Context, status enums.SessionStatus, limit, offset int) ([]models.LiveSession, error)
	MarkEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error)
	FindProfiles(ctx context.Context, userIDs []uuid.UUID) ([]models.Profile, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a live session repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, session *models.LiveSession) (*models.LiveSession, error) {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	var session models.LiveSession
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repository) List(ctx context.Context, status enums.SessionStatus, limit, offset int) ([]models.LiveSession, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var sessions []models.LiveSession
	if err := query.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// MarkEnded flips an active session to ended. Returns false when the session
// was not active, which callers treat as the idempotent replay case.
func (r *repository) MarkEnded(ctx context.Context, id uuid.UUID, endedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.LiveSession{}).
		Where("id = ? AND status = ?", id, enums.SessionStatusActive).
		Updates(map[string]any{
			"status":   enums.SessionStatusEnded,
			"ended_at": endedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindProfiles(ctx context.Context, userIDs []uuid.UUID) ([]models.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var profiles []models.Profile
	err := r.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}
