package livesessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/antiquefeed/antiquefeed-backend/internal/eventlog"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
)

const maxTitleLength = 120

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ParticipantCounter reports live viewer counts. Satisfied by broadcast.Hub.
type ParticipantCounter interface {
	Participants(ctx context.Context, sessionID uuid.UUID) (int64, error)
}

// Service owns the live session lifecycle.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*SessionView, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*SessionView, error)
	List(ctx context.Context, status enums.SessionStatus, limit, offset int) ([]SessionView, error)
	End(ctx context.Context, input EndInput) (*SessionView, error)
}

type service struct {
	repo         Repository
	tx           txRunner
	events       eventlog.Service
	participants ParticipantCounter
	logg         *logger.Logger
	now          func() time.Time
}

// NewService builds a live session service with the required dependencies.
func NewService(repo Repository, tx txRunner, events eventlog.Service, participants ParticipantCounter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("live session repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if events == nil {
		return nil, fmt.Errorf("event log service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:         repo,
		tx:           tx,
		events:       events,
		participants: participants,
		logg:         logg,
		now:          time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*SessionView, error) {
	if input.SellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if input.ActorRole != enums.UserRoleSeller {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only sellers can open sessions")
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			input.Title = nil
		} else if len(title) > maxTitleLength {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is too long")
		} else {
			input.Title = &title
		}
	}

	session, err := s.repo.Create(ctx, &models.LiveSession{
		SellerID: input.SellerID,
		Title:    input.Title,
		Status:   enums.SessionStatusActive,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating live session")
	}

	s.logg.Info(s.logg.WithSessionID(ctx, session.ID.String()), "live session opened")
	return s.view(ctx, session)
}

func (s *service) Get(ctx context.Context, sessionID uuid.UUID) (*SessionView, error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	session, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading session")
	}
	return s.view(ctx, session)
}

func (s *service) List(ctx context.Context, status enums.SessionStatus, limit, offset int) ([]SessionView, error) {
	if status != "" && !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid session status")
	}

	sessions, err := s.repo.List(ctx, status, limit, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing sessions")
	}

	sellerIDs := make([]uuid.UUID, 0, len(sessions))
	for _, session := range sessions {
		sellerIDs = append(sellerIDs, session.SellerID)
	}
	names, err := s.sellerNames(ctx, sellerIDs)
	if err != nil {
		return nil, err
	}

	views := make([]SessionView, 0, len(sessions))
	for i := range sessions {
		session := sessions[i]
		count := s.countParticipants(ctx, session.ID)
		views = append(views, *toSessionView(&session, names[session.SellerID], count))
	}
	return views, nil
}

// End closes a session exactly once. Replayed calls on an already-ended
// session return the current state without appending another terminal event.
func (s *service) End(ctx context.Context, input EndInput) (*SessionView, error) {
	if input.SessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id required")
	}

	session, err := s.repo.FindByID(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading session")
	}
	if session.SellerID != input.ActorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the owning seller can end a session")
	}

	release, err := s.events.LockSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	var terminal *models.SessionEvent
	endedAt := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ended, txErr := s.repo.WithTx(tx).MarkEnded(ctx, input.SessionID, endedAt)
		if txErr != nil {
			return txErr
		}
		if !ended {
			// already closed, nothing to append
			return nil
		}
		terminal, txErr = s.events.AppendInTx(ctx, tx, eventlog.AppendInput{
			SessionID: input.SessionID,
			Kind:      enums.EventKindSessionEnded,
			SenderID:  input.ActorID,
			Payload:   eventlog.SessionEndedPayload{EndedBy: input.ActorID},
		})
		return txErr
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ending session")
	}

	if terminal != nil {
		s.events.Notify(terminal)
		s.logg.Info(s.logg.WithSessionID(ctx, input.SessionID.String()), "live session ended")
	}

	session, err = s.repo.FindByID(ctx, input.SessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading session")
	}
	return s.view(ctx, session)
}

func (s *service) view(ctx context.Context, session *models.LiveSession) (*SessionView, error) {
	names, err := s.sellerNames(ctx, []uuid.UUID{session.SellerID})
	if err != nil {
		return nil, err
	}
	return toSessionView(session, names[session.SellerID], s.countParticipants(ctx, session.ID)), nil
}

func (s *service) sellerNames(ctx context.Context, sellerIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	profiles, err := s.repo.FindProfiles(ctx, sellerIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading seller profiles")
	}
	names := make(map[uuid.UUID]string, len(profiles))
	for _, profile := range profiles {
		names[profile.UserID] = profile.DisplayName
	}
	return names, nil
}

func (s *service) countParticipants(ctx context.Context, sessionID uuid.UUID) int64 {
	if s.participants == nil {
		return 0
	}
	count, err := s.participants.Participants(ctx, sessionID)
	if err != nil {
		s.logg.Warn(s.logg.WithSessionID(ctx, sessionID.String()), "participant count unavailable")
		return 0
	}
	return count
}
