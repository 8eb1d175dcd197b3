package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/antiquefeed/antiquefeed-backend/pkg/config"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db"
	"github.com/antiquefeed/antiquefeed-backend/pkg/db/models"
	"github.com/antiquefeed/antiquefeed-backend/pkg/enums"
	pkgerrors "github.com/antiquefeed/antiquefeed-backend/pkg/errors"
	"github.com/antiquefeed/antiquefeed-backend/pkg/locks"
	"github.com/antiquefeed/antiquefeed-backend/pkg/logger"
	"github.com/antiquefeed/antiquefeed-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Sink receives every committed event exactly once, in sequence order per
// session. The broadcaster registers itself here.
type Sink func(event *models.SessionEvent)

// AppendInput captures the data required to append one event.
type AppendInput struct {
	SessionID uuid.UUID
	Kind      enums.EventKind
	SenderID  uuid.UUID
	Payload   any
}

// Service assigns gapless per-session sequence numbers and persists events.
type Service interface {
	Append(ctx context.Context, input AppendInput) (*models.SessionEvent, error)
	AppendInTx(ctx context.Context, tx *gorm.DB, input AppendInput) (*models.SessionEvent, error)
	LockSession(ctx context.Context, sessionID uuid.UUID) (func(), error)
	ReadSince(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.SessionEvent, error)
	Notify(event *models.SessionEvent)
	SetSink(sink Sink)
}

type service struct {
	repo    Repository
	tx      txRunner
	locks   *locks.KeyedMutex
	cfg     config.EventLogConfig
	logg    *logger.Logger
	metrics *metrics.SessionMetrics

	sinkMu sync.RWMutex
	sink   Sink
}

// NewService builds the sequencer service with the required dependencies.
func NewService(repo Repository, tx txRunner, keyed *locks.KeyedMutex, cfg config.EventLogConfig, logg *logger.Logger, m *metrics.SessionMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("event log repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if keyed == nil {
		return nil, fmt.Errorf("keyed mutex required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &service{
		repo:    repo,
		tx:      tx,
		locks:   keyed,
		cfg:     cfg,
		logg:    logg,
		metrics: m,
	}, nil
}

// SetSink installs the committed-event callback. Must be called before the
// gateway starts accepting traffic.
func (s *service) SetSink(sink Sink) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sink = sink
}

// Notify forwards a committed event to the sink. Exposed so callers that
// append inside their own transaction can publish after commit.
func (s *service) Notify(event *models.SessionEvent) {
	if event == nil {
		return
	}
	s.sinkMu.RLock()
	sink := s.sink
	s.sinkMu.RUnlock()
	if sink != nil {
		sink(event)
	}
	s.metrics.IncEventAppended(event.Kind.String())
}

// LockSession takes the per-session append lock. The returned release must be
// called exactly once.
func (s *service) LockSession(ctx context.Context, sessionID uuid.UUID) (func(), error) {
	release, err := s.locks.Acquire(ctx, sessionLockKey(sessionID), s.cfg.AppendLockWait)
	if err != nil {
		if errors.Is(err, locks.ErrWaitExpired) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "session log is busy")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquiring session lock")
	}
	return release, nil
}

func (s *service) Append(ctx context.Context, input AppendInput) (*models.SessionEvent, error) {
	if err := validateAppendInput(input); err != nil {
		return nil, err
	}

	release, err := s.LockSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	status, err := s.repo.SessionStatus(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "session not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading session status")
	}
	if status != enums.SessionStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeSessionClosed, "session has ended")
	}

	event, err := s.appendLocked(ctx, input)
	if err != nil {
		return nil, err
	}

	s.Notify(event)
	return event, nil
}

// appendLocked runs the sequence-and-insert transaction, retrying on unique
// violations raised by appends from other instances.
func (s *service) appendLocked(ctx context.Context, input AppendInput) (*models.SessionEvent, error) {
	payload, err := EncodePayload(input.Payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event payload")
	}

	var event *models.SessionEvent
	for attempt := 1; ; attempt++ {
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			txRepo := s.repo.WithTx(tx)
			seq, seqErr := txRepo.NextSeq(ctx, input.SessionID)
			if seqErr != nil {
				return seqErr
			}
			candidate := &models.SessionEvent{
				SessionID: input.SessionID,
				Seq:       seq,
				Kind:      input.Kind,
				Payload:   payload,
				SenderID:  input.SenderID,
			}
			inserted, insErr := txRepo.Insert(ctx, candidate)
			if insErr != nil {
				return insErr
			}
			event = inserted
			return nil
		})
		if err == nil {
			return event, nil
		}
		if !db.IsUniqueViolation(err, "") || attempt >= s.cfg.MaxAttempts {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "appending session event")
		}
		s.logg.Warn(s.logg.WithSessionID(ctx, input.SessionID.String()), "sequence collision, retrying append")
		if s.cfg.RetryBackoff > 0 {
			select {
			case <-time.After(s.cfg.RetryBackoff):
			case <-ctx.Done():
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "append cancelled")
			}
		}
	}
}

// AppendInTx appends inside a caller-owned transaction. The caller must hold
// the session lock and must call Notify after commit; no session status check
// happens here so the terminal event can ride the closing transaction.
func (s *service) AppendInTx(ctx context.Context, tx *gorm.DB, input AppendInput) (*models.SessionEvent, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := validateAppendInput(input); err != nil {
		return nil, err
	}

	payload, err := EncodePayload(input.Payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event payload")
	}

	txRepo := s.repo.WithTx(tx)
	seq, err := txRepo.NextSeq(ctx, input.SessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "assigning sequence")
	}

	event, err := txRepo.Insert(ctx, &models.SessionEvent{
		SessionID: input.SessionID,
		Seq:       seq,
		Kind:      input.Kind,
		Payload:   payload,
		SenderID:  input.SenderID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "appending session event")
	}
	return event, nil
}

func (s *service) ReadSince(ctx context.Context, sessionID uuid.UUID, afterSeq int64, limit int) ([]models.SessionEvent, error) {
	if sessionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if afterSeq < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "after_seq must not be negative")
	}

	events, err := s.repo.ListSince(ctx, sessionID, afterSeq, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reading session events")
	}
	return events, nil
}

func validateAppendInput(input AppendInput) error {
	if input.SessionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	if input.SenderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "sender id required")
	}
	if !input.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid event kind")
	}
	return nil
}

func sessionLockKey(sessionID uuid.UUID) string {
	return "session:" + sessionID.String()
}
