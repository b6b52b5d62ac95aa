package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"presenced/internal/store"

	"github.com/google/uuid"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("status store unavailable")
)

type Service struct {
	store store.Store
	hub   *Hub
	ttl   time.Duration
}

func NewService(st store.Store, hub *Hub, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: st, hub: hub, ttl: ttl}
}

// UpdateStatus records the status durably, then broadcasts it. Durability
// precedes visibility: a failed store write broadcasts nothing. A refused
// publish after the write succeeded is not an error, the store is the
// source of truth and the hub only closes at shutdown.
func (s *Service) UpdateStatus(ctx context.Context, userID, statusValue string) (StatusEvent, error) {
	if userID == "" {
		return StatusEvent{}, fmt.Errorf("%w: user_id must not be empty", ErrInvalidInput)
	}
	if statusValue == "" {
		return StatusEvent{}, fmt.Errorf("%w: status must not be empty", ErrInvalidInput)
	}
	ev := StatusEvent{
		EventID:    uuid.NewString(),
		UserID:     userID,
		Status:     statusValue,
		ObservedAt: time.Now().UTC(),
	}
	if err := s.store.Put(ctx, userID, statusValue, s.ttl); err != nil {
		return StatusEvent{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	n, err := s.hub.Publish(ev)
	if err != nil {
		slog.Warn("broadcast skipped, hub closed", "user_id", userID)
	} else {
		slog.Debug("status broadcast", "user_id", userID, "status", statusValue, "subscribers", n)
	}
	return ev, nil
}

// GetStatus reads the last written status. Absent and expired keys are
// indistinguishable; both return ok=false.
func (s *Service) GetStatus(ctx context.Context, userID string) (string, bool, error) {
	if userID == "" {
		return "", false, fmt.Errorf("%w: user_id must not be empty", ErrInvalidInput)
	}
	value, ok, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return value, ok, nil
}
