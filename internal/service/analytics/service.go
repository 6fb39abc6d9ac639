package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/apperr"
)

// Service records ad requests and tracking events as counter increments.
// It is safe for concurrent use if the store is.
type Service struct {
	store CounterStore
	now   func() time.Time
}

// NewService creates an analytics service backed by store.
func NewService(store CounterStore) *Service {
	return &Service{store: store, now: time.Now}
}

// RecordRequest counts count deliveries of the request shape hash. A zero
// count counts one.
func (s *Service) RecordRequest(ctx context.Context, hash, campaignID string, count int64) error {
	return s.Apply(ctx, domain.AnalyticsEvent{
		Kind:       domain.EventRequest,
		Hash:       hash,
		CampaignID: campaignID,
		Count:      count,
	})
}

// RecordEvent counts one load, view or click. Detected bots are counted in
// the bot family without a campaign id.
func (s *Service) RecordEvent(ctx context.Context, kind domain.EventKind, hash, campaignID string, bot *domain.BotInfo) error {
	if kind == domain.EventRequest {
		return apperr.Wrap(apperr.Validation, ErrInvalidEvent, fmt.Sprintf("unsupported tracking event %q", kind))
	}
	return s.Apply(ctx, domain.AnalyticsEvent{
		Kind:       kind,
		Hash:       hash,
		CampaignID: campaignID,
		Bot:        bot,
	})
}

// Apply validates e and increments every bucket it touches. A zero
// timestamp is stamped with the current time. Failed bucket writes do not
// stop the remaining ones; their errors are joined.
func (s *Service) Apply(ctx context.Context, e domain.AnalyticsEvent) error {
	if err := validate(&e); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	var errs []error
	for _, key := range BucketKeys(e) {
		if err := s.store.IncrementBucket(ctx, key, e.Count, e.Timestamp); err != nil {
			errs = append(errs, fmt.Errorf("increment %s %s/%s bucket: %w", key.Family, key.Event, key.Granularity, err))
		}
	}
	return errors.Join(errs...)
}

func validate(e *domain.AnalyticsEvent) error {
	if e.Hash == "" {
		return apperr.Wrap(apperr.Validation, ErrMissingHash, "a request hash is required")
	}
	if !e.Kind.Valid() {
		return apperr.Wrap(apperr.Validation, ErrInvalidEvent, fmt.Sprintf("unsupported tracking event %q", e.Kind))
	}
	if e.Count < 0 {
		return apperr.Wrap(apperr.Validation, ErrInvalidCount, "count must not be negative")
	}
	if e.Count == 0 {
		e.Count = 1
	}
	return nil
}
