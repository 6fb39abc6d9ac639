package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/logger"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/metrics"
)

// Recorder accepts analytics events without blocking the caller on the
// write. Failures are reported out of band.
type Recorder interface {
	Record(e domain.AnalyticsEvent)
}

// AsyncRecorder applies events to a Service on background goroutines, each
// bounded by a write timeout.
type AsyncRecorder struct {
	svc     *Service
	timeout time.Duration
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewAsyncRecorder creates a recorder writing through svc. m may be nil.
func NewAsyncRecorder(svc *Service, timeout time.Duration, m *metrics.Metrics) *AsyncRecorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AsyncRecorder{svc: svc, timeout: timeout, metrics: m}
}

// Record stamps e and applies it in the background.
func (r *AsyncRecorder) Record(e domain.AnalyticsEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = r.svc.now()
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.svc.Apply(ctx, e); err != nil {
			r.metrics.AnalyticsWriteFailed(string(e.Kind))
			logger.Error("analytics write failed", "kind", e.Kind, "hash", e.Hash, "cid", e.CampaignID, "error", err)
		}
	}()
}

// Wait blocks until all in-flight writes have finished.
func (r *AsyncRecorder) Wait() { r.wg.Wait() }
