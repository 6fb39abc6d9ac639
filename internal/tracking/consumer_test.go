package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/apperr"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/metrics"
	"github.com/cygnusb2b/fortnight-graph/internal/repository/memory"
	"github.com/cygnusb2b/fortnight-graph/internal/service/analytics"
)

type fakeQueue struct {
	mu      sync.Mutex
	sent    []string
	batches [][]types.Message
	deleted []string
	sendErr error
}

func (q *fakeQueue) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sendErr != nil {
		return nil, q.sendErr
	}
	q.sent = append(q.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (q *fakeQueue) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	q.mu.Lock()
	if len(q.batches) > 0 {
		b := q.batches[0]
		q.batches = q.batches[1:]
		q.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: b}, nil
	}
	q.mu.Unlock()
	// Long poll with nothing queued.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return &sqs.ReceiveMessageOutput{}, nil
	}
}

func (q *fakeQueue) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (q *fakeQueue) deletedHandles() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.deleted...)
}

type fakeApplier struct {
	mu      sync.Mutex
	applied []domain.AnalyticsEvent
	err     error
}

func (a *fakeApplier) Apply(_ context.Context, e domain.AnalyticsEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.applied = append(a.applied, e)
	return nil
}

func message(t *testing.T, handle string, e domain.AnalyticsEvent) types.Message {
	t.Helper()
	body, err := json.Marshal(e)
	require.NoError(t, err)
	return types.Message{Body: aws.String(string(body)), ReceiptHandle: aws.String(handle), MessageId: aws.String(handle)}
}

func TestQueueRecorder_PublishesJSON(t *testing.T) {
	q := &fakeQueue{}
	rec := NewQueueRecorder(q, "https://sqs.local/analytics", nil)

	rec.Record(domain.AnalyticsEvent{Kind: domain.EventClick, Hash: "h1", CampaignID: "c1", Count: 1})
	rec.Wait()

	require.Len(t, q.sent, 1)
	var got domain.AnalyticsEvent
	require.NoError(t, json.Unmarshal([]byte(q.sent[0]), &got))
	assert.Equal(t, domain.EventClick, got.Kind)
	assert.Equal(t, "h1", got.Hash)
	assert.Equal(t, "c1", got.CampaignID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestQueueRecorder_SendFailureDoesNotPanic(t *testing.T) {
	q := &fakeQueue{sendErr: errors.New("throttled")}
	rec := NewQueueRecorder(q, "https://sqs.local/analytics", nil)
	rec.Record(domain.AnalyticsEvent{Kind: domain.EventView, Hash: "h1"})
	rec.Wait()
	assert.Empty(t, q.sent)
}

func TestConsumer_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("applies and deletes", func(t *testing.T) {
		q, a := &fakeQueue{}, &fakeApplier{}
		c := NewConsumer(q, "url", a, nil)
		c.handle(ctx, message(t, "m1", domain.AnalyticsEvent{Kind: domain.EventLoad, Hash: "h"}))
		assert.Len(t, a.applied, 1)
		assert.Equal(t, []string{"m1"}, q.deletedHandles())
	})

	t.Run("bad JSON is deleted", func(t *testing.T) {
		q, a := &fakeQueue{}, &fakeApplier{}
		c := NewConsumer(q, "url", a, nil)
		c.handle(ctx, types.Message{Body: aws.String("{"), ReceiptHandle: aws.String("m2")})
		assert.Empty(t, a.applied)
		assert.Equal(t, []string{"m2"}, q.deletedHandles())
	})

	t.Run("invalid event is deleted", func(t *testing.T) {
		q := &fakeQueue{}
		a := &fakeApplier{err: apperr.Validationf("a request hash is required")}
		c := NewConsumer(q, "url", a, nil)
		c.handle(ctx, message(t, "m3", domain.AnalyticsEvent{Kind: domain.EventLoad}))
		assert.Equal(t, []string{"m3"}, q.deletedHandles())
	})

	t.Run("store failure is counted and deleted", func(t *testing.T) {
		q := &fakeQueue{}
		a := &fakeApplier{err: errors.New("connection reset")}
		m := metrics.New(prometheus.NewRegistry())
		c := NewConsumer(q, "url", a, m)
		c.handle(ctx, message(t, "m4", domain.AnalyticsEvent{Kind: domain.EventLoad, Hash: "h"}))
		assert.Equal(t, []string{"m4"}, q.deletedHandles())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalyticsWriteError.WithLabelValues("load")))
	})
}

// flakyCounters fails exactly one IncrementBucket call.
type flakyCounters struct {
	*memory.CounterStore
	mu     sync.Mutex
	calls  int
	failOn int
}

func (f *flakyCounters) IncrementBucket(ctx context.Context, key domain.BucketKey, by int64, at time.Time) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.failOn
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.CounterStore.IncrementBucket(ctx, key, by, at)
}

func TestConsumer_PartialFailureIsNotRedelivered(t *testing.T) {
	q := &fakeQueue{}
	store := &flakyCounters{CounterStore: memory.NewCounterStore(), failOn: 2}
	c := NewConsumer(q, "url", analytics.NewService(store), nil)

	msg := message(t, "m1", domain.AnalyticsEvent{
		Kind:      domain.EventView,
		Hash:      "h",
		Timestamp: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
	})
	c.handle(context.Background(), msg)
	if len(q.deletedHandles()) == 0 {
		// Still on the queue, so SQS would hand it out again.
		c.handle(context.Background(), msg)
	}

	assert.Equal(t, []string{"m1"}, q.deletedHandles())
	for _, counter := range store.Snapshot() {
		assert.EqualValues(t, 1, counter.N, "%s bucket counted twice", counter.Key.Granularity)
	}
}

type applyFunc func(ctx context.Context, e domain.AnalyticsEvent) error

func (f applyFunc) Apply(ctx context.Context, e domain.AnalyticsEvent) error { return f(ctx, e) }

func TestConsumer_HandleSurvivesShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var applyErr error
	q := &fakeQueue{}
	c := NewConsumer(q, "url", applyFunc(func(ctx context.Context, _ domain.AnalyticsEvent) error {
		applyErr = ctx.Err()
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	}), nil)

	c.handle(ctx, message(t, "m1", domain.AnalyticsEvent{Kind: domain.EventLoad, Hash: "h"}))
	assert.NoError(t, applyErr)
	assert.Equal(t, []string{"m1"}, q.deletedHandles())
}

func TestConsumer_StartStop(t *testing.T) {
	q := &fakeQueue{batches: [][]types.Message{{
		message(t, "a", domain.AnalyticsEvent{Kind: domain.EventView, Hash: "h"}),
		message(t, "b", domain.AnalyticsEvent{Kind: domain.EventClick, Hash: "h", CampaignID: "c"}),
	}}}
	a := &fakeApplier{}
	c := NewConsumer(q, "url", a, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	assert.Eventually(t, func() bool { return len(q.deletedHandles()) == 2 }, time.Second, 5*time.Millisecond)
	c.Stop()

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.applied, 2)
}
