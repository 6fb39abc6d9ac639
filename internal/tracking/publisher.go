package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/logger"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/metrics"
)

// SendAPI is the part of the SQS client the publisher uses.
type SendAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// QueueRecorder publishes analytics events to SQS for cmd/worker to apply.
// It satisfies analytics.Recorder.
type QueueRecorder struct {
	client   SendAPI
	queueURL string
	timeout  time.Duration
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

func NewQueueRecorder(client SendAPI, queueURL string, m *metrics.Metrics) *QueueRecorder {
	return &QueueRecorder{client: client, queueURL: queueURL, timeout: 5 * time.Second, metrics: m}
}

// Record sends e in the background. Failures are logged and counted.
func (p *QueueRecorder) Record(e domain.AnalyticsEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		logger.Error("tracking: marshal analytics event", "kind", e.Kind, "error", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			p.metrics.AnalyticsWriteFailed(string(e.Kind))
			logger.Error("tracking: publish to SQS", "kind", e.Kind, "hash", e.Hash, "error", err)
		}
	}()
}

// Wait blocks until in-flight sends have finished.
func (p *QueueRecorder) Wait() { p.wg.Wait() }
