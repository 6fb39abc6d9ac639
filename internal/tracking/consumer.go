package tracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/apperr"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/logger"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/metrics"
)

// ReceiveAPI is the part of the SQS client the consumer uses.
type ReceiveAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Applier aggregates one event. *analytics.Service satisfies it.
type Applier interface {
	Apply(ctx context.Context, e domain.AnalyticsEvent) error
}

// Consumer drains the analytics queue into the counter store.
type Consumer struct {
	client       ReceiveAPI
	queueURL     string
	applier      Applier
	metrics      *metrics.Metrics
	retryDelay   time.Duration
	applyTimeout time.Duration
	done         chan struct{}
	stopped      chan struct{}
}

// NewConsumer creates a consumer. m may be nil.
func NewConsumer(client ReceiveAPI, queueURL string, applier Applier, m *metrics.Metrics) *Consumer {
	return &Consumer{
		client:       client,
		queueURL:     queueURL,
		applier:      applier,
		metrics:      m,
		retryDelay:   5 * time.Second,
		applyTimeout: 5 * time.Second,
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	logger.Info("SQS analytics consumer started", "queue", c.queueURL)
	go c.poll(ctx)
}

// Stop ends polling and waits for the current batch to finish.
func (c *Consumer) Stop() {
	close(c.done)
	<-c.stopped
}

func (c *Consumer) poll(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("SQS receive error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case <-time.After(c.retryDelay):
			}
			continue
		}

		for _, msg := range out.Messages {
			c.handle(ctx, msg)
		}
	}
}

// handle applies one message and then deletes it whatever the outcome.
// A failed apply may already have written some of the event's buckets, so
// redelivering it would count those twice. The apply and delete run
// detached from ctx so shutdown does not split an event.
func (c *Consumer) handle(ctx context.Context, msg types.Message) {
	ctx = context.WithoutCancel(ctx)
	defer c.deleteMessage(ctx, msg.ReceiptHandle)

	var evt domain.AnalyticsEvent
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &evt); err != nil {
		logger.Warn("SQS bad message", "id", aws.ToString(msg.MessageId), "error", err)
		return
	}

	applyCtx, cancel := context.WithTimeout(ctx, c.applyTimeout)
	defer cancel()
	if err := c.applier.Apply(applyCtx, evt); err != nil {
		if apperr.KindOf(err) == apperr.Validation {
			logger.Warn("SQS dropping invalid event", "kind", evt.Kind, "error", err)
			return
		}
		c.metrics.AnalyticsWriteFailed(string(evt.Kind))
		logger.Error("SQS apply error", "kind", evt.Kind, "hash", evt.Hash, "cid", evt.CampaignID, "error", err)
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		logger.Warn("SQS delete error", "error", err)
	}
}
