package analytics

import (
	"context"
	"time"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
)

// CounterStore persists counter buckets. Implementations must be safe for
// concurrent use.
type CounterStore interface {
	// IncrementBucket adds by to the bucket's n and advances last to at if
	// at is later, creating the bucket when it does not exist. It must be a
	// single atomic operation in the store.
	IncrementBucket(ctx context.Context, key domain.BucketKey, by int64, at time.Time) error
}
