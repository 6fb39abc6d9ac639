package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
)

// CounterRepo implements analytics.CounterStore with a single-statement
// upsert. Absent campaign ids and bot values are stored as empty strings so
// they take part in the primary key.
type CounterRepo struct{ db *sql.DB }

// NewCounterRepo creates a Postgres-backed counter store.
func NewCounterRepo(db *sql.DB) *CounterRepo { return &CounterRepo{db: db} }

func (r *CounterRepo) IncrementBucket(ctx context.Context, key domain.BucketKey, by int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO analytics_counters
			(family, event, granularity, bucket, hash, campaign_id, bot_value, n, last)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (family, event, granularity, bucket, hash, campaign_id, bot_value)
		DO UPDATE SET
			n = analytics_counters.n + EXCLUDED.n,
			last = GREATEST(analytics_counters.last, EXCLUDED.last)
	`, string(key.Family), string(key.Event), string(key.Granularity), key.Bucket.UTC(),
		key.Hash, key.CampaignID, key.BotValue, by, at.UTC())
	if err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	return nil
}

// GetCounter reads one bucket. A missing bucket reads as zero.
func (r *CounterRepo) GetCounter(ctx context.Context, key domain.BucketKey) (domain.Counter, error) {
	c := domain.Counter{Key: key}
	err := r.db.QueryRowContext(ctx, `
		SELECT n, last FROM analytics_counters
		WHERE family = $1 AND event = $2 AND granularity = $3 AND bucket = $4
		  AND hash = $5 AND campaign_id = $6 AND bot_value = $7
	`, string(key.Family), string(key.Event), string(key.Granularity), key.Bucket.UTC(),
		key.Hash, key.CampaignID, key.BotValue).Scan(&c.N, &c.Last)
	if err == sql.ErrNoRows {
		return c, nil
	}
	if err != nil {
		return c, fmt.Errorf("get counter: %w", err)
	}
	return c, nil
}
