package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/service/delivery"
)

// CampaignRepo implements delivery.CampaignRepository against PostgreSQL.
// Targeting key-values are stored as a flat jsonb object and creatives as a
// jsonb array.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `
	id, name, status, url, start_date, end_date, placement_ids,
	kvs, creatives, created_at, updated_at`

// FindEligible pushes the whole eligibility predicate into SQL. The kvs
// containment in both directions requires the campaign pairs and the request
// pairs to be the same set.
func (r *CampaignRepo) FindEligible(ctx context.Context, q delivery.Query) ([]domain.Campaign, error) {
	kvs, err := kvsJSON(q.KVs)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+campaignColumns+`
		FROM campaigns
		WHERE status = $1
		  AND start_date <= $2
		  AND (end_date IS NULL OR end_date > $2)
		  AND $3 = ANY(placement_ids)
		  AND kvs @> $4::jsonb
		  AND kvs <@ $4::jsonb
	`, string(domain.CampaignActive), q.Now, q.PlacementID, kvs)
	if err != nil {
		return nil, fmt.Errorf("find eligible campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return out, nil
}

func (r *CampaignRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `SELECT`+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(s scanner) (*domain.Campaign, error) {
	var (
		c         domain.Campaign
		end       sql.NullTime
		kvs       []byte
		creatives []byte
	)
	err := s.Scan(
		&c.ID, &c.Name, &c.Status, &c.URL, &c.Criteria.Start, &end,
		pq.Array(&c.Criteria.PlacementIDs), &kvs, &creatives, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	if end.Valid {
		t := end.Time
		c.Criteria.End = &t
	}
	if len(kvs) > 0 {
		var m map[string]string
		if err := json.Unmarshal(kvs, &m); err != nil {
			return nil, fmt.Errorf("decode campaign %s kvs: %w", c.ID, err)
		}
		c.Criteria.KVs = keyValues(m)
	}
	if len(creatives) > 0 {
		if err := json.Unmarshal(creatives, &c.Creatives); err != nil {
			return nil, fmt.Errorf("decode campaign %s creatives: %w", c.ID, err)
		}
	}
	return &c, nil
}

func kvsJSON(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode kvs: %w", err)
	}
	return string(b), nil
}

func keyValues(m map[string]string) []domain.KeyValue {
	out := make([]domain.KeyValue, 0, len(m))
	for k, v := range m {
		out = append(out, domain.KeyValue{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
