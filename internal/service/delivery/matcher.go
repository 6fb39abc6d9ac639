package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/apperr"
)

// Match returns up to limit eligible campaigns in random order. Fewer are
// returned when fewer are eligible.
func (s *Service) Match(ctx context.Context, now time.Time, placementID string, kvs map[string]string, limit int) ([]domain.Campaign, error) {
	if placementID == "" {
		return nil, apperr.Validationf("No placement ID was provided.")
	}
	if limit <= 0 {
		return nil, apperr.Validationf("The ad limit must be greater than zero.")
	}
	found, err := s.campaigns.FindEligible(ctx, Query{Now: now, PlacementID: placementID, KVs: kvs})
	if err != nil {
		return nil, fmt.Errorf("find eligible campaigns: %w", err)
	}

	eligible := make([]domain.Campaign, 0, len(found))
	for i := range found {
		if found[i].EligibleFor(now, placementID, kvs) {
			eligible = append(eligible, found[i])
		}
	}
	s.selector.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

// PadWithFallbacks appends nil placeholders until the list holds limit
// entries. It never truncates.
func PadWithFallbacks(campaigns []domain.Campaign, limit int) []*domain.Campaign {
	n := len(campaigns)
	if limit > n {
		n = limit
	}
	out := make([]*domain.Campaign, 0, n)
	for i := range campaigns {
		out = append(out, &campaigns[i])
	}
	for len(out) < limit {
		out = append(out, nil)
	}
	return out
}

// PickCreative returns a uniformly chosen creative of c, or nil when c has
// none.
func PickCreative(c *domain.Campaign, sel Selector) *domain.Creative {
	if c == nil || len(c.Creatives) == 0 {
		return nil
	}
	return &c.Creatives[sel.IntN(len(c.Creatives))]
}
