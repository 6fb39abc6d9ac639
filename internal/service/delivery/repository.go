package delivery

import (
	"context"
	"time"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
)

// Query selects campaigns eligible for one request.
type Query struct {
	Now         time.Time
	PlacementID string
	KVs         map[string]string
}

// CampaignRepository reads deliverable campaigns. Implementations must be
// safe for concurrent use.
type CampaignRepository interface {
	// FindEligible returns every campaign eligible for q, in no particular
	// order. See domain.Campaign.EligibleFor.
	FindEligible(ctx context.Context, q Query) ([]domain.Campaign, error)

	// GetCampaign returns a single campaign. Returns ErrNotFound if it
	// doesn't exist.
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
}

// PlacementRepository reads placements.
type PlacementRepository interface {
	// GetPlacement returns ErrNotFound if the placement doesn't exist.
	GetPlacement(ctx context.Context, id string) (*domain.Placement, error)
}

// TemplateRepository reads templates.
type TemplateRepository interface {
	// GetTemplate returns ErrNotFound if the template doesn't exist.
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
}
