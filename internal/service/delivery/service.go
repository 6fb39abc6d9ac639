package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/fingerprint"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/apperr"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/metrics"
	"github.com/cygnusb2b/fortnight-graph/internal/service/analytics"
	"github.com/cygnusb2b/fortnight-graph/internal/templating"
)

// DefaultMaxAds caps the number of ads in one request.
const DefaultMaxAds = 20

// Renderer renders a template section for one ad.
type Renderer interface {
	RenderTemplate(t domain.Template, data templating.Data) (string, error)
}

// Deps are the collaborators of a Service. Selector, Metrics and Recorder
// are optional.
type Deps struct {
	Campaigns  CampaignRepository
	Placements PlacementRepository
	Templates  TemplateRepository
	Renderer   Renderer
	Recorder   analytics.Recorder
	Selector   Selector
	Metrics    *metrics.Metrics
	MaxAds     int
}

// Service implements ad delivery. All public methods are safe for
// concurrent use if the repositories are.
type Service struct {
	campaigns  CampaignRepository
	placements PlacementRepository
	templates  TemplateRepository
	renderer   Renderer
	recorder   analytics.Recorder
	selector   Selector
	metrics    *metrics.Metrics
	maxAds     int
	now        func() time.Time
}

// NewService creates a delivery service.
func NewService(d Deps) *Service {
	s := &Service{
		campaigns:  d.Campaigns,
		placements: d.Placements,
		templates:  d.Templates,
		renderer:   d.Renderer,
		recorder:   d.Recorder,
		selector:   d.Selector,
		metrics:    d.Metrics,
		maxAds:     d.MaxAds,
		now:        time.Now,
	}
	if s.selector == nil {
		s.selector = UniformSelector()
	}
	if s.maxAds <= 0 {
		s.maxAds = DefaultMaxAds
	}
	return s
}

// Request is one ad delivery request.
type Request struct {
	PlacementID  string
	TemplateID   string
	KeyValues    map[string]any
	MergeVars    map[string]string
	FallbackVars map[string]string
	// Count is the number of ads requested. Zero requests one.
	Count int
}

// RenderContext is the per-request input shared by every ad of a request.
type RenderContext struct {
	Hash         string
	Placement    domain.Placement
	MergeVars    map[string]string
	FallbackVars map[string]string
}

// FindFor selects and renders the ads for r.
func (s *Service) FindFor(ctx context.Context, r Request) ([]domain.Ad, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDelivery(time.Since(start).Seconds()) }()

	limit, err := s.validate(r)
	if err != nil {
		return nil, err
	}

	placement, err := s.placements.GetPlacement(ctx, r.PlacementID)
	if err != nil {
		return nil, lookupError(err, "No placement exists for ID '%s'", r.PlacementID)
	}
	tpl, err := s.templates.GetTemplate(ctx, r.TemplateID)
	if err != nil {
		return nil, lookupError(err, "No template exists for ID '%s'", r.TemplateID)
	}

	kvs := fingerprint.Sanitize(r.KeyValues)
	hash := fingerprint.Hash(fingerprint.Request{PlacementID: placement.ID, KVs: kvs})

	matched, err := s.Match(ctx, s.now(), placement.ID, kvs, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "campaign lookup failed")
	}

	rc := RenderContext{Hash: hash, Placement: *placement, MergeVars: r.MergeVars, FallbackVars: r.FallbackVars}
	campaigns := PadWithFallbacks(matched, limit)
	ads := make([]domain.Ad, 0, len(campaigns))
	for _, c := range campaigns {
		ad, err := s.BuildAd(c, *tpl, rc)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "ad rendering failed")
		}
		ads = append(ads, ad)
	}

	for _, ad := range ads {
		s.metrics.AdServed(ad.Fallback)
		if s.recorder != nil {
			e := domain.AnalyticsEvent{Kind: domain.EventRequest, Hash: hash, Count: 1}
			if ad.CampaignID != nil {
				e.CampaignID = *ad.CampaignID
			}
			s.recorder.Record(e)
		}
	}
	return ads, nil
}

func (s *Service) validate(r Request) (int, error) {
	if r.PlacementID == "" {
		return 0, apperr.Validationf("No placement ID was provided.")
	}
	if r.TemplateID == "" {
		return 0, apperr.Validationf("No template ID was provided.")
	}
	n := r.Count
	if n == 0 {
		n = 1
	}
	switch {
	case n < 0:
		return 0, apperr.Validationf("The ad count must be greater than zero.")
	case n > s.maxAds:
		return 0, apperr.Validationf("You cannot return more than %d ads in one request.", s.maxAds)
	case n > 1:
		return 0, apperr.New(apperr.Unimplemented, "Requesting more than one ad in a request is not yet implemented.")
	}
	return n, nil
}

func lookupError(err error, format string, id string) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, err, fmt.Sprintf(format, id))
	}
	return apperr.Wrap(apperr.Internal, err, "lookup failed")
}

// BuildAd renders one ad. A nil campaign or a campaign without creatives
// renders the fallback section; otherwise the primary section is rendered
// with a randomly picked creative.
func (s *Service) BuildAd(c *domain.Campaign, t domain.Template, rc RenderContext) (domain.Ad, error) {
	data := templating.Data{
		Hash:         rc.Hash,
		Placement:    rc.Placement,
		Vars:         rc.MergeVars,
		FallbackVars: rc.FallbackVars,
	}
	var ad domain.Ad
	if c != nil {
		id := c.ID
		ad.CampaignID = &id
		data.Campaign = c
		if cr := PickCreative(c, s.selector); cr != nil {
			cid := cr.ID
			ad.CreativeID = &cid
			data.Creative = cr
		}
	}
	ad.Fallback = data.Fallback()

	html, err := s.renderer.RenderTemplate(t, data)
	if err != nil {
		return domain.Ad{}, err
	}
	ad.HTML = html
	return ad, nil
}
