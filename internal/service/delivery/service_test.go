package delivery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/fingerprint"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/apperr"
	"github.com/cygnusb2b/fortnight-graph/internal/service/delivery"
	"github.com/cygnusb2b/fortnight-graph/internal/templating"
	"github.com/cygnusb2b/fortnight-graph/internal/token"
)

// memStore is an in-memory campaign, placement and template repository for
// unit testing.
type memStore struct {
	mu         sync.Mutex
	campaigns  []domain.Campaign
	placements map[string]domain.Placement
	templates  map[string]domain.Template
	findErr    error
}

func newMemStore() *memStore {
	return &memStore{
		placements: make(map[string]domain.Placement),
		templates:  make(map[string]domain.Template),
	}
}

func (m *memStore) FindEligible(_ context.Context, q delivery.Query) ([]domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []domain.Campaign
	for _, c := range m.campaigns {
		if c.EligibleFor(q.Now, q.PlacementID, q.KVs) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.campaigns {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, delivery.ErrNotFound
}

func (m *memStore) GetPlacement(_ context.Context, id string) (*domain.Placement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.placements[id]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return &t, nil
}

// fixedSelector keeps store order and always picks the first creative.
type fixedSelector struct{}

func (fixedSelector) Shuffle(int, func(i, j int)) {}
func (fixedSelector) IntN(int) int                { return 0 }

// reverseSelector reverses on shuffle and picks the last creative.
type reverseSelector struct{}

func (reverseSelector) Shuffle(n int, swap func(i, j int)) {
	for i := 0; i < n/2; i++ {
		swap(i, n-1-i)
	}
}
func (reverseSelector) IntN(n int) int { return n - 1 }

type captureRecorder struct {
	mu     sync.Mutex
	events []domain.AnalyticsEvent
}

func (c *captureRecorder) Record(e domain.AnalyticsEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

const (
	templateHTML = `<div {% container_attributes %}>` +
		`{% tracked_link href: campaign.url %}<h3>{{ creative.title }}</h3>{% endtracked_link %}` +
		`</div>{% beacon %}`
	templateFallback = `<div class="house" {% container_attributes %}>` +
		`{% tracked_link href: fallback.url %}{{ fallback.label }}{% endtracked_link %}` +
		`</div>{% beacon %}`
)

type fixture struct {
	store    *memStore
	recorder *captureRecorder
	svc      *delivery.Service
	now      time.Time
}

func newFixture(t *testing.T, sel delivery.Selector) *fixture {
	t.Helper()
	signer, err := token.NewSigner("test-secret")
	require.NoError(t, err)

	store := newMemStore()
	store.placements["P"] = domain.Placement{ID: "P", Name: "Sidebar", TemplateID: "T"}
	store.templates["T"] = domain.Template{ID: "T", HTML: templateHTML, Fallback: templateFallback}

	rec := &captureRecorder{}
	svc := delivery.NewService(delivery.Deps{
		Campaigns:  store,
		Placements: store,
		Templates:  store,
		Renderer:   templating.NewRenderer(signer, templating.Config{BaseURL: "https://ads.example.com", PixelTTL: time.Hour}),
		Recorder:   rec,
		Selector:   sel,
	})
	return &fixture{store: store, recorder: rec, svc: svc, now: time.Now()}
}

func activeCampaign(id string, start time.Time, end *time.Time, kvs []domain.KeyValue, creatives ...domain.Creative) domain.Campaign {
	return domain.Campaign{
		ID:     id,
		Name:   "Campaign " + id,
		Status: domain.CampaignActive,
		URL:    "https://advertiser.example.com/" + id,
		Criteria: domain.Criteria{
			Start:        start,
			End:          end,
			PlacementIDs: []string{"P"},
			KVs:          kvs,
		},
		Creatives: creatives,
	}
}

func ids(cs []domain.Campaign) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}

func TestMatch_DateWindow(t *testing.T) {
	f := newFixture(t, fixedSelector{})
	now := f.now
	past := now.Add(-time.Minute)
	f.store.campaigns = []domain.Campaign{
		activeCampaign("future", now.Add(time.Hour), nil, nil),
		activeCampaign("open", now.Add(-24*time.Hour), nil, nil),
		activeCampaign("ended", now.Add(-24*time.Hour), &past, nil),
		activeCampaign("ends-now", now.Add(-24*time.Hour), &now, nil),
	}

	got, err := f.svc.Match(context.Background(), now, "P", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"open"}, ids(got))
}

func TestMatch_KeyValues(t *testing.T) {
	f := newFixture(t, fixedSelector{})
	f.store.campaigns = []domain.Campaign{
		activeCampaign("sect", f.now.Add(-time.Hour), nil, []domain.KeyValue{{Key: "sect_id", Value: "1234"}}),
	}
	ctx := context.Background()

	got, err := f.svc.Match(ctx, f.now, "P", map[string]string{"sect_id": "1234"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"sect"}, ids(got))

	got, err = f.svc.Match(ctx, f.now, "P", map[string]string{"sect_id": "9999"}, 1)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.svc.Match(ctx, f.now, "P", map[string]string{}, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatch_ShuffleAndLimit(t *testing.T) {
	f := newFixture(t, reverseSelector{})
	start := f.now.Add(-time.Hour)
	f.store.campaigns = []domain.Campaign{
		activeCampaign("a", start, nil, nil),
		activeCampaign("b", start, nil, nil),
		activeCampaign("c", start, nil, nil),
	}

	got, err := f.svc.Match(context.Background(), f.now, "P", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(got))
}

// cachedCampaigns hands out the same slice on every call, unfiltered.
type cachedCampaigns struct {
	delivery.CampaignRepository
	all []domain.Campaign
}

func (c cachedCampaigns) FindEligible(context.Context, delivery.Query) ([]domain.Campaign, error) {
	return c.all, nil
}

func TestMatch_LeavesRepositorySliceIntact(t *testing.T) {
	now := time.Now()
	cached := cachedCampaigns{all: []domain.Campaign{
		activeCampaign("future", now.Add(time.Hour), nil, nil),
		activeCampaign("a", now.Add(-time.Hour), nil, nil),
		activeCampaign("b", now.Add(-time.Hour), nil, nil),
	}}
	svc := delivery.NewService(delivery.Deps{Campaigns: cached, Selector: reverseSelector{}})

	got, err := svc.Match(context.Background(), now, "P", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(got))
	assert.Equal(t, []string{"future", "a", "b"}, ids(cached.all))
}

func TestMatch_RejectsBadInput(t *testing.T) {
	f := newFixture(t, fixedSelector{})
	_, err := f.svc.Match(context.Background(), f.now, "", nil, 1)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	_, err = f.svc.Match(context.Background(), f.now, "P", nil, 0)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestMatch_StoreErrorPropagates(t *testing.T) {
	f := newFixture(t, fixedSelector{})
	f.store.findErr = errors.New("connection refused")
	_, err := f.svc.Match(context.Background(), f.now, "P", nil, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPadWithFallbacks(t *testing.T) {
	c1 := domain.Campaign{ID: "c1"}
	got := delivery.PadWithFallbacks([]domain.Campaign{c1}, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "c1", got[0].ID)
	assert.Nil(t, got[1])
	assert.Nil(t, got[2])

	three := []domain.Campaign{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}}
	got = delivery.PadWithFallbacks(three, 2)
	require.Len(t, got, 3)
	assert.Equal(t, "c3", got[2].ID)

	assert.Len(t, delivery.PadWithFallbacks(nil, 1), 1)
}

func TestPickCreative(t *testing.T) {
	assert.Nil(t, delivery.PickCreative(nil, fixedSelector{}))
	assert.Nil(t, delivery.PickCreative(&domain.Campaign{}, fixedSelector{}))

	c := &domain.Campaign{Creatives: []domain.Creative{{ID: "x"}, {ID: "y"}}}
	assert.Equal(t, "x", delivery.PickCreative(c, fixedSelector{}).ID)
	assert.Equal(t, "y", delivery.PickCreative(c, reverseSelector{}).ID)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[delivery.PickCreative(c, delivery.UniformSelector()).ID] = true
	}
	assert.Len(t, seen, 2)
}

func TestFindFor_CampaignWithCreative(t *testing.T) {
	f := newFixture(t, fixedSelector{})
	f.store.campaigns = []domain.Campaign{
		activeCampaign("C", f.now.Add(-24*time.Hour), nil, nil, domain.Creative{ID: "cr1", Title: "Spring Sale"}),
	}

	ads, err := f.svc.FindFor(context.Background(), delivery.Request{PlacementID: "P", TemplateID: "T", Count: 1})
	require.NoError(t, err)
	require.Len(t, ads, 1)
	ad := ads[0]
	assert.False(t, ad.Fallback)
	require.NotNil(t, ad.CampaignID)
	assert.Equal(t, "C", *ad.CampaignID)
	require.NotNil(t, ad.CreativeID)
	assert.Equal(t, "cr1", *ad.CreativeID)
	assert.Contains(t, ad.HTML, "<h3>Spring Sale</h3>")

	require.Len(t, f.recorder.events, 1)
	e := f.recorder.events[0]
	assert.Equal(t, domain.EventRequest, e.Kind)
	assert.Equal(t, "C", e.CampaignID)
	assert.Equal(t, fingerprint.Hash(fingerprint.Request{PlacementID: "P", KVs: map[string]string{}}), e.Hash)
}

func TestFindFor_CampaignWithoutCreative(t *testing.T) {
	f := newFixture(t, fixedSelector{})
	f.store.campaigns = []domain.Campaign{activeCampaign("C", f.now.Add(-24*time.Hour), nil, nil)}

	ads, err := f.svc.FindFor(context.Background(), delivery.Request{
		PlacementID:  "P",
		TemplateID:   "T",
		FallbackVars: map[string]string{"url": "https://house.example.com", "label": "House"},
	})
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.True(t, ads[0].Fallback)
	require.NotNil(t, ads[0].CampaignID)
	assert.Equal(t, "C", *ads[0].CampaignID)
	assert.Nil(t, ads[0].CreativeID)
	assert.Contains(t, ads[0].HTML, `class="house"`)
	assert.Contains(t, ads[0].HTML, "House</a>")
}

func TestFindFor_NoCampaign(t *testing.T) {
	f := newFixture(t, fixedSelector{})
	f.store.campaigns = []domain.Campaign{
		activeCampaign("C", f.now.Add(-24*time.Hour), nil, []domain.KeyValue{{Key: "sect_id", Value: "1"}}, domain.Creative{ID: "cr1"}),
	}

	ads, err := f.svc.FindFor(context.Background(), delivery.Request{PlacementID: "P", TemplateID: "T"})
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.True(t, ads[0].Fallback)
	assert.Nil(t, ads[0].CampaignID)
	assert.Contains(t, ads[0].HTML, `class="house"`)

	require.Len(t, f.recorder.events, 1)
	assert.Empty(t, f.recorder.events[0].CampaignID)
}

func TestFindFor_TargetingUsesSanitizedKeyValues(t *testing.T) {
	f := newFixture(t, fixedSelector{})
	f.store.campaigns = []domain.Campaign{
		activeCampaign("C", f.now.Add(-time.Hour), nil, []domain.KeyValue{{Key: "sect_id", Value: "1234"}}, domain.Creative{ID: "cr1"}),
	}

	ads, err := f.svc.FindFor(context.Background(), delivery.Request{
		PlacementID: "P",
		TemplateID:  "T",
		KeyValues:   map[string]any{"sect_id": 1234, "empty": "", "nested": map[string]any{"a": 1}},
	})
	require.NoError(t, err)
	assert.False(t, ads[0].Fallback)
}

func TestFindFor_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     delivery.Request
		kind    apperr.Kind
		message string
	}{
		{"missing placement", delivery.Request{TemplateID: "T"}, apperr.Validation, "No placement ID was provided."},
		{"missing template", delivery.Request{PlacementID: "P"}, apperr.Validation, "No template ID was provided."},
		{"too many", delivery.Request{PlacementID: "P", TemplateID: "T", Count: 21}, apperr.Validation, "You cannot return more than 20 ads in one request."},
		{"more than one", delivery.Request{PlacementID: "P", TemplateID: "T", Count: 2}, apperr.Unimplemented, "Requesting more than one ad in a request is not yet implemented."},
		{"negative", delivery.Request{PlacementID: "P", TemplateID: "T", Count: -1}, apperr.Validation, "The ad count must be greater than zero."},
		{"unknown placement", delivery.Request{PlacementID: "X", TemplateID: "T"}, apperr.NotFound, "No placement exists for ID 'X'"},
		{"unknown template", delivery.Request{PlacementID: "P", TemplateID: "X"}, apperr.NotFound, "No template exists for ID 'X'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixedSelector{})
			_, err := f.svc.FindFor(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.Equal(t, tt.message, apperr.PublicMessage(err))
			assert.Empty(t, f.recorder.events)
		})
	}
}

func TestFindFor_StoreFailureIsInternal(t *testing.T) {
	f := newFixture(t, fixedSelector{})
	f.store.findErr = errors.New("connection refused")

	_, err := f.svc.FindFor(context.Background(), delivery.Request{PlacementID: "P", TemplateID: "T"})
	require.Error(t, err)
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
	assert.Equal(t, apperr.ObfuscatedMessage, apperr.PublicMessage(err))
	assert.Contains(t, err.Error(), "connection refused")
}
