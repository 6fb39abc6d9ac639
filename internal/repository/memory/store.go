// Package memory provides in-process stores for local development and tests.
package memory

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/service/delivery"
)

// Store holds campaigns, placements and templates. It is safe for
// concurrent use.
type Store struct {
	mu         sync.RWMutex
	campaigns  map[string]domain.Campaign
	placements map[string]domain.Placement
	templates  map[string]domain.Template
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		campaigns:  make(map[string]domain.Campaign),
		placements: make(map[string]domain.Placement),
		templates:  make(map[string]domain.Template),
	}
}

func (s *Store) PutCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
}

func (s *Store) PutPlacement(p domain.Placement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placements[p.ID] = p
}

func (s *Store) PutTemplate(t domain.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
}

func (s *Store) FindEligible(_ context.Context, q delivery.Query) ([]domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if c.EligibleFor(q.Now, q.PlacementID, q.KVs) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetPlacement(_ context.Context, id string) (*domain.Placement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.placements[id]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, delivery.ErrNotFound
	}
	return &t, nil
}

// Fixtures is the YAML layout accepted by LoadFixtures.
type Fixtures struct {
	Templates []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		HTML     string `yaml:"html"`
		Fallback string `yaml:"fallback"`
	} `yaml:"templates"`
	Placements []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		PublisherID string `yaml:"publisher_id"`
		TemplateID  string `yaml:"template_id"`
	} `yaml:"placements"`
	Campaigns []struct {
		ID         string            `yaml:"id"`
		Name       string            `yaml:"name"`
		Status     string            `yaml:"status"`
		URL        string            `yaml:"url"`
		Start      time.Time         `yaml:"start"`
		End        *time.Time        `yaml:"end"`
		Placements []string          `yaml:"placements"`
		KVs        map[string]string `yaml:"kvs"`
		Creatives  []struct {
			ID     string `yaml:"id"`
			Title  string `yaml:"title"`
			Teaser string `yaml:"teaser"`
			Image  string `yaml:"image"`
		} `yaml:"creatives"`
	} `yaml:"campaigns"`
}

// LoadFixtures reads a YAML fixtures file into the store.
func (s *Store) LoadFixtures(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixtures: %w", err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse fixtures: %w", err)
	}
	for _, t := range f.Templates {
		s.PutTemplate(domain.Template{ID: t.ID, Name: t.Name, HTML: t.HTML, Fallback: t.Fallback})
	}
	for _, p := range f.Placements {
		s.PutPlacement(domain.Placement{ID: p.ID, Name: p.Name, PublisherID: p.PublisherID, TemplateID: p.TemplateID})
	}
	for _, c := range f.Campaigns {
		status := domain.CampaignStatus(c.Status)
		if status == "" {
			status = domain.CampaignActive
		}
		camp := domain.Campaign{
			ID:     c.ID,
			Name:   c.Name,
			Status: status,
			URL:    c.URL,
			Criteria: domain.Criteria{
				Start:        c.Start,
				End:          c.End,
				PlacementIDs: c.Placements,
			},
		}
		for k, v := range c.KVs {
			camp.Criteria.KVs = append(camp.Criteria.KVs, domain.KeyValue{Key: k, Value: v})
		}
		for _, cr := range c.Creatives {
			creative := domain.Creative{ID: cr.ID, Title: cr.Title, Teaser: cr.Teaser}
			if cr.Image != "" {
				creative.Image = &domain.Image{Src: cr.Image}
			}
			camp.Creatives = append(camp.Creatives, creative)
		}
		s.PutCampaign(camp)
	}
	return nil
}
