package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/service/delivery"
)

// PlacementRepo implements delivery.PlacementRepository and
// delivery.TemplateRepository against PostgreSQL.
type PlacementRepo struct{ db *sql.DB }

// NewPlacementRepo creates a Postgres-backed placement and template repository.
func NewPlacementRepo(db *sql.DB) *PlacementRepo { return &PlacementRepo{db: db} }

func (r *PlacementRepo) GetPlacement(ctx context.Context, id string) (*domain.Placement, error) {
	p := &domain.Placement{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(publisher_id, ''), COALESCE(template_id, '')
		FROM placements
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.PublisherID, &p.TemplateID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get placement: %w", err)
	}
	return p, nil
}

func (r *PlacementRepo) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	t := &domain.Template{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, html, COALESCE(fallback, '')
		FROM templates
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.HTML, &t.Fallback)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, delivery.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

// ListTemplates returns every template ordered by id.
func (r *PlacementRepo) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, html, COALESCE(fallback, '')
		FROM templates
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.Template
	for rows.Next() {
		var t domain.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.HTML, &t.Fallback); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Catalog serves every delivery lookup from one database.
type Catalog struct {
	*CampaignRepo
	*PlacementRepo
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{CampaignRepo: NewCampaignRepo(db), PlacementRepo: NewPlacementRepo(db)}
}
