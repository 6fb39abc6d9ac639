// Package templating renders placement templates with the Liquid engine and
// the fortnight tracking helpers.
//
// Each Renderer owns its own engine, so the helper registry is fixed at
// construction and shared read-only by concurrent renders.
package templating

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/token"
)

// DefaultFallback is rendered when a template has no fallback markup.
const DefaultFallback = `<div {% container_attributes %}></div>{% beacon %}`

// stateKey is the binding under which the per-render state is exposed to
// the helper tags.
const stateKey = "_fortnight"

// TokenIssuer mints tracking tokens.
type TokenIssuer interface {
	Sign(kind token.Kind, p token.Payload, ttl time.Duration) (string, error)
}

// Config holds renderer settings.
type Config struct {
	BaseURL     string
	PixelTTL    time.Duration
	RedirectTTL time.Duration
}

// Renderer parses, caches and renders templates.
type Renderer struct {
	engine *liquid.Engine
	issuer TokenIssuer
	cfg    Config
	now    func() time.Time
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with the tracking helpers registered.
func NewRenderer(issuer TokenIssuer, cfg Config) *Renderer {
	r := &Renderer{
		engine: liquid.NewEngine(),
		issuer: issuer,
		cfg:    cfg,
		now:    time.Now,
	}
	r.registerHelpers()
	return r
}

// Data is the input of one render.
type Data struct {
	Hash         string
	Placement    domain.Placement
	Campaign     *domain.Campaign
	Creative     *domain.Creative
	Vars         map[string]string
	FallbackVars map[string]string
}

// Fallback reports whether Data describes a fallback render.
func (d Data) Fallback() bool {
	return d.Campaign == nil || d.Creative == nil
}

// Fields are the correlation values shared by every helper of one render.
// They reach the client script as JSON and come back on the event endpoint.
type Fields struct {
	UUID        string `json:"uuid"`
	PlacementID string `json:"pid"`
	CampaignID  string `json:"cid,omitempty"`
	CreativeID  string `json:"cre,omitempty"`
	Token       string `json:"tok"`
}

type renderState struct {
	r          *Renderer
	data       Data
	fields     Fields
	fieldsJSON string
	renderedAt time.Time
}

// Render renders source for data. cacheKey identifies the source for parse
// caching; an empty key disables caching.
func (r *Renderer) Render(cacheKey, source string, data Data) (string, error) {
	tpl, err := r.parse(cacheKey, source)
	if err != nil {
		return "", err
	}
	state, err := r.newState(data)
	if err != nil {
		return "", err
	}
	out, serr := tpl.RenderString(r.bindings(state))
	if serr != nil {
		return "", fmt.Errorf("render template: %w", serr)
	}
	return out, nil
}

// RenderTemplate renders the primary or fallback section of t, depending on
// data. A missing fallback section renders DefaultFallback.
func (r *Renderer) RenderTemplate(t domain.Template, data Data) (string, error) {
	if !data.Fallback() {
		return r.Render(t.ID+":html", t.HTML, data)
	}
	if t.Fallback == "" {
		return r.Render("default:fallback", DefaultFallback, data)
	}
	return r.Render(t.ID+":fallback", t.Fallback, data)
}

func (r *Renderer) parse(cacheKey, source string) (*liquid.Template, error) {
	key := ""
	if cacheKey != "" {
		key = fmt.Sprintf("%s:%016x", cacheKey, xxhash.Sum64String(source))
		if cached, ok := r.cache.Load(key); ok {
			return cached.(*liquid.Template), nil
		}
	}
	tpl, err := r.engine.ParseString(source)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if key != "" {
		r.cache.Store(key, tpl)
	}
	return tpl, nil
}

func (r *Renderer) newState(data Data) (*renderState, error) {
	p := token.Payload{Hash: data.Hash}
	f := Fields{UUID: uuid.NewString(), PlacementID: data.Placement.ID}
	if data.Campaign != nil {
		p.CampaignID = data.Campaign.ID
		f.CampaignID = data.Campaign.ID
	}
	if data.Creative != nil {
		f.CreativeID = data.Creative.ID
	}
	tok, err := r.issuer.Sign(token.KindPixel, p, r.cfg.PixelTTL)
	if err != nil {
		return nil, fmt.Errorf("sign pixel token: %w", err)
	}
	f.Token = tok
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal tracking fields: %w", err)
	}
	return &renderState{r: r, data: data, fields: f, fieldsJSON: string(b), renderedAt: r.now()}, nil
}

func (r *Renderer) bindings(s *renderState) map[string]interface{} {
	b := map[string]interface{}{
		stateKey:    s,
		"placement": map[string]interface{}{"id": s.data.Placement.ID, "name": s.data.Placement.Name},
		"vars":      stringMap(s.data.Vars),
		"fallback":  stringMap(s.data.FallbackVars),
	}
	if c := s.data.Campaign; c != nil {
		b["campaign"] = map[string]interface{}{"id": c.ID, "name": c.Name, "url": c.URL}
	}
	if cr := s.data.Creative; cr != nil {
		creative := map[string]interface{}{"id": cr.ID, "title": cr.Title, "teaser": cr.Teaser}
		if img := cr.Image; img != nil {
			creative["image"] = map[string]interface{}{
				"src": img.Src, "alt": img.Alt, "width": img.Width, "height": img.Height,
			}
		}
		b["creative"] = creative
	}
	return b
}

func stringMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
