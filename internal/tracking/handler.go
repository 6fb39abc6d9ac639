// Package tracking serves the pixel, client event and click-through
// endpoints and moves the resulting analytics events off the request path.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cygnusb2b/fortnight-graph/internal/botdetect"
	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/apperr"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/httputil"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/logger"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/metrics"
	"github.com/cygnusb2b/fortnight-graph/internal/service/analytics"
	"github.com/cygnusb2b/fortnight-graph/internal/service/delivery"
	"github.com/cygnusb2b/fortnight-graph/internal/templating"
	"github.com/cygnusb2b/fortnight-graph/internal/token"
)

// maxEventBody caps POST bodies on the client event endpoint.
const maxEventBody = 16 << 10

// Verifier checks tracking tokens.
type Verifier interface {
	Verify(kind token.Kind, raw string) (token.Payload, error)
}

// CampaignLookup resolves the landing URL of a campaign click.
type CampaignLookup interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
}

type Handler struct {
	tokens    Verifier
	campaigns CampaignLookup
	recorder  analytics.Recorder
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewHandler creates the tracking handler. m may be nil.
func NewHandler(tokens Verifier, campaigns CampaignLookup, rec analytics.Recorder, m *metrics.Metrics) *Handler {
	return &Handler{tokens: tokens, campaigns: campaigns, recorder: rec, metrics: m, now: time.Now}
}

// Register adds the tracking routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/t/{token}/{file}", h.HandlePixel)
	r.Get("/e/{file}", h.HandleEvent)
	r.Post("/e/{file}", h.HandleEvent)
	r.Get("/go/{token}", h.HandleRedirect)
	r.Get("/redir/{token}", h.HandleRedirect)
}

// HandlePixel counts a load or view from the noscript beacon. The GIF is
// always returned; only an unknown event changes the status.
func (h *Handler) HandlePixel(w http.ResponseWriter, r *http.Request) {
	event, ok := pixelEvent(chi.URLParam(r, "file"))
	if !ok {
		httputil.Pixel(w, http.StatusBadRequest)
		return
	}

	p, err := h.tokens.Verify(token.KindPixel, chi.URLParam(r, "token"))
	if err != nil {
		h.rejectToken(r, err)
		httputil.Pixel(w, http.StatusOK)
		return
	}

	h.record(r, event, p.Hash, p.CampaignID)
	httputil.Pixel(w, http.StatusOK)
}

// HandleEvent counts a load or view reported by the client script. The
// fields come from the d query or form value, or a JSON body.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	event, ok := pixelEvent(chi.URLParam(r, "file"))
	if !ok {
		httputil.Pixel(w, http.StatusBadRequest)
		return
	}

	f, err := readFields(r)
	if err != nil {
		logger.Warn("tracking: bad event data", "event", event, "error", err)
		httputil.Pixel(w, http.StatusBadRequest)
		return
	}

	p, err := h.tokens.Verify(token.KindPixel, f.Token)
	if err != nil {
		h.rejectToken(r, err)
		httputil.Pixel(w, http.StatusOK)
		return
	}

	h.record(r, event, p.Hash, p.CampaignID)
	httputil.Pixel(w, http.StatusOK)
}

// HandleRedirect counts a click and sends the visitor on with a 301.
func (h *Handler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	httputil.NoCache(w)

	p, err := h.tokens.Verify(token.KindRedirect, chi.URLParam(r, "token"))
	if err != nil {
		h.rejectToken(r, err)
		httputil.Error(w, http.StatusForbidden, "The tracking link is invalid.")
		return
	}

	dest, err := h.destination(r.Context(), p)
	if err != nil {
		status, msg := httputil.StatusAndMessage(err)
		httputil.Error(w, status, msg)
		return
	}

	h.record(r, domain.EventClick, p.Hash, p.CampaignID)
	http.Redirect(w, r, dest, http.StatusMovedPermanently)
}

func (h *Handler) destination(ctx context.Context, p token.Payload) (string, error) {
	if p.CampaignID == "" {
		if p.URL == "" {
			return "", apperr.New(apperr.Internal, "redirect token has neither campaign nor URL")
		}
		return p.URL, nil
	}
	c, err := h.campaigns.GetCampaign(ctx, p.CampaignID)
	if errors.Is(err, delivery.ErrNotFound) {
		return "", apperr.NotFoundf("No campaign exists for ID '%s'", p.CampaignID)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, err, "campaign lookup failed")
	}
	if c.URL == "" {
		return "", apperr.New(apperr.Internal, "campaign %s has no URL", c.ID)
	}
	return c.URL, nil
}

func (h *Handler) record(r *http.Request, event domain.EventKind, hash, cid string) {
	bot := botdetect.Classify(r.UserAgent())
	h.metrics.TrackingEvent(string(event), bot.Detected)
	h.recorder.Record(domain.AnalyticsEvent{
		Kind:       event,
		Hash:       hash,
		CampaignID: cid,
		Count:      1,
		Bot:        &bot,
		Timestamp:  h.now().UTC(),
	})
	logger.Debug("tracking: event", "event", event, "hash", hash, "cid", cid, "bot", bot.Detected, "ip", clientIP(r))
}

func (h *Handler) rejectToken(r *http.Request, err error) {
	reason := token.Reason(err)
	h.metrics.TokenFailure(reason)
	logger.Warn("tracking: token rejected", "path", r.URL.Path, "reason", reason, "ip", clientIP(r), "error", err)
}

// pixelEvent maps "load.gif" and "view.gif" (extension optional) to an event.
func pixelEvent(file string) (domain.EventKind, bool) {
	name := strings.TrimSuffix(file, ".gif")
	switch e := domain.EventKind(name); e {
	case domain.EventLoad, domain.EventView:
		return e, true
	}
	return "", false
}

var errNoData = errors.New("no event data")

func readFields(r *http.Request) (templating.Fields, error) {
	var f templating.Fields
	var raw string
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json"):
		body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
		if err != nil {
			return f, err
		}
		raw = string(body)
	case r.Method == http.MethodPost:
		r.Body = io.NopCloser(io.LimitReader(r.Body, maxEventBody))
		if err := r.ParseForm(); err != nil {
			return f, err
		}
		raw = r.PostFormValue("d")
		if raw == "" {
			raw = r.URL.Query().Get("d")
		}
	default:
		raw = r.URL.Query().Get("d")
	}
	if strings.TrimSpace(raw) == "" {
		return f, errNoData
	}
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return f, err
	}
	if f.Token == "" {
		return f, errors.New("missing tok")
	}
	return f, nil
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
