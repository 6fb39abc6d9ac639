package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
	"github.com/cygnusb2b/fortnight-graph/internal/fingerprint"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/apperr"
	"github.com/cygnusb2b/fortnight-graph/internal/pkg/httputil"
	"github.com/cygnusb2b/fortnight-graph/internal/service/delivery"
)

// AdFinder selects and renders ads for a placement.
type AdFinder interface {
	FindFor(ctx context.Context, r delivery.Request) ([]domain.Ad, error)
}

// placementOpts is the JSON carried by the opts query parameter.
type placementOpts struct {
	TemplateID   string         `json:"tid"`
	CustomVars   map[string]any `json:"cv"`
	MergeVars    map[string]any `json:"mv"`
	FallbackVars map[string]any `json:"fv"`
	Count        int            `json:"n"`
}

type PlacementHandler struct {
	ads AdFinder
}

func NewPlacementHandler(ads AdFinder) *PlacementHandler {
	return &PlacementHandler{ads: ads}
}

// HandlePlacement renders ads for a placement as HTML or JSON.
//
//	GET /placement/{pid}.{html|json}?opts={"tid":"...","cv":{},"mv":{},"fv":{}}
func (h *PlacementHandler) HandlePlacement(w http.ResponseWriter, r *http.Request) {
	httputil.NoCache(w)

	pid, ext := splitExt(chi.URLParam(r, "file"))
	switch ext {
	case "html", "json":
	default:
		writeError(w, "json", apperr.Validationf("The requested extension '%s' is not supported.", ext))
		return
	}

	opts, err := parseOpts(r.URL.Query().Get("opts"))
	if err != nil {
		writeError(w, ext, err)
		return
	}

	ads, err := h.ads.FindFor(r.Context(), delivery.Request{
		PlacementID:  pid,
		TemplateID:   opts.TemplateID,
		KeyValues:    opts.CustomVars,
		MergeVars:    fingerprint.Sanitize(opts.MergeVars),
		FallbackVars: fingerprint.Sanitize(opts.FallbackVars),
		Count:        opts.Count,
	})
	if err != nil {
		writeError(w, ext, err)
		return
	}

	if ext == "json" {
		httputil.OK(w, ads)
		return
	}
	var b strings.Builder
	for _, ad := range ads {
		b.WriteString(ad.HTML)
	}
	httputil.HTML(w, http.StatusOK, b.String())
}

// splitExt splits "pid.ext" on the last dot.
func splitExt(file string) (string, string) {
	i := strings.LastIndex(file, ".")
	if i < 0 {
		return file, ""
	}
	return file[:i], strings.ToLower(file[i+1:])
}

func parseOpts(raw string) (placementOpts, error) {
	var opts placementOpts
	if strings.TrimSpace(raw) == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return opts, apperr.Wrap(apperr.Validation, err, "The provided opts are not valid JSON.")
	}
	return opts, nil
}

func writeError(w http.ResponseWriter, ext string, err error) {
	status, msg := httputil.StatusAndMessage(err)
	if ext == "html" {
		httputil.HTMLError(w, status, msg)
		return
	}
	httputil.Error(w, status, msg)
}
