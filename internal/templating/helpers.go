package templating

import (
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"

	"github.com/osteele/liquid/render"

	"github.com/cygnusb2b/fortnight-graph/internal/token"
)

// Helper tag names.
const (
	HelperContainerAttributes = "container_attributes"
	HelperTrackedLink         = "tracked_link"
	HelperBeacon              = "beacon"
	HelperUABeacon            = "ua_beacon"
)

func (r *Renderer) registerHelpers() {
	r.engine.RegisterTag(HelperContainerAttributes, containerAttributes)
	r.engine.RegisterTag(HelperBeacon, beacon)
	r.engine.RegisterTag(HelperUABeacon, uaBeacon)
	r.engine.RegisterBlock(HelperTrackedLink, trackedLink)
}

func stateFrom(ctx render.Context) (*renderState, error) {
	s, ok := ctx.Get(stateKey).(*renderState)
	if !ok || s == nil {
		return nil, fmt.Errorf("tracking helper %q used outside of an ad render", ctx.TagName())
	}
	return s, nil
}

func trackingAttributes(action string, s *renderState) string {
	return fmt.Sprintf(`data-fortnight-action="%s" data-fortnight-fields="%s"`,
		action, url.QueryEscape(s.fieldsJSON))
}

func containerAttributes(ctx render.Context) (string, error) {
	s, err := stateFrom(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`%s data-fortnight-timestamp="%d"`,
		trackingAttributes("view", s), s.renderedAt.UnixMilli()), nil
}

func beacon(ctx render.Context) (string, error) {
	s, err := stateFrom(ctx)
	if err != nil {
		return "", err
	}
	pixel := s.r.cfg.BaseURL + "/t/" + url.PathEscape(s.fields.Token) + "/load.gif"
	return fmt.Sprintf(
		`<script>fortnight('event', 'load', %s, { transport: 'beacon' });</script>`+
			`<noscript><img src="%s" width="1" height="1" alt="" style="display:none"></noscript>`,
		s.fieldsJSON, html.EscapeString(pixel)), nil
}

func uaBeacon(ctx render.Context) (string, error) {
	s, err := stateFrom(ctx)
	if err != nil {
		return "", err
	}
	pid, _ := json.Marshal(s.fields.PlacementID)
	cid, _ := json.Marshal(s.fields.CampaignID)
	return fmt.Sprintf(
		`<script>if (typeof ga === 'function') { ga('send', 'event', 'Fortnight', 'load', %s, { nonInteraction: true, dimension1: %s }); }</script>`,
		pid, cid), nil
}

func trackedLink(ctx render.Context) (string, error) {
	s, err := stateFrom(ctx)
	if err != nil {
		return "", err
	}
	args, err := parseTagArgs(ctx.TagArgs())
	if err != nil {
		return "", fmt.Errorf("%s: %w", HelperTrackedLink, err)
	}

	var href string
	attrs := make([]string, 0, len(args)+3)
	for _, a := range args {
		v, err := ctx.EvaluateString(a.expr)
		if err != nil {
			return "", fmt.Errorf("%s: evaluate %s: %w", HelperTrackedLink, a.name, err)
		}
		val := toString(v)
		if a.name == "href" {
			href = val
			continue
		}
		attrs = append(attrs, fmt.Sprintf(`%s="%s"`, html.EscapeString(a.name), html.EscapeString(val)))
	}

	link, err := s.redirectURL(href)
	if err != nil {
		return "", err
	}
	if link != "" {
		attrs = append([]string{fmt.Sprintf(`href="%s"`, html.EscapeString(link))}, attrs...)
	}
	attrs = append(attrs, trackingAttributes("click", s))

	inner, err := ctx.InnerString()
	if err != nil {
		return "", err
	}
	return "<a " + strings.Join(attrs, " ") + ">" + inner + "</a>", nil
}

// redirectURL mints the click-through link. Campaign links resolve the
// landing page from the campaign at redirect time; fallback links carry
// their destination in the token.
func (s *renderState) redirectURL(href string) (string, error) {
	p := token.Payload{Hash: s.data.Hash}
	if !s.data.Fallback() {
		p.CampaignID = s.data.Campaign.ID
	} else {
		if href == "" {
			return "", nil
		}
		p.URL = href
	}
	tok, err := s.r.issuer.Sign(token.KindRedirect, p, s.r.cfg.RedirectTTL)
	if err != nil {
		return "", fmt.Errorf("sign redirect token: %w", err)
	}
	return s.r.cfg.BaseURL + "/go/" + url.PathEscape(tok), nil
}

type tagArg struct {
	name string
	expr string
}

// parseTagArgs splits `name: expr, name: expr` respecting quoted strings.
func parseTagArgs(src string) ([]tagArg, error) {
	var (
		out   []tagArg
		parts []string
		buf   strings.Builder
		quote rune
	)
	for _, c := range src {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			buf.WriteRune(c)
		case c == '"' || c == '\'':
			quote = c
			buf.WriteRune(c)
		case c == ',':
			parts = append(parts, buf.String())
			buf.Reset()
		default:
			buf.WriteRune(c)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated string in %q", src)
	}
	parts = append(parts, buf.String())

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, expr, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("expected name: value, got %q", p)
		}
		name, expr = strings.TrimSpace(name), strings.TrimSpace(expr)
		if name == "" || expr == "" {
			return nil, fmt.Errorf("expected name: value, got %q", p)
		}
		out = append(out, tagArg{name: name, expr: expr})
	}
	return out, nil
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
