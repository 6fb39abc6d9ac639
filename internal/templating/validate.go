package templating

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
)

var (
	ErrMissingHelper   = errors.New("missing helper")
	ErrDuplicateHelper = errors.New("duplicate helper")
)

// HelperError reports a helper count violation in one template section.
type HelperError struct {
	Section string
	Helper  string
	Err     error
}

func (e *HelperError) Error() string {
	return fmt.Sprintf("template %s: %v %q", e.Section, e.Err, e.Helper)
}

func (e *HelperError) Unwrap() error { return e.Err }

var helperTag = regexp.MustCompile(`\{%-?\s*(container_attributes|tracked_link|beacon|ua_beacon)\b`)

type helperRule struct {
	name     string
	min, max int // max < 0 means unbounded
}

var helperRules = []helperRule{
	{HelperContainerAttributes, 1, 1},
	{HelperBeacon, 1, 1},
	{HelperTrackedLink, 1, -1},
	{HelperUABeacon, 0, 1},
}

// Validate checks the helper counts of one template section and that it
// parses.
func (r *Renderer) Validate(section, source string) error {
	counts := make(map[string]int, len(helperRules))
	for _, m := range helperTag.FindAllStringSubmatch(source, -1) {
		counts[m[1]]++
	}
	for _, rule := range helperRules {
		n := counts[rule.name]
		if n < rule.min {
			return &HelperError{Section: section, Helper: rule.name, Err: ErrMissingHelper}
		}
		if rule.max >= 0 && n > rule.max {
			return &HelperError{Section: section, Helper: rule.name, Err: ErrDuplicateHelper}
		}
	}
	if _, err := r.engine.ParseString(source); err != nil {
		return fmt.Errorf("template %s: %w", section, err)
	}
	return nil
}

// ValidateTemplate validates the html section and, when present, the
// fallback section of t.
func (r *Renderer) ValidateTemplate(t domain.Template) error {
	if err := r.Validate("html", t.HTML); err != nil {
		return err
	}
	if t.Fallback == "" {
		return nil
	}
	return r.Validate("fallback", t.Fallback)
}
