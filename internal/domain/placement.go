package domain

// Placement is a named ad slot on a publisher property.
type Placement struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	PublisherID string `json:"publisher_id" db:"publisher_id"`
	TemplateID  string `json:"template_id" db:"template_id"`
}

// Template holds the markup used to render ads for a placement. Fallback is
// used when no campaign or creative is available.
type Template struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	HTML     string `json:"html" db:"html"`
	Fallback string `json:"fallback,omitempty" db:"fallback"`
}
