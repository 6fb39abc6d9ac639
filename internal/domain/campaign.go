package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignActive  CampaignStatus = "Active"
	CampaignPaused  CampaignStatus = "Paused"
	CampaignDraft   CampaignStatus = "Draft"
	CampaignDeleted CampaignStatus = "Deleted"
)

// KeyValue is a single targeting pair. Campaign targeting pairs are
// AND-combined.
type KeyValue struct {
	Key   string `json:"key" bson:"key"`
	Value string `json:"value" bson:"value"`
}

// Image is the visual asset of a creative.
type Image struct {
	Src    string `json:"src"`
	Alt    string `json:"alt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Creative is one renderable variant of a campaign. Creatives are owned by
// their campaign and have no lifecycle of their own.
type Creative struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Teaser string `json:"teaser"`
	Image  *Image `json:"image,omitempty"`
}

// Criteria holds the delivery targeting of a campaign.
type Criteria struct {
	Start        time.Time  `json:"start"`
	End          *time.Time `json:"end,omitempty"`
	PlacementIDs []string   `json:"placementIds"`
	KVs          []KeyValue `json:"kvs"`
}

// Campaign is an advertiser's targeting and creative bundle.
type Campaign struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Status    CampaignStatus `json:"status" db:"status"`
	URL       string         `json:"url" db:"url"`
	Criteria  Criteria       `json:"criteria"`
	Creatives []Creative     `json:"creatives"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// EligibleFor reports whether the campaign may be delivered at now for the
// given placement and sanitized targeting map. Every campaign pair must be
// satisfied by the request, and every request pair must be one of the
// campaign's pairs.
func (c *Campaign) EligibleFor(now time.Time, placementID string, kvs map[string]string) bool {
	if c.Status != CampaignActive {
		return false
	}
	if c.Criteria.Start.After(now) {
		return false
	}
	if c.Criteria.End != nil && !c.Criteria.End.After(now) {
		return false
	}
	if !c.targetsPlacement(placementID) {
		return false
	}
	own := make(map[string]string, len(c.Criteria.KVs))
	for _, kv := range c.Criteria.KVs {
		if kvs[kv.Key] != kv.Value {
			return false
		}
		own[kv.Key] = kv.Value
	}
	for k, v := range kvs {
		if cv, ok := own[k]; !ok || cv != v {
			return false
		}
	}
	return true
}

func (c *Campaign) targetsPlacement(placementID string) bool {
	for _, id := range c.Criteria.PlacementIDs {
		if id == placementID {
			return true
		}
	}
	return false
}
