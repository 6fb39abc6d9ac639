package domain

import "time"

// EventKind enumerates the counted analytics events.
type EventKind string

const (
	EventRequest EventKind = "request"
	EventLoad    EventKind = "load"
	EventView    EventKind = "view"
	EventClick   EventKind = "click"
)

// Valid reports whether k is a countable event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventRequest, EventLoad, EventView, EventClick:
		return true
	}
	return false
}

// Family separates human counters from bot counters. The two are never mixed.
type Family string

const (
	FamilyHuman Family = "human"
	FamilyBot   Family = "bot"
)

// Granularity is the width of a counter bucket.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
	GranularityAll  Granularity = "all"
)

// BotInfo is the outcome of classifying a user agent.
type BotInfo struct {
	Detected bool    `json:"detected"`
	Weight   float64 `json:"weight"`
	Reason   string  `json:"reason,omitempty"`
	Value    string  `json:"value,omitempty"`
}

// BucketKey identifies one counter. Bucket is the truncated start of the
// bucket window and is the zero time for all-time buckets.
type BucketKey struct {
	Family      Family      `json:"family"`
	Event       EventKind   `json:"event"`
	Granularity Granularity `json:"granularity"`
	Bucket      time.Time   `json:"bucket"`
	Hash        string      `json:"hash"`
	CampaignID  string      `json:"cid,omitempty"`
	BotValue    string      `json:"bot,omitempty"`
}

// Counter is the stored value of a bucket.
type Counter struct {
	Key  BucketKey `json:"key"`
	N    int64     `json:"n"`
	Last time.Time `json:"last"`
}

// AnalyticsEvent is a tracking hit or ad request ready to be aggregated. It is
// also the message body published to the analytics queue.
type AnalyticsEvent struct {
	Kind       EventKind `json:"kind"`
	Hash       string    `json:"hash"`
	CampaignID string    `json:"cid,omitempty"`
	Count      int64     `json:"n,omitempty"`
	Bot        *BotInfo  `json:"bot,omitempty"`
	Timestamp  time.Time `json:"ts"`
}
