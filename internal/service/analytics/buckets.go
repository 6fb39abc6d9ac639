package analytics

import (
	"time"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
)

// TruncateToHour returns the start of t's UTC hour.
func TruncateToHour(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

// TruncateToDay returns the start of t's UTC day.
func TruncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Truncate returns the bucket start of t for g. All-time buckets use the
// zero time.
func Truncate(t time.Time, g domain.Granularity) time.Time {
	switch g {
	case domain.GranularityHour:
		return TruncateToHour(t)
	case domain.GranularityDay:
		return TruncateToDay(t)
	default:
		return time.Time{}
	}
}

// Granularities returns the bucket widths maintained for an event family.
func Granularities(family domain.Family, kind domain.EventKind) []domain.Granularity {
	if family == domain.FamilyHuman && kind == domain.EventRequest {
		return []domain.Granularity{domain.GranularityHour, domain.GranularityAll}
	}
	return []domain.Granularity{domain.GranularityDay, domain.GranularityAll}
}

// BucketKeys derives every counter key an event touches.
func BucketKeys(e domain.AnalyticsEvent) []domain.BucketKey {
	base := domain.BucketKey{
		Family:     domain.FamilyHuman,
		Event:      e.Kind,
		Hash:       e.Hash,
		CampaignID: e.CampaignID,
	}
	if e.Bot != nil && e.Bot.Detected {
		base.Family = domain.FamilyBot
		base.CampaignID = ""
		base.BotValue = e.Bot.Value
		if base.BotValue == "" {
			base.BotValue = e.Bot.Reason
		}
	}
	grans := Granularities(base.Family, e.Kind)
	keys := make([]domain.BucketKey, 0, len(grans))
	for _, g := range grans {
		k := base
		k.Granularity = g
		k.Bucket = Truncate(e.Timestamp, g)
		keys = append(keys, k)
	}
	return keys
}
