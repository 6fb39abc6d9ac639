package domain

// Ad is one rendered ad slot returned to the caller. CampaignID is nil when
// no campaign could fill the slot, CreativeID when no creative was picked.
type Ad struct {
	CampaignID *string `json:"campaignId"`
	CreativeID *string `json:"creativeId"`
	Fallback   bool    `json:"fallback"`
	HTML       string  `json:"html"`
}
