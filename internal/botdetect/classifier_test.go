package botdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	chromeUA  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	safariUA  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148"
	firefoxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0"
	edgeUA    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.51"
)

func TestClassify_EmptyAgent(t *testing.T) {
	for _, ua := range []string{"", "   "} {
		got := Classify(ua)
		assert.True(t, got.Detected)
		assert.Equal(t, 0.8, got.Weight)
		assert.Equal(t, ReasonNoUserAgent, got.Reason)
	}
}

func TestClassify_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		ua     string
		weight float64
		reason string
		value  string
	}{
		{"blacklisted", "Mozilla/5.0", 1.0, ReasonBlacklisted, ""},
		{"known crawler beats generic", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", 1.0, ReasonKnownPattern, "googlebot"},
		{"known preview", "facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)", 1.0, ReasonKnownPattern, "facebookexternalhit"},
		{"headless", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36", 1.0, ReasonKnownPattern, "headlesschrome"},
		{"generic", "AcmeSiteCrawler/3.0", 0.9, ReasonGenericBot, "crawler"},
		{"generic feed", "Feedly/1.0 (+http://www.feedly.com/fetcher.html)", 0.9, ReasonGenericBot, "feed"},
		{"backend curl", "curl/8.4.0", 0.9, ReasonBackendClient, "curl"},
		{"backend python", "python-requests/2.31.0", 0.9, ReasonBackendClient, "python-requests"},
		{"backend cms", "WordPress/6.4.2; https://example.org", 0.9, ReasonBackendClient, "wordpress"},
		{"unparseable", "SomethingElse/1.0 (X11)", 0.7, ReasonUnparseable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.ua)
			assert.True(t, got.Detected)
			assert.Equal(t, tt.weight, got.Weight)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Equal(t, tt.value, got.Value)
		})
	}
}

func TestClassify_Humans(t *testing.T) {
	for _, ua := range []string{chromeUA, safariUA, iphoneUA, firefoxUA, edgeUA} {
		got := Classify(ua)
		assert.False(t, got.Detected, ua)
		assert.Zero(t, got.Weight)
	}
}

func TestBrowserName(t *testing.T) {
	assert.Equal(t, "Chrome", BrowserName(chromeUA))
	assert.Equal(t, "Edge", BrowserName(edgeUA))
	assert.Equal(t, "Safari", BrowserName(safariUA))
	assert.Equal(t, "Mobile Safari", BrowserName(iphoneUA))
	assert.Equal(t, "Firefox", BrowserName(firefoxUA))
	assert.Equal(t, "", BrowserName("nothing here"))
}
