// Package botdetect scores user-agent strings as bot or human traffic.
//
// Classification is a fixed-precedence list of heuristics; the first one
// that matches decides the result. The function is pure and never fails.
package botdetect

import (
	"regexp"
	"strings"

	"github.com/cygnusb2b/fortnight-graph/internal/domain"
)

// Reasons reported for detected bots.
const (
	ReasonNoUserAgent   = "no user agent"
	ReasonBlacklisted   = "blacklisted agent"
	ReasonKnownPattern  = "known bot pattern"
	ReasonGenericBot    = "generic bot pattern"
	ReasonBackendClient = "backend client pattern"
	ReasonUnparseable   = "unparseable browser"
)

// blacklist holds agents seen spoofed by automated traffic. Matched exactly.
var blacklist = map[string]struct{}{
	"Mozilla/5.0":               {},
	"Mozilla/4.0":               {},
	"Mozilla/5.0 (compatible)":  {},
	"Mozilla/4.0 (compatible;)": {},
	"Mozilla/4.0 (compatible; MSIE 6.0; Windows NT 5.1)":                                                      {},
	"Mozilla/5.0 (Windows NT 6.1; rv:60.0) Gecko/20100101 Firefox/60.0":                                       {},
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/41.0.2228.0 Safari/537.36": {},
	"-":         {},
	"null":      {},
	"undefined": {},
}

var knownBotPattern = regexp.MustCompile(`(?i)(` + strings.Join([]string{
	`adsbot-google`, `mediapartners-google`, `apis-google`, `feedfetcher-google`,
	`google-read-aloud`, `googleweblight`, `googlebot(?:-image|-news|-video)?`,
	`bingbot`, `bingpreview`, `msnbot`, `adidxbot`, `slurp`, `duckduckbot`,
	`baiduspider`, `yandex(?:bot|images|metrika|direct)`, `sogou`, `exabot`,
	`seznambot`, `applebot`, `petalbot`, `ahrefsbot`, `semrushbot`, `mj12bot`,
	`dotbot`, `rogerbot`, `blexbot`, `dataforseobot`, `screaming frog`,
	`facebookexternalhit`, `facebookcatalog`, `twitterbot`, `linkedinbot`,
	`pinterestbot`, `slackbot(?:-linkexpanding)?`, `discordbot`, `telegrambot`,
	`whatsapp`, `skypeuripreview`, `embedly`, `quora link preview`, `outbrain`,
	`gptbot`, `chatgpt-user`, `ccbot`, `claudebot`, `bytespider`, `amazonbot`,
	`ia_archiver`, `archive\.org_bot`, `headlesschrome`, `phantomjs`, `slimerjs`,
	`electron`, `chrome-lighthouse`, `lighthouse`, `pingdom`, `uptimerobot`,
	`statuscake`, `site24x7`, `newrelicpinger`, `datadog agent`,
}, "|") + `)`)

var genericBotPattern = regexp.MustCompile(`(?i)(bot|crawler|spider|scraper|fetcher|monitor|proxy|downloader|feed|checker|browserkit)`)

var backendClientPattern = regexp.MustCompile(`(?i)^\s*(` + strings.Join([]string{
	`curl`, `wget`, `python-requests`, `python-urllib`, `python`, `aiohttp`,
	`scrapy`, `java`, `apache-httpclient`, `okhttp`, `go-http-client`, `go `,
	`ruby`, `faraday`, `php`, `guzzlehttp`, `perl`, `libwww-perl`, `lwp`,
	`node-fetch`, `node`, `axios`, `got`, `undici`, `dart`, `httpie`,
	`restsharp`, `powershell`, `winhttp`, `wordpress`, `drupal`, `joomla`,
	`postmanruntime`, `insomnia`,
}, "|") + `)`)

var browserPatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"Edge", regexp.MustCompile(`\b(?:Edg|Edge|EdgA|EdgiOS)/\d+`)},
	{"Opera", regexp.MustCompile(`\b(?:OPR|Opera)/\d+`)},
	{"Samsung Internet", regexp.MustCompile(`\bSamsungBrowser/\d+`)},
	{"UC Browser", regexp.MustCompile(`\bUCBrowser/\d+`)},
	{"Yandex", regexp.MustCompile(`\bYaBrowser/\d+`)},
	{"Vivaldi", regexp.MustCompile(`\bVivaldi/\d+`)},
	{"Chrome", regexp.MustCompile(`\b(?:Chrome|CriOS|Chromium)/\d+`)},
	{"Firefox", regexp.MustCompile(`\b(?:Firefox|FxiOS)/\d+`)},
	{"Safari", regexp.MustCompile(`\bVersion/\d+(?:\.\d+)*.*\bSafari/\d+`)},
	{"Mobile Safari", regexp.MustCompile(`\biP(?:hone|ad|od)\b.*\bAppleWebKit/\d+`)},
	{"Internet Explorer", regexp.MustCompile(`\b(?:MSIE \d+|Trident/\d+)`)},
}

// Classify scores a user agent. Checks run in a fixed order and the first
// match wins.
func Classify(userAgent string) domain.BotInfo {
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		return domain.BotInfo{Detected: true, Weight: 0.8, Reason: ReasonNoUserAgent}
	}
	if _, ok := blacklist[ua]; ok {
		return domain.BotInfo{Detected: true, Weight: 1.0, Reason: ReasonBlacklisted}
	}
	if m := knownBotPattern.FindString(ua); m != "" {
		return domain.BotInfo{Detected: true, Weight: 1.0, Reason: ReasonKnownPattern, Value: normalize(m)}
	}
	if m := genericBotPattern.FindString(ua); m != "" {
		return domain.BotInfo{Detected: true, Weight: 0.9, Reason: ReasonGenericBot, Value: normalize(m)}
	}
	if m := backendClientPattern.FindString(ua); m != "" {
		return domain.BotInfo{Detected: true, Weight: 0.9, Reason: ReasonBackendClient, Value: normalize(m)}
	}
	if BrowserName(ua) == "" {
		return domain.BotInfo{Detected: true, Weight: 0.7, Reason: ReasonUnparseable}
	}
	return domain.BotInfo{Detected: false}
}

// BrowserName extracts a browser family from ua, or "" when none is
// recognizable.
func BrowserName(ua string) string {
	for _, b := range browserPatterns {
		if b.pattern.MatchString(ua) {
			return b.name
		}
	}
	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
