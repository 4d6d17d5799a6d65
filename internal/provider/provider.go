// Package provider classifies lesson video URLs into the player families the
// course player knows how to drive.
package provider

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
)

// Provider is the canonical tag for a video source.
type Provider string

const (
	YouTube      Provider = "youtube"
	Vimeo        Provider = "vimeo"
	Wistia       Provider = "wistia"
	Loom         Provider = "loom"
	GenericEmbed Provider = "embed"
	DirectFile   Provider = "direct"
	None         Provider = "none"
)

type signature struct {
	provider  Provider
	hosts     []string
	idPattern *regexp.Regexp
	// origins lists every origin the provider's embed posts from; the first
	// is canonical.
	origins   []string
}

// Fixed priority order: the first signature whose pattern matches wins.
var signatures = []signature{
	{
		provider:  YouTube,
		hosts:     []string{"youtube.com", "youtu.be", "youtube-nocookie.com"},
		idPattern: regexp.MustCompile(`(?:youtube(?:-nocookie)?\.com/(?:watch\?(?:.*&)?v=|embed/|shorts/|live/|v/)|youtu\.be/)([A-Za-z0-9_-]{11})`),
		origins:   []string{"https://www.youtube.com"},
	},
	{
		provider:  Vimeo,
		hosts:     []string{"vimeo.com"},
		idPattern: regexp.MustCompile(`vimeo\.com/(?:video/|channels/[^/]+/|groups/[^/]+/videos/)?(\d+)`),
		origins:   []string{"https://player.vimeo.com"},
	},
	{
		provider:  Wistia,
		hosts:     []string{"wistia.com", "wistia.net", "wi.st"},
		idPattern: regexp.MustCompile(`(?:wistia\.(?:com|net)/(?:medias|embed/iframe|embed/medias)/|wi\.st/(?:medias/)?)([A-Za-z0-9]+)`),
		origins:   []string{"https://fast.wistia.net", "https://fast.wistia.com"},
	},
	{
		provider:  Loom,
		hosts:     []string{"loom.com"},
		idPattern: regexp.MustCompile(`loom\.com/(?:share|embed)/([A-Za-z0-9]+)`),
		origins:   []string{"https://www.loom.com"},
	},
}

var (
	manifestExtensions = []string{".m3u8", ".mpd"}
	segmentPaths       = []string{"/manifest", "/hls/", "/dash/"}
)

var segmentFormats = map[string]bool{"m3u8": true, "hls": true, "mpd": true, "dash": true}

// Detect returns the provider for rawURL. An explicit hint is honoured only when
// the URL host carries that provider's signature; a wrong hint is corrected by
// pattern matching. Missing URLs yield None.
func Detect(rawURL string, hint Provider) Provider {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return None
	}
	u := parse(rawURL)

	if hint != "" && hint != None {
		if sig, ok := lookup(hint); ok {
			if u != nil && hostMatches(u.Hostname(), sig.hosts) {
				return hint
			}
		} else if hint == DirectFile || hint == GenericEmbed {
			if _, known := matchKnown(rawURL); !known {
				return hint
			}
		}
	}

	if p, ok := matchKnown(rawURL); ok {
		return p
	}
	if u != nil && isGenericEmbed(u) {
		return GenericEmbed
	}
	return DirectFile
}

// VideoID extracts the provider-specific video id from rawURL.
func VideoID(p Provider, rawURL string) (string, bool) {
	sig, ok := lookup(p)
	if !ok {
		return "", false
	}
	m := sig.idPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Origin is the canonical message origin of a provider's embed.
func Origin(p Provider) string {
	if origins := Origins(p); len(origins) > 0 {
		return origins[0]
	}
	return ""
}

// Origins lists every origin a provider's embed may post messages from.
func Origins(p Provider) []string {
	if sig, ok := lookup(p); ok {
		return slices.Clone(sig.origins)
	}
	return nil
}

// NeedsSegmentedDelivery reports whether the URL points at a manifest or segment
// playlist. It is independent of the provider.
func NeedsSegmentedDelivery(rawURL string) bool {
	u := parse(strings.TrimSpace(rawURL))
	if u == nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, ext := range manifestExtensions {
		if strings.HasSuffix(path, ext) || strings.Contains(path, ext+"/") {
			return true
		}
	}
	for _, seg := range segmentPaths {
		if strings.Contains(path, seg) {
			return true
		}
	}
	q := u.Query()
	for _, key := range []string{"format", "type"} {
		if segmentFormats[strings.ToLower(q.Get(key))] {
			return true
		}
	}
	return false
}

func matchKnown(rawURL string) (Provider, bool) {
	for _, sig := range signatures {
		if sig.idPattern.MatchString(rawURL) {
			return sig.provider, true
		}
	}
	return "", false
}

func lookup(p Provider) (signature, bool) {
	for _, sig := range signatures {
		if sig.provider == p {
			return sig, true
		}
	}
	return signature{}, false
}

func hostMatches(host string, hosts []string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, h := range hosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func isGenericEmbed(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if strings.HasPrefix(host, "player.") || strings.HasPrefix(host, "embed.") {
		return true
	}
	path := strings.ToLower(u.Path)
	return strings.HasSuffix(path, "/embed") || strings.Contains(path, "/embed/")
}

func parse(rawURL string) *url.URL {
	if rawURL == "" {
		return nil
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return u
}
