// Package urladapt rewrites URLs that are hostile to static HTML analysis
// toward friendlier JSON, RSS, AMP or mobile equivalents.
package urladapt

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Type classifies an adaptation.
type Type string

const (
	TypeOriginal Type = "original"
	TypeJSON     Type = "json"
	TypeRSS      Type = "rss"
	TypeAMP      Type = "amp"
	TypeMobile   Type = "mobile"
)

// Adaptation is the result of Adapt.
type Adaptation struct {
	Original string `json:"original"`
	Adapted  string `json:"adapted"`
	Type     Type   `json:"type"`
	Reason   string `json:"reason"`
}

// Changed reports whether the URL was rewritten.
func (a Adaptation) Changed() bool { return a.Type != TypeOriginal && a.Adapted != a.Original }

var ampNewsDomains = []string{"cnn.com", "bbc.com", "bbc.co.uk", "theguardian.com", "nytimes.com", "washingtonpost.com"}

// scriptHeavyDomains render their content client side; their m. subdomain
// serves plain HTML.
var scriptHeavyDomains = []string{"twitter.com", "x.com", "facebook.com", "instagram.com", "linkedin.com"}

type rule struct {
	name  string
	apply func(u *url.URL) (*url.URL, Type, string, bool)
}

var rules = []rule{
	{"reddit-json", redditJSON},
	{"medium-rss", mediumRSS},
	{"news-amp", newsAMP},
	{"mobile-subdomain", mobileSubdomain},
}

// Adapt applies the first matching rule to raw. Unparsable or unmatched
// URLs are returned unchanged with TypeOriginal.
func Adapt(raw string) Adaptation {
	return candidates(raw)[0]
}

// candidates lists the primary adaptation followed by the other rules that
// also match, ending with the original URL.
func candidates(raw string) []Adaptation {
	original := Adaptation{Original: raw, Adapted: raw, Type: TypeOriginal, Reason: "no adaptation needed"}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return []Adaptation{original}
	}

	var out []Adaptation
	for _, r := range rules {
		cp := *u
		if adapted, typ, reason, ok := r.apply(&cp); ok {
			out = append(out, Adaptation{Original: raw, Adapted: adapted.String(), Type: typ, Reason: reason})
		}
	}
	return append(out, original)
}

func host(u *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func hostIs(u *url.URL, domain string) bool {
	h := host(u)
	return h == domain || strings.HasSuffix(h, "."+domain)
}

func redditJSON(u *url.URL) (*url.URL, Type, string, bool) {
	if !hostIs(u, "reddit.com") || strings.HasSuffix(u.Path, ".json") {
		return nil, "", "", false
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + ".json"
	if u.Path == ".json" {
		u.Path = "/.json"
	}
	return u, TypeJSON, "reddit serves listings as JSON", true
}

func mediumRSS(u *url.URL) (*url.URL, Type, string, bool) {
	if !hostIs(u, "medium.com") || strings.HasPrefix(u.Path, "/feed") {
		return nil, "", "", false
	}
	h := host(u)
	if h != "medium.com" {
		// publication.medium.com -> medium.com/feed/publication
		u.Path = "/feed/" + strings.TrimSuffix(h, ".medium.com")
		u.Host = "medium.com"
	} else {
		seg := strings.Trim(u.Path, "/")
		if i := strings.Index(seg, "/"); i >= 0 {
			seg = seg[:i]
		}
		if seg == "" {
			return nil, "", "", false
		}
		u.Path = "/feed/" + seg
	}
	u.RawQuery = ""
	return u, TypeRSS, "medium pages are script rendered; the RSS feed is static", true
}

func newsAMP(u *url.URL) (*url.URL, Type, string, bool) {
	for _, d := range ampNewsDomains {
		if !hostIs(u, d) {
			continue
		}
		if strings.HasPrefix(u.Path, "/amp/") || strings.HasSuffix(u.Path, "/amp") {
			return nil, "", "", false
		}
		p := strings.TrimSuffix(u.Path, "/")
		if p == "" {
			return nil, "", "", false
		}
		u.Path = p + "/amp"
		return u, TypeAMP, "news article AMP pages are lightweight static HTML", true
	}
	return nil, "", "", false
}

func mobileSubdomain(u *url.URL) (*url.URL, Type, string, bool) {
	h := host(u)
	for _, d := range scriptHeavyDomains {
		if h != d {
			continue
		}
		port := u.Port()
		u.Host = "m." + d
		if port != "" {
			u.Host += ":" + port
		}
		return u, TypeMobile, "site relies on client-side rendering; mobile version is simpler", true
	}
	return nil, "", "", false
}

// Prober checks candidate URLs for existence.
type Prober struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

func NewProber(timeout time.Duration, userAgent string, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{client: &http.Client{Timeout: timeout}, userAgent: userAgent, logger: logger}
}

// FindWorkingURL probes each candidate rewrite with HEAD, falling back to a
// short GET, and returns the first that answers 2xx/3xx. When none do, the
// primary adaptation is returned un-probed.
func (p *Prober) FindWorkingURL(ctx context.Context, raw string) Adaptation {
	cands := candidates(raw)
	for _, c := range cands {
		if c.Type == TypeOriginal {
			break
		}
		if p.exists(ctx, c.Adapted) {
			return c
		}
		p.logger.Debug("adapted url did not respond", "url", c.Adapted, "type", c.Type)
	}
	return cands[0]
}

func (p *Prober) exists(ctx context.Context, target string) bool {
	if p.try(ctx, http.MethodHead, target) {
		return true
	}
	return p.try(ctx, http.MethodGet, target)
}

func (p *Prober) try(ctx context.Context, method, target string) bool {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return false
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
