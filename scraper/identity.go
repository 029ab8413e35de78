package scraper

import (
	"math/rand/v2"
	"net/http"
	"strings"
)

// Credential authenticates requests as the collection owner.
type Credential struct {
	Cookie string
}

// Identity is the header set presented on one request.
type Identity struct {
	Headers http.Header
}

// IdentityProvider hands out request identities.
type IdentityProvider interface {
	Next() Identity
}

// defaultProfiles are realistic desktop browser header sets. Referer and
// User-Agent are overridden per request.
var defaultProfiles = []map[string]string{
	{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language":           "zh-CN,zh;q=0.9,en;q=0.8",
		"Cache-Control":             "max-age=0",
		"Connection":                "keep-alive",
		"DNT":                       "1",
		"Upgrade-Insecure-Requests": "1",
	},
	{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language":           "zh-CN,zh;q=0.8,zh-TW;q=0.7,zh-HK;q=0.5,en-US;q=0.3,en;q=0.2",
		"Cache-Control":             "max-age=0",
		"Connection":                "keep-alive",
		"DNT":                       "1",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "none",
		"Sec-Fetch-User":            "?1",
		"Upgrade-Insecure-Requests": "1",
	},
}

// ProfilePool picks a random header profile per request.
type ProfilePool struct {
	profiles []map[string]string
}

// NewProfilePool builds a pool over profiles, or the built-in desktop
// profiles when none are given.
func NewProfilePool(profiles ...map[string]string) *ProfilePool {
	if len(profiles) == 0 {
		profiles = defaultProfiles
	}
	return &ProfilePool{profiles: profiles}
}

// Next returns a copy of a randomly chosen profile.
func (p *ProfilePool) Next() Identity {
	profile := p.profiles[rand.IntN(len(p.profiles))]

	headers := make(http.Header, len(profile)+3)
	for k, v := range profile {
		headers.Set(k, v)
	}
	return Identity{Headers: headers}
}

// StaticIdentity always returns the same headers.
type StaticIdentity struct {
	Headers http.Header
}

// Next returns a copy of the static headers.
func (s StaticIdentity) Next() Identity {
	return Identity{Headers: s.Headers.Clone()}
}

// requestHeaders layers the credential and the fixed desktop user agent and
// referer over id, then makes every value ASCII-safe.
func requestHeaders(id Identity, cred Credential, userAgent, referer string) http.Header {
	headers := id.Headers
	if headers == nil {
		headers = http.Header{}
	}
	if userAgent != "" {
		headers.Set("User-Agent", userAgent)
	}
	if referer != "" {
		headers.Set("Referer", referer)
	}
	if cred.Cookie != "" {
		headers.Set("Cookie", cred.Cookie)
	}
	for key, values := range headers {
		for i, v := range values {
			values[i] = asciiSafe(v)
		}
		headers[key] = values
	}
	return headers
}

// asciiSafe replaces every non-ASCII rune with '?'.
func asciiSafe(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 0x80 {
			return '?'
		}
		return r
	}, s)
}
