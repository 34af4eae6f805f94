// Package urlpolicy implements the URL status manager of spec §4.1: TLD-aware
// allow/reject/block matching over registered URL patterns.
package urlpolicy

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Status is the decision recorded against a registered URL pattern.
type Status int

const (
	Allowed Status = iota
	Rejected
)

type entry struct {
	parsed parsedURL
	status Status
}

// Manager is the UrlStatusManager of spec §3: a status table plus a
// block-list, with matching bounded at path segments and TLD-aware host
// comparison.
type Manager struct {
	mu           sync.RWMutex
	entries      []entry
	blocked      []parsedURL
	lastRejected string
}

// New returns an empty Manager — with no status table configured, every
// non-blocked URL is allowed (spec §3 invariant).
func New() *Manager {
	return &Manager{}
}

// SetStatus registers rawURL with the given status, overwriting any prior
// status for an identical pattern.
func (m *Manager) SetStatus(rawURL string, status Status) {
	p, ok := parse(rawURL)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].parsed == p {
			m.entries[i].status = status
			return
		}
	}
	m.entries = append(m.entries, entry{parsed: p, status: status})
}

// Block adds rawURL to the block-list, which takes precedence over every
// other decision.
func (m *Manager) Block(rawURL string) {
	p, ok := parse(rawURL)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = append(m.blocked, p)
}

// IsBlocked reports whether candidate matches any registered block pattern.
func (m *Manager) IsBlocked(candidate string) bool {
	p, ok := parse(candidate)
	if !ok {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.blocked {
		if matches(b, p) {
			return true
		}
	}
	return false
}

// IsRejected reports whether candidate is explicitly rejected and not
// blocked (block always wins, so callers should check IsBlocked first if
// they need the precedence explicitly — IsAllowed already does).
func (m *Manager) IsRejected(candidate string) bool {
	p, ok := parse(candidate)
	if !ok {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.status == Rejected && matches(e.parsed, p) {
			return true
		}
	}
	return false
}

// IsAllowed reports whether candidate may be visited: never if blocked;
// otherwise requires an explicit Allowed match; an unconfigured manager (no
// entries at all) allows everything not blocked.
func (m *Manager) IsAllowed(candidate string) bool {
	if m.IsBlocked(candidate) {
		return false
	}
	p, ok := parse(candidate)
	if !ok {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return true
	}
	allowed := false
	for _, e := range m.entries {
		if !matches(e.parsed, p) {
			continue
		}
		if e.status == Rejected {
			allowed = false
		}
		if e.status == Allowed {
			allowed = true
		}
	}
	return allowed
}

// LastRejectedURL returns the most recent URL recorded as unknown (neither
// explicitly allowed nor rejected) by CheckURLAndGenerateMsg, per spec
// §4.9's URL gating step. Empty if none has been recorded.
func (m *Manager) LastRejectedURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRejected
}

// CheckURLAndGenerateMsg implements the web agent's URL gating
// (check_url_and_generate_msg, spec §4.9/§4.1): a blocked URL refuses
// immediately; an unknown URL (neither allowed nor explicitly rejected) is
// recorded as the last rejected URL and refused; an allowed URL returns
// ("", true) and the caller proceeds.
func (m *Manager) CheckURLAndGenerateMsg(candidate string) (string, bool) {
	if m.IsBlocked(candidate) {
		return fmt.Sprintf("I am not allowed to visit the website %s because it has been blocked.", candidate), false
	}
	if m.IsAllowed(candidate) {
		return "", true
	}
	if !m.IsRejected(candidate) {
		m.mu.Lock()
		m.lastRejected = candidate
		m.mu.Unlock()
	}
	return fmt.Sprintf("I am not allowed to visit the website %s because it is not in the list of websites I can access and the user has declined to allow it.", candidate), false
}

type parsedURL struct {
	scheme     string
	subdomain  string
	domain     string
	suffix     string
	rawHost    string
	path       string
	hasPSL     bool
}

// parse extracts (subdomain, domain, suffix) via public-suffix extraction,
// falling back to the raw host when extraction fails. Malformed URLs return
// ok=false — "not matched", never an error (spec §4.1).
func parse(raw string) (parsedURL, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return parsedURL{}, false
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return parsedURL{}, false
	}

	host := strings.ToLower(u.Hostname())
	p := parsedURL{scheme: strings.ToLower(u.Scheme), rawHost: host, path: u.Path}

	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Fallback: treat the whole host as the domain, no suffix/subdomain split.
		p.domain = host
		return p, true
	}
	suffix, _ := publicsuffix.PublicSuffix(host)
	p.suffix = suffix
	domainLabel := strings.TrimSuffix(etld1, "."+suffix)
	p.domain = domainLabel
	if sub := strings.TrimSuffix(host, "."+etld1); sub != host {
		p.subdomain = sub
	}
	p.hasPSL = true
	return p, true
}

// matches implements the spec §4.1 algorithm: cross-compatible http/https
// schemes, equal domain, registered suffix/subdomain (if present) equal to
// candidate's, and registered path a prefix of candidate path bounded at a
// '/' segment.
func matches(registered, candidate parsedURL) bool {
	if !schemeCompatible(registered.scheme, candidate.scheme) {
		return false
	}
	if registered.domain != candidate.domain {
		return false
	}
	if registered.suffix != "" && registered.suffix != candidate.suffix {
		return false
	}
	if registered.subdomain != "" && registered.subdomain != candidate.subdomain {
		return false
	}
	return pathPrefixMatches(registered.path, candidate.path)
}

func schemeCompatible(a, b string) bool {
	webLike := func(s string) bool { return s == "http" || s == "https" || s == "" }
	if webLike(a) && webLike(b) {
		return true
	}
	return a == b
}

// pathPrefixMatches reports whether registered is a prefix of candidate
// bounded at a '/' segment, so "/foo" matches "/foo/bar" but not "/foobar".
func pathPrefixMatches(registered, candidate string) bool {
	reg := strings.TrimSuffix(registered, "/")
	if reg == "" {
		return true
	}
	cand := candidate
	if !strings.HasPrefix(cand, reg) {
		return false
	}
	rest := cand[len(reg):]
	return rest == "" || strings.HasPrefix(rest, "/")
}

// IsURLMatch exposes the matching predicate directly for callers (and for
// the reflexivity law in spec §8). Malformed input returns false, never an
// error.
func IsURLMatch(a, b string) bool {
	pa, ok := parse(a)
	if !ok {
		return false
	}
	pb, ok := parse(b)
	if !ok {
		return false
	}
	return matches(pa, pb)
}
