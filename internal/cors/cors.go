// Package cors keeps the per-application cross-origin allow lists and writes
// the matching response headers.
//
// Policies are keyed by tenant (virtual host + application). Each Set replaces
// the tenant's list wholesale; an empty list removes the policy, after which
// Apply leaves responses untouched.
package cors

import (
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
)

const (
	HeaderAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderExposeHeaders    = "Access-Control-Expose-Headers"

	// WHIP clients running in a browser need to read these from responses.
	exposedHeaders = "ETag, Location, Link"

	defaultAllowHeaders = "Content-Type, If-Match, Authorization"
)

// rule is one normalized allow-list entry.
type rule struct {
	// scheme restricts the match to http or https; empty matches both.
	scheme string
	// host is the normalized host[:port] for exact entries.
	host string
	// suffix is ".example.com" for "*.example.com" entries.
	suffix string
}

func (r rule) matches(scheme, host, hostname string) bool {
	if r.scheme != "" && r.scheme != scheme {
		return false
	}
	if r.suffix != "" {
		return len(hostname) > len(r.suffix) && strings.HasSuffix(hostname, r.suffix)
	}
	return r.host == host
}

type policy struct {
	anyOrigin bool
	rules     []rule
}

type Store struct {
	log *slog.Logger

	mu       sync.RWMutex
	policies map[string]*policy
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		log:      logger,
		policies: make(map[string]*policy),
	}
}

// Set replaces the allowed origins of tenant. Accepted entries are "*", a full
// origin (https://a.example.com), a bare host (a.example.com[:port]) or a
// wildcard host (*.example.com, optionally with a scheme). Malformed entries
// are logged and skipped.
func (s *Store) Set(tenant string, origins []string) {
	p := &policy{}
	for _, entry := range origins {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			p.anyOrigin = true
			continue
		}
		r, ok := parseRule(entry)
		if !ok {
			s.log.Warn("ignoring invalid cross-origin entry", "tenant", tenant, "entry", entry)
			continue
		}
		p.rules = append(p.rules, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !p.anyOrigin && len(p.rules) == 0 {
		delete(s.policies, tenant)
		return
	}
	s.policies[tenant] = p
}

// Clear removes the policy of tenant.
func (s *Store) Clear(tenant string) {
	s.Set(tenant, nil)
}

// Tenants returns the tenants with a policy, sorted.
func (s *Store) Tenants() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.policies))
	for tenant := range s.policies {
		out = append(out, tenant)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Apply writes CORS headers for r into w when the request origin is allowed
// for tenant. It reports whether any header was written. A tenant without a
// policy is not an error.
func (s *Store) Apply(tenant string, r *http.Request, w http.ResponseWriter) bool {
	s.mu.RLock()
	p := s.policies[tenant]
	s.mu.RUnlock()
	if p == nil {
		return false
	}

	h := w.Header()
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	switch {
	case p.anyOrigin:
		h.Set(HeaderAllowOrigin, "*")
	case originHeader == "":
		return false
	default:
		if !p.allows(originHeader) {
			return false
		}
		h.Set(HeaderAllowOrigin, originHeader)
		h.Set(HeaderAllowCredentials, "true")
		h.Add("Vary", "Origin")
	}

	h.Set(HeaderExposeHeaders, exposedHeaders)
	if requested := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); requested != "" {
		h.Set(HeaderAllowHeaders, requested)
	} else {
		h.Set(HeaderAllowHeaders, defaultAllowHeaders)
	}
	return true
}

func (p *policy) allows(originHeader string) bool {
	origin, hostname, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}
	scheme, host, _ := strings.Cut(origin, "://")
	for _, r := range p.rules {
		if r.matches(scheme, host, hostname) {
			return true
		}
	}
	return false
}

func parseRule(entry string) (rule, bool) {
	var r rule
	rest := entry
	if scheme, after, found := strings.Cut(entry, "://"); found {
		scheme = strings.ToLower(scheme)
		if scheme != "http" && scheme != "https" {
			return rule{}, false
		}
		r.scheme = scheme
		rest = strings.TrimSuffix(after, "/")
	}
	if rest == "" || strings.ContainsAny(rest, "/?#@") {
		return rule{}, false
	}

	if strings.HasPrefix(rest, "*.") {
		hostname, _, ok := splitHostPort(rest[2:])
		if !ok || hostname == "" || strings.Contains(hostname, "*") {
			return rule{}, false
		}
		r.suffix = "." + strings.ToLower(hostname)
		return r, true
	}
	if strings.Contains(rest, "*") {
		return rule{}, false
	}

	host, _, ok := normalizeAuthority(rest, r.scheme)
	if !ok {
		return rule{}, false
	}
	r.host = host
	return r, true
}
