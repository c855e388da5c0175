package transport

import (
	"net/http"
	"net/url"
	"strings"

	"chatd/util"
)

// originPolicy decides which browser origins may open a WebSocket.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *util.Logger
}

// newOriginPolicy normalises the configured origins.  "*" allows any
// origin; an empty list allows only same-host requests.
func newOriginPolicy(origins []string, logger *util.Logger) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}), logger: logger}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid websocket origin %q", origin)
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// check is used as the upgrader's CheckOrigin.  Requests without an
// Origin header come from non-browser clients and are allowed.
func (p *originPolicy) check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(header)
	if !ok {
		p.logger.Verbose("websocket: malformed origin %q from %s", header, r.RemoteAddr)
		return false
	}

	if len(p.allowed) == 0 {
		u, _ := url.Parse(normalized)
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
	} else if _, ok := p.allowed[normalized]; ok {
		return true
	}

	p.logger.Verbose("websocket: blocked origin %q from %s", header, r.RemoteAddr)
	return false
}
