// Package geo resolves a coarse "City, Country" label for session
// listings. Lookups are best-effort with a short timeout; an empty
// string means unknown and is never an error to the caller.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"admin-auth-service/internal/util"
)

const lookupURL = "http://ip-api.com/json/%s?fields=status,country,city"

// Resolver caches lookups per IP for the process lifetime; admin IPs
// are few and the upstream is rate-limited.
type Resolver struct {
	enabled bool
	client  *http.Client

	mu    sync.Mutex
	cache map[string]string
}

func NewResolver(enabled bool) *Resolver {
	return &Resolver{
		enabled: enabled,
		client:  &http.Client{Timeout: 3 * time.Second},
		cache:   make(map[string]string),
	}
}

// Locate returns "City, Country" for public IPs, "Local" for private
// and loopback addresses, and "" when the lookup fails or is disabled.
func (r *Resolver) Locate(ctx context.Context, ip string) string {
	if ip == "" {
		return ""
	}
	if isPrivate(ip) {
		return "Local"
	}
	if !r.enabled {
		return ""
	}

	r.mu.Lock()
	if loc, ok := r.cache[ip]; ok {
		r.mu.Unlock()
		return loc
	}
	r.mu.Unlock()

	loc := r.lookup(ctx, ip)

	r.mu.Lock()
	r.cache[ip] = loc
	r.mu.Unlock()
	return loc
}

func (r *Resolver) lookup(ctx context.Context, ip string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(lookupURL, ip), nil)
	if err != nil {
		return ""
	}

	resp, err := r.client.Do(req)
	if err != nil {
		util.Debug("Geo lookup failed", util.String("ip", ip), zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var body struct {
		Status  string `json:"status"`
		Country string `json:"country"`
		City    string `json:"city"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ""
	}
	if body.Status != "success" {
		return ""
	}

	switch {
	case body.City != "" && body.Country != "":
		return body.City + ", " + body.Country
	case body.Country != "":
		return body.Country
	default:
		return ""
	}
}

func isPrivate(ip string) bool {
	if ip == "localhost" {
		return true
	}
	host := ip
	if strings.Contains(host, ":") && strings.Count(host, ":") == 1 {
		host, _, _ = net.SplitHostPort(ip)
	}
	parsed := net.ParseIP(host)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast()
}
