package tenant

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const labelSeparator = "."

// ErrResolutionDegraded is reported by ResolveDetailed when an input could
// not be parsed as an absolute URL and a best-effort string was returned.
var ErrResolutionDegraded = errors.New("tenant hostname resolution degraded")

// Location is the browsing context a connection is made on behalf of.
type Location interface {
	// Origin is scheme://host[:port] of the current context.
	Origin() string

	// Hostname is the host of the current context, without port.
	Hostname() string
}

// StaticLocation is a fixed Location.
type StaticLocation struct {
	OriginURL string
	Host      string
}

func (l StaticLocation) Origin() string   { return l.OriginURL }
func (l StaticLocation) Hostname() string { return l.Host }

// ParseLocation builds a StaticLocation from an absolute URL such as
// https://my-tenant.portal.blip.ai.
func ParseLocation(raw string) (StaticLocation, error) {
	u, ok := parseAbsolute(raw)
	if !ok {
		return StaticLocation{}, fmt.Errorf("invalid origin %q: absolute URL required", raw)
	}
	return StaticLocation{
		OriginURL: u.Scheme + "://" + hostOf(u),
		Host:      strings.ToLower(u.Hostname()),
	}, nil
}

// Resolver computes tenant-qualified hosts for a location.
type Resolver struct {
	location Location
}

// NewResolver creates a resolver. A nil location never yields a tenant.
func NewResolver(location Location) *Resolver {
	if location == nil {
		location = StaticLocation{}
	}
	return &Resolver{location: location}
}

// TenantFromLocation returns the tenant id of the current location, or ""
// when the location belongs to the canonical domain.
func (r *Resolver) TenantFromLocation(canonicalDomainURL string) string {
	if strings.Contains(canonicalDomainURL, r.location.Origin()) {
		return ""
	}
	return firstLabel(r.location.Hostname())
}

// OnCanonicalDomain reports whether domainURL already covers the current
// location, meaning no tenant redial is needed.
func (r *Resolver) OnCanonicalDomain(domainURL string) bool {
	return strings.Contains(domainURL, r.location.Origin())
}

// Resolve returns the tenant-qualified form of candidateURL. Empty tenantID
// and fallbackURL mean absent. It never fails; see ResolveDetailed.
func (r *Resolver) Resolve(candidateURL, tenantID, fallbackURL, canonicalDomainURL string) string {
	host, _ := r.ResolveDetailed(candidateURL, tenantID, fallbackURL, canonicalDomainURL)
	return host
}

// ResolveDetailed is Resolve that also reports ErrResolutionDegraded when
// the result is a best-effort string built from unparseable input.
func (r *Resolver) ResolveDetailed(candidateURL, tenantID, fallbackURL, canonicalDomainURL string) (string, error) {
	if tenantID == "" {
		tenantID = r.TenantFromLocation(canonicalDomainURL)
	}
	if fallbackURL == "" {
		fallbackURL = candidateURL
	}

	if tenantID != "" {
		u, ok := parseAbsolute(candidateURL)
		if !ok {
			return tenantID + labelSeparator + candidateURL,
				fmt.Errorf("%w: candidate %q", ErrResolutionDegraded, candidateURL)
		}
		tenantID = strings.ToLower(tenantID)
		host := hostOf(u)
		if firstLabel(host) != tenantID {
			host = tenantID + labelSeparator + host
		}
		return u.Scheme + "://" + host + "/", nil
	}

	u, ok := parseAbsolute(fallbackURL)
	if !ok {
		return fallbackURL, fmt.Errorf("%w: fallback %q", ErrResolutionDegraded, fallbackURL)
	}
	return u.Scheme + "://" + hostOf(u) + "/", nil
}

// parseAbsolute accepts only URLs with both a scheme and a host. Bare
// hostnames like portal.blip.ai are rejected.
func parseAbsolute(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	return u, true
}

// defaultPorts are dropped from hosts, as browsers do.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// hostOf returns the lowercased host of u, without the port when it is the
// scheme's default.
func hostOf(u *url.URL) string {
	host := strings.ToLower(u.Host)
	if port := u.Port(); port != "" && defaultPorts[strings.ToLower(u.Scheme)] == port {
		host = strings.TrimSuffix(host, ":"+port)
	}
	return host
}

func firstLabel(host string) string {
	label, _, _ := strings.Cut(host, labelSeparator)
	return label
}
