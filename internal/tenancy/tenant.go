// Package tenancy derives tenant identity from billing webhook payloads.
package tenancy

import (
	"errors"
	"strings"
)

// ErrMissingKey reports a payload without a subdomain or domain.
var ErrMissingKey = errors.New("missing tenant key")

// DefaultSuffix is appended to bare subdomains.
const DefaultSuffix = "hostclick.am"

const maxNameLen = 63

// Tenant is one hosted WordPress site.
type Tenant struct {
	VHost string `json:"vhost"`
	// Name overrides the resource name derived from VHost.
	Name string `json:"name,omitempty"`
}

// FromSubdomain builds "<sub>.<suffix>".
func FromSubdomain(sub, suffix string) (Tenant, error) {
	sub = strings.Trim(strings.TrimSpace(sub), ".")
	if sub == "" {
		return Tenant{}, ErrMissingKey
	}
	suffix = strings.Trim(strings.TrimSpace(suffix), ".")
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return Tenant{VHost: strings.ToLower(sub + "." + suffix)}, nil
}

// FromDomain uses a full domain as the vhost. name may be empty.
func FromDomain(domain, name string) (Tenant, error) {
	domain = strings.Trim(strings.TrimSpace(domain), ".")
	if domain == "" {
		return Tenant{}, ErrMissingKey
	}
	return Tenant{VHost: strings.ToLower(domain), Name: strings.TrimSpace(name)}, nil
}

// ResourceName is the Kubernetes name of the tenant's resources: the override
// when set, else the vhost as a DNS-1123 label.
func (t Tenant) ResourceName() string {
	if t.Name != "" {
		return sanitize(t.Name)
	}
	return sanitize(t.VHost)
}

func (t Tenant) String() string {
	if t.Name != "" {
		return t.VHost + " (" + t.Name + ")"
	}
	return t.VHost
}

func sanitize(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	var b strings.Builder
	b.Grow(len(s))
	prevHyphen := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevHyphen = false
		} else {
			if prevHyphen {
				continue
			}
			b.WriteRune('-')
			prevHyphen = true
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "tenant"
	}
	if len(out) > maxNameLen {
		out = strings.Trim(out[:maxNameLen], "-")
		if out == "" {
			out = "tenant"
		}
	}
	return out
}
