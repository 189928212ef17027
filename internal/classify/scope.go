package classify

import (
	"net/url"
	"strings"
)

// Scope decides whether a host belongs to the product deployment the agent
// is bound to, and which instance (tenant subdomain) it addresses.
type Scope struct {
	// Domain is the registrable product domain, e.g. "acme.example".
	Domain string
	// ExcludedHosts are full hosts under Domain that are never in scope
	// (marketing, developer and support properties).
	ExcludedHosts []string
}

// DefaultExcludedPrefixes are the subdomains of the product domain that are
// public properties rather than tenant deployments.
var DefaultExcludedPrefixes = []string{"www", "developer", "support", "status"}

// NewScope builds a Scope for a registrable domain with the default
// exclusions applied.
func NewScope(domain string) Scope {
	domain = strings.ToLower(strings.TrimSpace(domain))
	excluded := make([]string, 0, len(DefaultExcludedPrefixes)+1)
	excluded = append(excluded, domain) // bare apex is marketing
	for _, p := range DefaultExcludedPrefixes {
		excluded = append(excluded, p+"."+domain)
	}
	return Scope{Domain: domain, ExcludedHosts: excluded}
}

// Instance returns the host identifier for an in-scope URL and whether the
// URL is in scope at all. Instance is "" exactly when the URL is out of
// scope.
func (s Scope) Instance(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || s.Domain == "" {
		return "", false
	}
	if host != s.Domain && !strings.HasSuffix(host, "."+s.Domain) {
		return "", false
	}
	for _, ex := range s.ExcludedHosts {
		if host == ex {
			return "", false
		}
	}
	return host, true
}

// Matches reports whether a host (not a URL) is the given instance.
func (s Scope) Matches(rawURL, instance string) bool {
	got, ok := s.Instance(rawURL)
	return ok && got == strings.ToLower(instance)
}
