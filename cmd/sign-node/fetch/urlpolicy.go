package fetch

import (
	"fmt"
	"net/url"
	"strings"
)

// URLPolicy restricts where package downloads may come from
type URLPolicy struct {
	allowedSchemes map[string]bool
	// allowedHosts is empty when any host is accepted
	allowedHosts []string
}

// NewURLPolicy accepts http(s) URLs on allowedHosts. An entry matches the
// host itself and its subdomains; an empty list accepts every host.
func NewURLPolicy(allowedHosts []string) *URLPolicy {
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &URLPolicy{
		allowedSchemes: map[string]bool{
			"http":  true,
			"https": true,
		},
		allowedHosts: hosts,
	}
}

// Validate checks a download url against the policy
func (p *URLPolicy) Validate(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !p.allowedSchemes[scheme] {
		return fmt.Errorf("protocol '%s' is not allowed (only http/https permitted)", parsed.Scheme)
	}

	if parsed.User != nil {
		return fmt.Errorf("credentials in download URLs are not allowed")
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("hostname is required")
	}
	if len(p.allowedHosts) == 0 {
		return nil
	}
	for _, allowed := range p.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("host '%s' is not an allowed download source", host)
}
