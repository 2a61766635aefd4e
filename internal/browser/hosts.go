// internal/browser/hosts.go
package browser

import (
	"net/url"
	"strings"
)

// HostMatcher decides which tabs get an agent.
type HostMatcher struct {
	hosts map[string]struct{}
}

// NewHostMatcher matches URLs whose host is one of hosts, ignoring case.
func NewHostMatcher(hosts []string) HostMatcher {
	m := HostMatcher{hosts: make(map[string]struct{}, len(hosts))}
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			m.hosts[h] = struct{}{}
		}
	}
	return m
}

// Match reports whether rawURL is an http(s) URL on a configured host.
func (m HostMatcher) Match(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	_, ok := m.hosts[strings.ToLower(u.Hostname())]
	return ok
}
