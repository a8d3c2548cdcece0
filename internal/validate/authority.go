package validate

import (
	"net/url"
	"sort"
	"strings"

	"github.com/ppiankov/evalagent/internal/model"
)

// Allowlist decides whether a reference URL belongs to a registered source
type Allowlist struct {
	hosts map[string]model.Source
	// longest host first, so the most specific source wins suffix matches
	order []string
}

// NewAllowlist builds an allowlist from the base URLs of sources
func NewAllowlist(sources []model.Source) *Allowlist {
	a := &Allowlist{hosts: make(map[string]model.Source)}
	for _, src := range sources {
		host := hostOf(src.BaseURL)
		if host == "" {
			continue
		}
		if _, ok := a.hosts[host]; !ok {
			a.order = append(a.order, host)
		}
		a.hosts[host] = src
	}
	sort.SliceStable(a.order, func(i, j int) bool {
		return len(a.order[i]) > len(a.order[j])
	})
	return a
}

// Match returns the source whose host covers rawURL. A subdomain is covered
// by its parent (www.tax.gov.ae by tax.gov.ae), never the other way round.
func (a *Allowlist) Match(rawURL string) (model.Source, bool) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return model.Source{}, false
	}
	host := normalizeHost(parsed.Host)
	if host == "" {
		return model.Source{}, false
	}

	if src, ok := a.hosts[host]; ok {
		return src, true
	}
	for _, allowed := range a.order {
		if strings.HasSuffix(host, "."+allowed) {
			return a.hosts[allowed], true
		}
	}
	return model.Source{}, false
}

// Filter splits refs into allowed and dropped, keeping order and removing
// duplicates.
func (a *Allowlist) Filter(refs []string) (kept, dropped []string) {
	kept = []string{}
	seen := make(map[string]bool)
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		if _, ok := a.Match(ref); ok {
			kept = append(kept, ref)
		} else {
			dropped = append(dropped, ref)
		}
	}
	return kept, dropped
}

// Len returns the number of distinct hosts
func (a *Allowlist) Len() int {
	return len(a.hosts)
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return normalizeHost(parsed.Host)
}

func normalizeHost(host string) string {
	// Remove port from host
	if idx := strings.LastIndex(host, ":"); idx > 0 && !strings.HasSuffix(host, "]") {
		host = host[:idx]
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return strings.TrimPrefix(host, "www.")
}
