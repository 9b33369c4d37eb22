// Package registry resolves request paths to configured projects by
// longest-prefix match.
package registry

import (
	"sort"
	"strings"

	"github.com/myinfra/smart-api-gateway/internal/config"
)

type Registry struct {
	projects []*config.Project // sorted by prefix length, longest first
}

func New(projects map[string]*config.Project) *Registry {
	list := make([]*config.Project, 0, len(projects))
	for _, p := range projects {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		return len(list[i].Prefix) > len(list[j].Prefix)
	})
	return &Registry{projects: list}
}

// Resolve returns the project whose prefix matches path, preferring the
// longest prefix. A prefix matches when the path equals it exactly or
// continues with a '/' segment boundary, so "/shop" does not capture
// "/shopping".
func (r *Registry) Resolve(path string) *config.Project {
	for _, p := range r.projects {
		if path == p.Prefix || strings.HasPrefix(path, p.Prefix+"/") {
			return p
		}
	}
	return nil
}

// Len reports the number of configured projects.
func (r *Registry) Len() int { return len(r.projects) }
