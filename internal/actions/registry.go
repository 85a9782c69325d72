package actions

import (
	"net/http"
	"sort"
)

// Registry maps a sidecar container name to its shutdown action. It is built
// once and only read afterwards.
type Registry struct {
	actions map[string]Action
}

// NewRegistry builds a registry from the given table. The map is copied.
func NewRegistry(table map[string]Action) *Registry {
	m := make(map[string]Action, len(table))
	for name, a := range table {
		m[name] = a
	}
	return &Registry{actions: m}
}

// Default returns the registry of sidecars injected by the platform.
// Edit this table to add a sidecar or change how one is stopped.
func Default() *Registry {
	return NewRegistry(map[string]Action{
		"cloudsql-proxy": NewHTTPSignal(http.MethodPost, "/quitquitquit", 9091),
		"vks-sidecar":    NewExec("/bin/kill", "-s", "INT", "1"),
		"istio-proxy":    NewHTTPSignal(http.MethodPost, "/quitquitquit", 15000),
		"linkerd-proxy":  NewHTTPSignal(http.MethodPost, "/shutdown", 4191),
	})
}

// Lookup returns the action registered for a container name.
func (r *Registry) Lookup(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// Names returns the registered sidecar names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int { return len(r.actions) }
