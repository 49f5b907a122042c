package carrier

import (
	"sort"
	"strings"
	"sync"
)

// Registry resolves carrier codes to clients. Unknown codes resolve to the sandbox client.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client
	fallback Client
}

func NewRegistry(fallback Client) *Registry {
	return &Registry{clients: map[string]Client{}, fallback: fallback}
}

func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[normCode(c.Code())] = c
}

// Resolve returns the client for code and whether it is a registered (non-sandbox) client.
func (r *Registry) Resolve(code string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clients[normCode(code)]; ok {
		return c, true
	}
	return r.fallback, false
}

func (r *Registry) Has(code string) bool {
	_, ok := r.Resolve(code)
	return ok
}

func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c.Code())
	}
	sort.Strings(out)
	return out
}

func normCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
