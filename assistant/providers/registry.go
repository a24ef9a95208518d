package providers

import (
	"fmt"
	"strings"
	"sync"

	"github.com/AzielCF/az-inbox/assistant/domain"
)

type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.Provider
}

// NewRegistry returns a registry with the built-in providers.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]domain.Provider)}
	r.Register(NewOpenAIProvider())
	r.Register(NewGeminiProvider())
	return r
}

func (r *Registry) Register(p domain.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Name())] = p
}

func (r *Registry) Get(name string) (domain.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported AI provider %q", name)
	}
	return p, nil
}
