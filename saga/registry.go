package saga

import (
	"sync"

	"github.com/go-foreman/conductor/log"
)

// Registry keeps saga definitions by type. It's populated at process start and shared by the orchestrator and runners.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]Definition
	order       []string
	logger      log.Logger
}

func NewRegistry(logger log.Logger) *Registry {
	return &Registry{
		definitions: make(map[string]Definition),
		logger:      logger,
	}
}

// Register stores a definition by its type, an existing one is overwritten
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.definitions[def.Type]; exists {
		r.logger.Logf(log.WarnLevel, "saga definition %s is already registered, overwriting it", def.Type)
	} else {
		r.order = append(r.order, def.Type)
	}

	r.definitions[def.Type] = def
}

func (r *Registry) Get(sagaType string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[sagaType]

	return def, ok
}

func (r *Registry) Has(sagaType string) bool {
	_, ok := r.Get(sagaType)

	return ok
}

// Types returns registered types in order of registration
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]string, len(r.order))
	copy(res, r.order)

	return res
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.definitions = make(map[string]Definition)
	r.order = nil
}
