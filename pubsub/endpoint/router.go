package endpoint

import "sync"

// Router is a registry of Endpoints and job names. Each name can have multiple endpoints assigned.
type Router interface {
	// RegisterEndpoint assigns job names to an endpoint
	RegisterEndpoint(endpoint Endpoint, jobNames ...string)
	// Route returns a list of endpoints that were assigned to the job name
	Route(jobName string) []Endpoint
}

// NewRouter creates new instance of Router with default implementation
func NewRouter() Router {
	return &router{
		routes: make(map[string][]Endpoint),
	}
}

type router struct {
	mu     sync.RWMutex
	routes map[string][]Endpoint
}

func (r *router) RegisterEndpoint(endpoint Endpoint, jobNames ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range jobNames {
		registered := false

		for _, e := range r.routes[name] {
			if e.Name() == endpoint.Name() {
				registered = true
				break
			}
		}

		if !registered {
			r.routes[name] = append(r.routes[name], endpoint)
		}
	}
}

func (r *router) Route(jobName string) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if routes, ok := r.routes[jobName]; ok {
		res := make([]Endpoint, len(routes))
		copy(res, routes)

		return res
	}

	return []Endpoint{}
}
