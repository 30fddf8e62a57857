package resilience

import (
	"sort"

	"go.uber.org/zap"
)

// Registry mantiene un pipeline por colaborador.
type Registry struct {
	pipelines map[string]*Pipeline
}

func NewRegistry(s Settings, log *zap.Logger, names ...string) *Registry {
	r := &Registry{pipelines: make(map[string]*Pipeline, len(names))}
	for _, name := range names {
		r.pipelines[name] = NewPipeline(name, s, log)
	}
	return r
}

func (r *Registry) Get(name string) (*Pipeline, bool) {
	p, ok := r.pipelines[name]
	return p, ok
}

// Statuses devuelve el estado de todos los breakers ordenado por nombre.
func (r *Registry) Statuses() []Status {
	out := make([]Status, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		out = append(out, p.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
