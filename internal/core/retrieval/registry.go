package retrieval

import (
	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
)

// Registry resolves strategies to their retriever.
type Registry struct {
	retrievers map[domain.Strategy]ports.Retriever
}

func NewRegistry(retrievers ...ports.Retriever) *Registry {
	r := &Registry{retrievers: make(map[domain.Strategy]ports.Retriever, len(retrievers))}
	for _, retriever := range retrievers {
		if retriever == nil {
			continue
		}
		r.retrievers[retriever.Strategy()] = retriever
	}
	return r
}

func (r *Registry) Get(strategy domain.Strategy) (ports.Retriever, bool) {
	retriever, ok := r.retrievers[strategy]
	return retriever, ok
}

// Strategies returns the registered strategies in priority order.
func (r *Registry) Strategies() []domain.Strategy {
	out := make([]domain.Strategy, 0, len(r.retrievers))
	for _, strategy := range domain.AllStrategies {
		if _, ok := r.retrievers[strategy]; ok {
			out = append(out, strategy)
		}
	}
	return out
}
