package routing

import (
	"fmt"
	"os"

	"github.com/Knetic/govaluate"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

const defaultFanOutConfidence = 0.5

// Plan is the ordered list of strategies to run for one question.
type Plan struct {
	Strategies []domain.Strategy `json:"strategies"`
	FanOut     bool              `json:"fan_out"`
}

// Route is one row of the routing table.
type Route struct {
	Intent     domain.IntentCategory `yaml:"intent"`
	Strategies []domain.Strategy     `yaml:"strategies"`
	FanOut     bool                  `yaml:"fan_out"`
	// FanOutWhen is a boolean expression over confidence and intent.
	FanOutWhen string `yaml:"fan_out_when"`
}

type RoutingTable struct {
	Routes []Route `yaml:"routes"`
}

func DefaultRoutingTable() RoutingTable {
	return RoutingTable{Routes: []Route{
		{Intent: domain.IntentEntityLookup, Strategies: []domain.Strategy{domain.StrategyStructured, domain.StrategyFused}},
		{Intent: domain.IntentRelationshipTraversal, Strategies: []domain.Strategy{domain.StrategyStructured}},
		{Intent: domain.IntentConceptualLookup, Strategies: []domain.Strategy{domain.StrategyFused, domain.StrategySemantic}},
		{Intent: domain.IntentAggregateMetric, Strategies: []domain.Strategy{domain.StrategyStructured, domain.StrategyFused}},
		{Intent: domain.IntentAmbiguous, Strategies: domain.AllStrategies, FanOut: true},
	}}
}

func LoadRoutingTable(path string) (RoutingTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RoutingTable{}, fmt.Errorf("read routing table: %w", err)
	}
	var table RoutingTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return RoutingTable{}, fmt.Errorf("parse routing table: %w", err)
	}
	return table, nil
}

type SelectorConfig struct {
	FanOutConfidence float64
	AlwaysFanOut     bool
}

type compiledRoute struct {
	strategies []domain.Strategy
	fanOut     bool
	fanOutWhen *govaluate.EvaluableExpression
}

// Selector maps an intent to a retrieval plan over the registered strategies.
type Selector struct {
	routes    map[domain.IntentCategory]compiledRoute
	available []domain.Strategy
	cfg       SelectorConfig
}

// NewSelector validates the table and compiles its expressions. available
// lists the registered strategies in priority order.
func NewSelector(table RoutingTable, available []domain.Strategy, cfg SelectorConfig) (*Selector, error) {
	if cfg.FanOutConfidence < 0 || cfg.FanOutConfidence > 1 {
		cfg.FanOutConfidence = defaultFanOutConfidence
	}
	s := &Selector{
		routes:    make(map[domain.IntentCategory]compiledRoute, len(table.Routes)),
		available: append([]domain.Strategy(nil), available...),
		cfg:       cfg,
	}
	for i, route := range table.Routes {
		category, ok := domain.ParseIntentCategory(string(route.Intent))
		if !ok {
			return nil, fmt.Errorf("route %d: unknown intent %q", i, route.Intent)
		}
		compiled := compiledRoute{fanOut: route.FanOut}
		for _, strategy := range route.Strategies {
			if _, ok := domain.ParseStrategy(string(strategy)); !ok {
				return nil, fmt.Errorf("route %d: unknown strategy %q", i, strategy)
			}
			compiled.strategies = append(compiled.strategies, strategy)
		}
		if route.FanOutWhen != "" {
			expr, err := govaluate.NewEvaluableExpression(route.FanOutWhen)
			if err != nil {
				return nil, fmt.Errorf("route %d: parse fan_out_when: %w", i, err)
			}
			compiled.fanOutWhen = expr
		}
		s.routes[category] = compiled
	}
	return s, nil
}

func (s *Selector) Select(intent domain.Intent) Plan {
	route, ok := s.routes[intent.Category]
	if !ok {
		route = compiledRoute{fanOut: true}
	}

	fanOut := route.fanOut || s.cfg.AlwaysFanOut || intent.Confidence < s.cfg.FanOutConfidence
	if !fanOut && route.fanOutWhen != nil {
		fanOut = evaluateFanOut(route.fanOutWhen, intent)
	}

	if fanOut {
		return Plan{Strategies: s.allAvailable(), FanOut: true}
	}

	strategies := make([]domain.Strategy, 0, len(route.strategies))
	seen := make(map[domain.Strategy]struct{}, len(route.strategies))
	for _, strategy := range route.strategies {
		if _, dup := seen[strategy]; dup || !s.isAvailable(strategy) {
			continue
		}
		seen[strategy] = struct{}{}
		strategies = append(strategies, strategy)
	}
	if len(strategies) == 0 {
		return Plan{Strategies: s.allAvailable(), FanOut: true}
	}
	return Plan{Strategies: strategies}
}

// evaluateFanOut treats expression errors and non-boolean results as false.
func evaluateFanOut(expr *govaluate.EvaluableExpression, intent domain.Intent) bool {
	result, err := expr.Evaluate(map[string]interface{}{
		"confidence": intent.Confidence,
		"intent":     string(intent.Category),
	})
	if err != nil {
		return false
	}
	fanOut, ok := result.(bool)
	return ok && fanOut
}

func (s *Selector) allAvailable() []domain.Strategy {
	return append([]domain.Strategy(nil), s.available...)
}

func (s *Selector) isAvailable(strategy domain.Strategy) bool {
	for _, candidate := range s.available {
		if candidate == strategy {
			return true
		}
	}
	return false
}
