package routing

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

func newDefaultSelector(t *testing.T, available []domain.Strategy, cfg SelectorConfig) *Selector {
	t.Helper()
	s, err := NewSelector(DefaultRoutingTable(), available, cfg)
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	return s
}

func TestSelectorDefaultTable(t *testing.T) {
	s := newDefaultSelector(t, domain.AllStrategies, SelectorConfig{FanOutConfidence: 0.5})
	cases := []struct {
		intent domain.IntentCategory
		want   []domain.Strategy
	}{
		{intent: domain.IntentEntityLookup, want: []domain.Strategy{domain.StrategyStructured, domain.StrategyFused}},
		{intent: domain.IntentRelationshipTraversal, want: []domain.Strategy{domain.StrategyStructured}},
		{intent: domain.IntentConceptualLookup, want: []domain.Strategy{domain.StrategyFused, domain.StrategySemantic}},
		{intent: domain.IntentAggregateMetric, want: []domain.Strategy{domain.StrategyStructured, domain.StrategyFused}},
	}
	for _, tc := range cases {
		t.Run(string(tc.intent), func(t *testing.T) {
			plan := s.Select(domain.NewIntent(tc.intent, 0.9))
			if plan.FanOut {
				t.Fatalf("expected sequential plan")
			}
			if !reflect.DeepEqual(plan.Strategies, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, plan.Strategies)
			}
		})
	}
}

func TestSelectorFansOutForAmbiguousAndLowConfidence(t *testing.T) {
	s := newDefaultSelector(t, domain.AllStrategies, SelectorConfig{FanOutConfidence: 0.5})

	for _, intent := range []domain.Intent{
		domain.AmbiguousIntent(),
		domain.NewIntent(domain.IntentEntityLookup, 0.3),
	} {
		plan := s.Select(intent)
		if !plan.FanOut || !reflect.DeepEqual(plan.Strategies, domain.AllStrategies) {
			t.Fatalf("expected fan-out over all strategies for %+v, got %+v", intent, plan)
		}
	}
}

func TestSelectorAlwaysFanOut(t *testing.T) {
	s := newDefaultSelector(t, domain.AllStrategies, SelectorConfig{FanOutConfidence: 0.5, AlwaysFanOut: true})
	plan := s.Select(domain.NewIntent(domain.IntentRelationshipTraversal, 1))
	if !plan.FanOut || len(plan.Strategies) != 3 {
		t.Fatalf("expected fan-out plan, got %+v", plan)
	}
}

func TestSelectorDropsUnregisteredStrategies(t *testing.T) {
	available := []domain.Strategy{domain.StrategyFused, domain.StrategySemantic}
	s := newDefaultSelector(t, available, SelectorConfig{FanOutConfidence: 0.5})

	plan := s.Select(domain.NewIntent(domain.IntentEntityLookup, 0.9))
	if plan.FanOut || !reflect.DeepEqual(plan.Strategies, []domain.Strategy{domain.StrategyFused}) {
		t.Fatalf("expected [fused], got %+v", plan)
	}

	plan = s.Select(domain.NewIntent(domain.IntentRelationshipTraversal, 0.9))
	if !reflect.DeepEqual(plan.Strategies, available) {
		t.Fatalf("expected fallback to registered strategies, got %+v", plan)
	}
}

func TestSelectorFanOutWhenExpression(t *testing.T) {
	table := RoutingTable{Routes: []Route{{
		Intent:     domain.IntentConceptualLookup,
		Strategies: []domain.Strategy{domain.StrategyFused},
		FanOutWhen: "confidence < 0.8 && intent == 'conceptual_lookup'",
	}}}
	s, err := NewSelector(table, domain.AllStrategies, SelectorConfig{FanOutConfidence: 0.5})
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}

	if plan := s.Select(domain.NewIntent(domain.IntentConceptualLookup, 0.7)); !plan.FanOut {
		t.Fatalf("expected expression to trigger fan-out, got %+v", plan)
	}
	if plan := s.Select(domain.NewIntent(domain.IntentConceptualLookup, 0.9)); plan.FanOut {
		t.Fatalf("expected sequential plan, got %+v", plan)
	}
	if plan := s.Select(domain.NewIntent(domain.IntentEntityLookup, 0.9)); !plan.FanOut {
		t.Fatalf("expected fan-out for intent missing from table, got %+v", plan)
	}
}

func TestNewSelectorRejectsInvalidTable(t *testing.T) {
	cases := map[string]RoutingTable{
		"unknown intent":   {Routes: []Route{{Intent: "gossip"}}},
		"unknown strategy": {Routes: []Route{{Intent: domain.IntentEntityLookup, Strategies: []domain.Strategy{"psychic"}}}},
		"bad expression":   {Routes: []Route{{Intent: domain.IntentEntityLookup, FanOutWhen: "confidence <"}}},
	}
	for name, table := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewSelector(table, domain.AllStrategies, SelectorConfig{}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadRoutingTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	content := `routes:
  - intent: entity_lookup
    strategies: [fused, structured]
  - intent: ambiguous
    fan_out: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write table: %v", err)
	}
	table, err := LoadRoutingTable(path)
	if err != nil {
		t.Fatalf("load table: %v", err)
	}
	s, err := NewSelector(table, domain.AllStrategies, SelectorConfig{FanOutConfidence: 0.5})
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	plan := s.Select(domain.NewIntent(domain.IntentEntityLookup, 0.95))
	want := []domain.Strategy{domain.StrategyFused, domain.StrategyStructured}
	if !reflect.DeepEqual(plan.Strategies, want) {
		t.Fatalf("expected %v, got %v", want, plan.Strategies)
	}
}
