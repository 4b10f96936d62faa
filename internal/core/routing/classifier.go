package routing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
	"github.com/kirillkom/evidence-router/internal/core/retrieval"
)

// KeywordRule scores an intent by the question terms it matches. Phrases
// may hold several words; a phrase matches when all its words appear.
type KeywordRule struct {
	Intent   domain.IntentCategory `yaml:"intent"`
	Keywords []string              `yaml:"keywords"`
	Weight   float64               `yaml:"weight"`
}

type RuleSet struct {
	Rules []KeywordRule `yaml:"rules"`
	// MinScore is the best-rule score below which the question is ambiguous.
	MinScore float64 `yaml:"min_score"`
}

func DefaultRuleSet() RuleSet {
	return RuleSet{
		MinScore: 1,
		Rules: []KeywordRule{
			{
				Intent:   domain.IntentAggregateMetric,
				Weight:   1.2,
				Keywords: []string{"total", "sum", "average", "how many", "count", "revenue", "number of", "percentage", "growth", "projection", "forecast"},
			},
			{
				Intent:   domain.IntentRelationshipTraversal,
				Weight:   1.1,
				Keywords: []string{"related", "relationship", "connected", "linked", "depends on", "partner", "partners", "between", "works with", "reports to", "supplier", "owns"},
			},
			{
				Intent:   domain.IntentEntityLookup,
				Weight:   1.0,
				Keywords: []string{"who is", "what is the value", "subscription", "contract", "customer", "account", "price", "status of", "owner of", "value of", "details of", "client"},
			},
			{
				Intent:   domain.IntentConceptualLookup,
				Weight:   1.0,
				Keywords: []string{"explain", "why", "how does", "overview", "features", "describe", "what are", "benefits", "policy", "approach", "strategy", "risk"},
			},
		},
	}
}

// LoadRuleSet reads a YAML rule table.
func LoadRuleSet(path string) (RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read classifier rules: %w", err)
	}
	var rules RuleSet
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return RuleSet{}, fmt.Errorf("parse classifier rules: %w", err)
	}
	for i, rule := range rules.Rules {
		if _, ok := domain.ParseIntentCategory(string(rule.Intent)); !ok {
			return RuleSet{}, fmt.Errorf("classifier rule %d: unknown intent %q", i, rule.Intent)
		}
	}
	return rules, nil
}

// RuleClassifier is the keyword matcher classifier.
type RuleClassifier struct {
	rules    []compiledRule
	minScore float64
}

type compiledRule struct {
	intent  domain.IntentCategory
	weight  float64
	phrases [][]string
}

func NewRuleClassifier(set RuleSet) *RuleClassifier {
	c := &RuleClassifier{minScore: set.MinScore}
	if c.minScore <= 0 {
		c.minScore = 1
	}
	for _, rule := range set.Rules {
		compiled := compiledRule{intent: rule.Intent, weight: rule.Weight}
		if compiled.weight <= 0 {
			compiled.weight = 1
		}
		for _, keyword := range rule.Keywords {
			if words := retrieval.SplitAlphaNumLower(keyword); len(words) > 0 {
				compiled.phrases = append(compiled.phrases, words)
			}
		}
		c.rules = append(c.rules, compiled)
	}
	return c
}

func (c *RuleClassifier) Classify(_ context.Context, text string) (domain.Intent, error) {
	tokens := retrieval.SplitAlphaNumLower(text)
	if len(tokens) == 0 {
		return domain.Intent{}, fmt.Errorf("question has no terms")
	}
	present := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		present[token] = struct{}{}
	}

	bestScore, secondScore := 0.0, 0.0
	best := domain.IntentAmbiguous
	for _, rule := range c.rules {
		score := 0.0
		for _, phrase := range rule.phrases {
			if containsAll(present, phrase) {
				score += rule.weight * float64(len(phrase))
			}
		}
		switch {
		case score > bestScore:
			secondScore = bestScore
			bestScore = score
			best = rule.intent
		case score > secondScore:
			secondScore = score
		}
	}

	if bestScore < c.minScore {
		return domain.NewIntent(domain.IntentAmbiguous, 0), nil
	}
	// margin over the runner-up drives confidence
	confidence := (bestScore - secondScore) / bestScore
	return domain.NewIntent(best, confidence), nil
}

func containsAll(present map[string]struct{}, phrase []string) bool {
	for _, word := range phrase {
		if _, ok := present[word]; !ok {
			return false
		}
	}
	return true
}

// SafeClassifier degrades every classification failure to an ambiguous
// intent with zero confidence.
type SafeClassifier struct {
	next   ports.IntentClassifier
	logger *slog.Logger
}

func NewSafeClassifier(next ports.IntentClassifier, logger *slog.Logger) *SafeClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SafeClassifier{next: next, logger: logger}
}

func (c *SafeClassifier) Classify(ctx context.Context, text string) (intent domain.Intent, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("classification_failure", "error", fmt.Sprintf("panic: %v", r))
			intent, err = domain.AmbiguousIntent(), nil
		}
	}()

	if strings.TrimSpace(text) == "" || c.next == nil {
		return domain.AmbiguousIntent(), nil
	}
	got, classifyErr := c.next.Classify(ctx, text)
	if classifyErr != nil {
		c.logger.Warn("classification_failure",
			"error", domain.WrapError(domain.ErrClassificationFailure, "classify", classifyErr),
		)
		return domain.AmbiguousIntent(), nil
	}
	category, ok := domain.ParseIntentCategory(string(got.Category))
	if !ok {
		c.logger.Warn("classification_failure", "error", "unknown intent", "intent", got.Category)
		return domain.AmbiguousIntent(), nil
	}
	return domain.NewIntent(category, got.Confidence), nil
}
