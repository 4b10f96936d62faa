package domain

// EvalCase is one question of an evaluation set.
type EvalCase struct {
	ID             string `yaml:"id" json:"id"`
	Question       string `yaml:"question" json:"question"`
	ExpectGrounded *bool  `yaml:"expect_grounded,omitempty" json:"expect_grounded,omitempty"`
}

type EvalResult struct {
	Case   EvalCase `json:"case"`
	Answer Answer   `json:"answer"`
	Error  string   `json:"error,omitempty"`
}

// Matches reports whether the result agrees with the case expectation.
// Cases without an expectation always match.
func (r EvalResult) Matches() bool {
	if r.Error != "" {
		return false
	}
	if r.Case.ExpectGrounded == nil {
		return true
	}
	return *r.Case.ExpectGrounded == r.Answer.Grounded
}

type StrategyStats struct {
	Strategy        Strategy `json:"strategy"`
	Tried           int      `json:"tried"`
	OK              int      `json:"ok"`
	Failed          int      `json:"failed"`
	GroundedAnswers int      `json:"grounded_answers"`
	AvgLatencyMS    float64  `json:"avg_latency_ms"`
}

func (s StrategyStats) GroundedRate() float64 {
	if s.Tried == 0 {
		return 0
	}
	return float64(s.GroundedAnswers) / float64(s.Tried)
}

type EvalSummary struct {
	Results    []EvalResult    `json:"results"`
	Total      int             `json:"total"`
	Grounded   int             `json:"grounded"`
	Mismatches int             `json:"mismatches"`
	Strategies []StrategyStats `json:"strategies"`
}
