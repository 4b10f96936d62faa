package domain

import "time"

type CoordinatorState string

const (
	StatePending         CoordinatorState = "pending"
	StateRunning         CoordinatorState = "running"
	StateSucceeded       CoordinatorState = "succeeded"
	StatePartiallyFailed CoordinatorState = "partially_failed"
	StateFailed          CoordinatorState = "failed"
)

const (
	RejectNoEvidence      = "no evidence retrieved"
	RejectNoCitations     = "answer cited no retrieved evidence"
	RejectUnknownCitation = "answer cited unknown evidence"
	RejectSynthesisFailed = "synthesis failed"
	RejectDeadline        = "question deadline exceeded"

	NotFoundText = "I don't have grounded data for that: not found in retrieved data."
)

type AnswerMetadata struct {
	StrategiesTried  []Strategy       `json:"strategies_tried"`
	LatencyMS        int64            `json:"latency_ms"`
	Intent           Intent           `json:"intent"`
	FanOut           bool             `json:"fan_out"`
	CoordinatorState CoordinatorState `json:"coordinator_state"`
	Attempts         []AttemptSummary `json:"attempts,omitempty"`
	EvidenceCount    int              `json:"evidence_count"`
	SynthesisRetried bool             `json:"synthesis_retried,omitempty"`
}

// AttemptSummary is the evidence-free view of a RetrievalAttempt.
type AttemptSummary struct {
	Strategy      Strategy      `json:"strategy"`
	Status        AttemptStatus `json:"status"`
	LatencyMS     int64         `json:"latency_ms"`
	EvidenceCount int           `json:"evidence_count"`
	ErrorKind     ErrorKind     `json:"error_kind,omitempty"`
	ErrorDetail   string        `json:"error_detail,omitempty"`
	Retried       bool          `json:"retried,omitempty"`
}

func SummarizeAttempt(a RetrievalAttempt) AttemptSummary {
	return AttemptSummary{
		Strategy:      a.Strategy,
		Status:        a.Status,
		LatencyMS:     a.LatencyMS,
		EvidenceCount: len(a.Evidence),
		ErrorKind:     a.ErrorKind,
		ErrorDetail:   a.ErrorDetail,
		Retried:       a.Retried,
	}
}

type Answer struct {
	Text           string         `json:"text"`
	Grounded       bool           `json:"grounded"`
	Citations      []string       `json:"citations"`
	RejectedReason string         `json:"rejected_reason,omitempty"`
	Metadata       AnswerMetadata `json:"metadata"`
}

// Draft is the unverified synthesizer output.
type Draft struct {
	Text      string   `json:"answer"`
	Citations []string `json:"citations"`
}

// AnswerTrace is the persisted/observed record of one answered question.
type AnswerTrace struct {
	ID             string           `json:"id"`
	SessionID      string           `json:"session_id"`
	Question       string           `json:"question"`
	Intent         Intent           `json:"intent"`
	FanOut         bool             `json:"fan_out"`
	State          CoordinatorState `json:"state"`
	Grounded       bool             `json:"grounded"`
	RejectedReason string           `json:"rejected_reason,omitempty"`
	Citations      []string         `json:"citations"`
	Attempts       []AttemptSummary `json:"attempts"`
	LatencyMS      int64            `json:"latency_ms"`
	ReceivedAt     time.Time        `json:"received_at"`
}
