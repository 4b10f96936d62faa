package domain

type Strategy string

const (
	StrategySemantic   Strategy = "semantic"
	StrategyStructured Strategy = "structured"
	StrategyFused      Strategy = "fused"
)

// AllStrategies is ordered by evidence priority.
var AllStrategies = []Strategy{StrategyStructured, StrategyFused, StrategySemantic}

// Priority ranks exact graph evidence above fused and plain semantic evidence.
func (s Strategy) Priority() int {
	switch s {
	case StrategyStructured:
		return 3
	case StrategyFused:
		return 2
	case StrategySemantic:
		return 1
	default:
		return 0
	}
}

func ParseStrategy(raw string) (Strategy, bool) {
	switch Strategy(raw) {
	case StrategySemantic, StrategyStructured, StrategyFused:
		return Strategy(raw), true
	default:
		return "", false
	}
}

type AttemptStatus string

const (
	AttemptOK      AttemptStatus = "ok"
	AttemptEmpty   AttemptStatus = "empty"
	AttemptError   AttemptStatus = "error"
	AttemptTimeout AttemptStatus = "timeout"
)

type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindTransient ErrorKind = "transient"
	ErrorKindFatal     ErrorKind = "fatal"
)

type SourceKind string

const (
	SourceChunk       SourceKind = "chunk"
	SourceGraphRecord SourceKind = "graph_record"
)

type EvidenceItem struct {
	SourceID       string     `json:"source_id"`
	SourceKind     SourceKind `json:"source_kind"`
	Content        string     `json:"content"`
	RelevanceScore float64    `json:"relevance_score"`
	OriginStrategy Strategy   `json:"origin_strategy"`
}

type RetrievalAttempt struct {
	Strategy    Strategy       `json:"strategy"`
	Status      AttemptStatus  `json:"status"`
	Evidence    []EvidenceItem `json:"evidence,omitempty"`
	LatencyMS   int64          `json:"latency_ms"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	ErrorKind   ErrorKind      `json:"error_kind,omitempty"`
	Retried     bool           `json:"retried,omitempty"`
}

func (a RetrievalAttempt) MaxRelevance() float64 {
	best := 0.0
	for i, item := range a.Evidence {
		if i == 0 || item.RelevanceScore > best {
			best = item.RelevanceScore
		}
	}
	return best
}

type MergedEvidenceSet struct {
	Items []EvidenceItem `json:"items"`
}

func (s MergedEvidenceSet) Len() int {
	return len(s.Items)
}

func (s MergedEvidenceSet) Contains(sourceID string) bool {
	for _, item := range s.Items {
		if item.SourceID == sourceID {
			return true
		}
	}
	return false
}

func (s MergedEvidenceSet) SourceIDs() []string {
	out := make([]string, 0, len(s.Items))
	for _, item := range s.Items {
		out = append(out, item.SourceID)
	}
	return out
}

// RetrievedChunk is a raw hit from the chunk corpus before it becomes evidence.
type RetrievedChunk struct {
	SourceID   string  `json:"source_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Filename   string  `json:"filename"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// GraphQuery is a generated read query for the property graph.
type GraphQuery struct {
	Statement string         `json:"statement"`
	Params    map[string]any `json:"params,omitempty"`
}

// GraphRecord is one row returned by the property graph.
type GraphRecord struct {
	SourceID   string         `json:"source_id"`
	Labels     []string       `json:"labels,omitempty"`
	Properties map[string]any `json:"properties"`
	Score      float64        `json:"score"`
}
