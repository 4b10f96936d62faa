package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
)

// Structured translates the question into a graph query and executes it.
type Structured struct {
	translator ports.QueryTranslator
	graph      ports.GraphStore
}

func NewStructured(translator ports.QueryTranslator, graph ports.GraphStore) *Structured {
	return &Structured{translator: translator, graph: graph}
}

func (r *Structured) Strategy() domain.Strategy {
	return domain.StrategyStructured
}

func (r *Structured) Retrieve(ctx context.Context, question domain.Question, topK int) domain.RetrievalAttempt {
	return runAttempt(ctx, domain.StrategyStructured, func(ctx context.Context) ([]domain.EvidenceItem, error) {
		if topK <= 0 {
			topK = defaultTopK
		}
		query, err := r.translator.Translate(ctx, question.Text)
		if err != nil {
			return nil, fmt.Errorf("translate question: %w", err)
		}
		if err := ValidateGraphQuery(query); err != nil {
			return nil, err
		}
		records, err := r.graph.Run(ctx, query, topK)
		if err != nil {
			return nil, fmt.Errorf("run graph query: %w", err)
		}
		if len(records) > topK {
			records = records[:topK]
		}
		for i := range records {
			if records[i].Score <= 0 {
				records[i].Score = 1
			}
		}
		return recordsToEvidence(records), nil
	})
}

// A keyword preceded by "." is a property name, not a clause.
var writeClausePattern = regexp.MustCompile(`(?i)(^|[^.\w])(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP|FOREACH|LOAD\s+CSV)\b|(^|[^.\w])CALL\s+(dbms|db\.create|apoc\.(create|merge|refactor|periodic))`)

// ValidateGraphQuery rejects generated queries that are empty, contain more
// than one statement, or write to the graph. Rejections are fatal.
func ValidateGraphQuery(query domain.GraphQuery) error {
	statement := strings.TrimSpace(query.Statement)
	statement = strings.TrimSuffix(statement, ";")
	if statement == "" {
		return domain.WrapError(domain.ErrRetrieverFatal, "validate graph query", fmt.Errorf("empty statement"))
	}
	code := stripStringLiterals(statement)
	if strings.Contains(code, ";") {
		return domain.WrapError(domain.ErrRetrieverFatal, "validate graph query", fmt.Errorf("multiple statements"))
	}
	if writeClausePattern.MatchString(code) {
		return domain.WrapError(domain.ErrRetrieverFatal, "validate graph query", fmt.Errorf("write clause in read query"))
	}
	if !strings.Contains(strings.ToUpper(code), "RETURN") {
		return domain.WrapError(domain.ErrRetrieverFatal, "validate graph query", fmt.Errorf("statement has no RETURN"))
	}
	return nil
}

var stringLiteralPattern = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`)

func stripStringLiterals(statement string) string {
	return stringLiteralPattern.ReplaceAllString(statement, "''")
}
