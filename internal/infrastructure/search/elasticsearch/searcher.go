package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/infrastructure/resilience"
)

type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	Transport http.RoundTripper
}

// Searcher runs full-text queries against the chunk index.
type Searcher struct {
	client   *elasticsearch.Client
	index    string
	executor *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) (*Searcher, error) {
	if strings.TrimSpace(cfg.Index) == "" {
		return nil, fmt.Errorf("elasticsearch index is required")
	}
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Transport: cfg.Transport,
	}
	if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Searcher{client: client, index: cfg.Index, executor: executor}, nil
}

func (s *Searcher) SearchKeyword(ctx context.Context, queryText string, limit int) ([]domain.RetrievedChunk, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	chunks, err := resilience.Call(ctx, s.executor, "elasticsearch.search", func(ctx context.Context) ([]domain.RetrievedChunk, error) {
		return s.search(ctx, queryText, limit)
	}, classifySearchError)
	if err != nil {
		return nil, resilience.WrapTemporary("elasticsearch.search", err, classifySearchError)
	}
	return chunks, nil
}

func (s *Searcher) search(ctx context.Context, queryText string, limit int) ([]domain.RetrievedChunk, error) {
	queryBody := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  queryText,
				"fields": []string{"text", "filename^1.5"},
			},
		},
		"size":    limit,
		"_source": []string{"source_id", "doc_id", "chunk_index", "filename", "text"},
	}
	body, err := json.Marshal(queryBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return nil, &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var searchResp struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					SourceID   string `json:"source_id"`
					DocumentID string `json:"doc_id"`
					ChunkIndex int    `json:"chunk_index"`
					Filename   string `json:"filename"`
					Text       string `json:"text"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.RetrievedChunk, 0, len(searchResp.Hits.Hits))
	for _, hit := range searchResp.Hits.Hits {
		chunk := domain.RetrievedChunk{
			SourceID:   hit.Source.SourceID,
			DocumentID: hit.Source.DocumentID,
			ChunkIndex: hit.Source.ChunkIndex,
			Filename:   hit.Source.Filename,
			Text:       hit.Source.Text,
			Score:      hit.Score,
		}
		if chunk.SourceID == "" && chunk.DocumentID == "" {
			chunk.SourceID = "chunk:" + hit.ID
		}
		out = append(out, chunk)
	}
	return out, nil
}

func (s *Searcher) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping error: %s", res.Status())
	}
	return nil
}

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("elasticsearch search status: %d", e.StatusCode)
	}
	return fmt.Sprintf("elasticsearch search status: %d: %s", e.StatusCode, e.Body)
}

func classifySearchError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
