package qdrant

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
	"time"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/infrastructure/resilience"
)

const (
	defaultDenseVector  = "dense"
	defaultSparseVector = "text-sparse"
)

type Client struct {
	baseURL      string
	collection   string
	denseVector  string
	sparseVector string
	httpClient   *http.Client
	executor     *resilience.Executor
}

type Options struct {
	DenseVectorName  string
	SparseVectorName string
	HTTPClient       *http.Client
	Executor         *resilience.Executor
}

func New(baseURL, collection string, options Options) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		collection:   collection,
		denseVector:  options.DenseVectorName,
		sparseVector: options.SparseVectorName,
		httpClient:   options.HTTPClient,
		executor:     options.Executor,
	}
	if c.denseVector == "" {
		c.denseVector = defaultDenseVector
	}
	if c.sparseVector == "" {
		c.sparseVector = defaultSparseVector
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c
}

// Search runs dense nearest-neighbour search.
func (c *Client) Search(ctx context.Context, queryVector []float32, limit int) ([]domain.RetrievedChunk, error) {
	if len(queryVector) == 0 {
		return nil, domain.WrapError(domain.ErrRetrieverFatal, "qdrant.Search", fmt.Errorf("empty query vector"))
	}
	return c.query(ctx, "search", map[string]any{
		"query":        queryVector,
		"using":        c.denseVector,
		"limit":        limit,
		"with_payload": true,
	})
}

// SearchKeyword runs BM25-style search over the sparse text vector.
func (c *Client) SearchKeyword(ctx context.Context, queryText string, limit int) ([]domain.RetrievedChunk, error) {
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}
	return c.query(ctx, "search_keyword", map[string]any{
		"query":        sparse,
		"using":        c.sparseVector,
		"limit":        limit,
		"with_payload": true,
	})
}

func (c *Client) query(ctx context.Context, operation string, reqBody map[string]any) ([]domain.RetrievedChunk, error) {
	chunks, err := resilience.Call(ctx, c.executor, "qdrant."+operation, func(ctx context.Context) ([]domain.RetrievedChunk, error) {
		return c.doQuery(ctx, operation, reqBody)
	}, classifyQdrantError)
	if err != nil {
		return nil, resilience.WrapTemporary("qdrant."+operation, err, classifyQdrantError)
	}
	return chunks, nil
}

func (c *Client) doQuery(ctx context.Context, operation string, reqBody map[string]any) ([]domain.RetrievedChunk, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", operation, err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/query", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{Operation: operation, StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(msg))}
	}

	var queryResp struct {
		Result struct {
			Points []struct {
				ID      any            `json:"id"`
				Score   float64        `json:"score"`
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", operation, err)
	}

	out := make([]domain.RetrievedChunk, 0, len(queryResp.Result.Points))
	for _, p := range queryResp.Result.Points {
		chunk := domain.RetrievedChunk{
			SourceID:   getStringPayload(p.Payload, "source_id"),
			DocumentID: getStringPayload(p.Payload, "doc_id"),
			ChunkIndex: getIntPayload(p.Payload, "chunk_index"),
			Filename:   getStringPayload(p.Payload, "filename"),
			Text:       getStringPayload(p.Payload, "text"),
			Score:      p.Score,
		}
		if chunk.SourceID == "" && chunk.DocumentID == "" && p.ID != nil {
			chunk.SourceID = fmt.Sprintf("chunk:%v", p.ID)
		}
		out = append(out, chunk)
	}
	return out, nil
}

// Ping checks that the collection exists.
func (c *Client) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant ping status: %s", resp.Status)
	}
	return nil
}

type StatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("qdrant %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("qdrant %s status: %s: %s", e.Operation, e.Status, e.Body)
}

func classifyQdrantError(err error) resilience.ErrorClassification {
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
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusInternalServerError:
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
