package neo4j

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/infrastructure/resilience"
)

type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

type queryRunner func(ctx context.Context, statement string, params map[string]any) ([]*neo4j.Record, error)

// Store runs read-only Cypher against Neo4j and flattens rows into graph records.
type Store struct {
	driver   neo4j.DriverWithContext
	run      queryRunner
	executor *resilience.Executor
}

func New(cfg Config, executor *resilience.Executor) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	options := []neo4j.ExecuteQueryConfigurationOption{neo4j.ExecuteQueryWithReadersRouting()}
	if cfg.Database != "" {
		options = append(options, neo4j.ExecuteQueryWithDatabase(cfg.Database))
	}
	runner := func(ctx context.Context, statement string, params map[string]any) ([]*neo4j.Record, error) {
		result, err := neo4j.ExecuteQuery(ctx, driver, statement, params, neo4j.EagerResultTransformer, options...)
		if err != nil {
			return nil, err
		}
		return result.Records, nil
	}
	return &Store{driver: driver, run: runner, executor: executor}, nil
}

func newWithRunner(run queryRunner, executor *resilience.Executor) *Store {
	return &Store{run: run, executor: executor}
}

func (s *Store) Run(ctx context.Context, query domain.GraphQuery, limit int) ([]domain.GraphRecord, error) {
	params := make(map[string]any, len(query.Params)+1)
	for key, value := range query.Params {
		params[key] = value
	}
	if _, ok := params["limit"]; !ok && limit > 0 {
		params["limit"] = limit
	}

	rows, err := resilience.Call(ctx, s.executor, "neo4j.run", func(ctx context.Context) ([]*neo4j.Record, error) {
		return s.run(ctx, query.Statement, params)
	}, classifyNeo4jError)
	if err != nil {
		if isClientError(err) {
			return nil, domain.WrapError(domain.ErrRetrieverFatal, "neo4j.run", err)
		}
		return nil, resilience.WrapTemporary("neo4j.run", err, classifyNeo4jError)
	}

	out := make([]domain.GraphRecord, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		out = append(out, recordFromRow(row.Keys, row.Values))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j connectivity: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

// recordFromRow takes labels and properties from the first node or
// relationship in the row. The source id covers every entity and every
// non-score column, so distinct rows never share one. A row holding a
// single entity keeps that entity's id.
func recordFromRow(keys []string, values []any) domain.GraphRecord {
	record := domain.GraphRecord{Properties: map[string]any{}}
	var entityIDs []string
	columns := map[string]any{}
	for i, key := range keys {
		if i >= len(values) {
			break
		}
		switch v := values[i].(type) {
		case neo4j.Node:
			entityIDs = append(entityIDs, nodeSourceID(v))
			if len(entityIDs) == 1 {
				record.Labels = append([]string(nil), v.Labels...)
				for prop, value := range v.Props {
					record.Properties[prop] = value
				}
				continue
			}
			record.Properties[key] = v.Props
		case neo4j.Relationship:
			entityIDs = append(entityIDs, "graph:rel:"+v.ElementId)
			if len(entityIDs) == 1 {
				record.Labels = []string{v.Type}
				for prop, value := range v.Props {
					record.Properties[prop] = value
				}
				continue
			}
			record.Properties[key] = v.Props
		default:
			if key == "score" {
				if score, ok := toFloat(v); ok {
					record.Score = score
					continue
				}
			}
			columns[key] = v
			record.Properties[key] = v
		}
	}

	switch {
	case len(entityIDs) == 1:
		record.SourceID = entityIDs[0]
	case len(entityIDs) > 1:
		record.SourceID = "graph:path:" + strings.Join(entityIDs, "|")
	default:
		record.SourceID = scalarSourceID(columns)
		return record
	}
	if len(columns) > 0 {
		record.SourceID += "#" + columnsDigest(columns)
	}
	return record
}

func nodeSourceID(node neo4j.Node) string {
	if id, ok := node.Props["source_id"].(string); ok && strings.TrimSpace(id) != "" {
		return id
	}
	return "graph:node:" + node.ElementId
}

// scalarSourceID derives a stable id for rows that carry no graph entity.
// An id column alone names the row; any other column joins the digest.
func scalarSourceID(columns map[string]any) string {
	if len(columns) == 0 {
		return ""
	}
	for _, key := range []string{"source_id", "id"} {
		id, ok := columns[key]
		if !ok {
			continue
		}
		text := strings.TrimSpace(fmt.Sprint(id))
		if text == "" {
			continue
		}
		rest := make(map[string]any, len(columns)-1)
		for k, v := range columns {
			if k != key {
				rest[k] = v
			}
		}
		if len(rest) == 0 {
			return "graph:" + text
		}
		return "graph:" + text + "#" + columnsDigest(rest)
	}
	return "graph:row:" + columnsDigest(columns)
}

func columnsDigest(columns map[string]any) string {
	keys := make([]string, 0, len(columns))
	for key := range columns {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	h := sha1.New()
	for _, key := range keys {
		fmt.Fprintf(h, "%s=%v;", key, columns[key])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func isClientError(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && neoErr.Classification() == "ClientError"
}

func classifyNeo4jError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		switch neoErr.Classification() {
		case "TransientError":
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		case "ClientError":
			return resilience.ErrorClassification{}
		default:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
		}
	}
	if neo4j.IsConnectivityError(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
