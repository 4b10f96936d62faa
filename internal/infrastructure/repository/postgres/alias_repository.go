package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AliasRepository reads the source_aliases cross-reference maintained by ingestion.
type AliasRepository struct {
	db *sql.DB
}

func NewAliasRepository(db *sql.DB) *AliasRepository {
	return &AliasRepository{db: db}
}

// ResolveAliases returns canonical ids only for the ids that have an alias row.
func (r *AliasRepository) ResolveAliases(ctx context.Context, sourceIDs []string) (map[string]string, error) {
	out := map[string]string{}
	if len(sourceIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(sourceIDs))
	args := make([]any, len(sourceIDs))
	for i, id := range sourceIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT alias_id, canonical_id FROM source_aliases WHERE alias_id IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query source aliases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var alias, canonical string
		if err := rows.Scan(&alias, &canonical); err != nil {
			return nil, fmt.Errorf("scan source alias: %w", err)
		}
		if canonical = strings.TrimSpace(canonical); canonical != "" {
			out[alias] = canonical
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source aliases: %w", err)
	}
	return out, nil
}
