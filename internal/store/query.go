package store

import (
	"context"
	"fmt"

	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/queryir"
	"github.com/roach88/flowsim/internal/querysql"
)

// QueryActivities runs a ledger query. Entries come back in seq order.
func (s *Store) QueryActivities(ctx context.Context, q queryir.Query) ([]ir.ActivityEntry, error) {
	query, params, err := querysql.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	return s.queryActivities(ctx, query, params...)
}

// FilterActivities returns the entries of an execution matching f.
func (s *Store) FilterActivities(ctx context.Context, executionID string, f queryir.Filter, limit int) ([]ir.ActivityEntry, error) {
	return s.QueryActivities(ctx, queryir.Select{Execution: executionID, Filter: f.Predicate(), Limit: limit})
}
