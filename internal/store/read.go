package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/flowsim/internal/ir"
	"github.com/roach88/flowsim/internal/queryir"
)

// LoadScenario returns the scenario stored under id.
func (s *Store) LoadScenario(ctx context.Context, id string) (ir.Scenario, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM scenarios WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Scenario{}, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.Scenario{}, fmt.Errorf("load scenario %s: %w", id, err)
	}
	return unmarshalScenario(doc)
}

// ReadExecution returns one execution.
func (s *Store) ReadExecution(ctx context.Context, id string) (Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, scenario_id, outcome, steps, tick, digest, engine_version, ir_version
		FROM executions WHERE id = ?
	`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Execution{}, fmt.Errorf("read execution %s: %w", id, err)
	}
	return exec, nil
}

// ListExecutions returns every execution of a scenario, ordered by id.
// An empty scenarioID lists executions of all scenarios. UUIDv7 ids make
// that creation order.
func (s *Store) ListExecutions(ctx context.Context, scenarioID string) ([]Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scenario_id, outcome, steps, tick, digest, engine_version, ir_version
		FROM executions WHERE ? = '' OR scenario_id = ?
		ORDER BY id ASC COLLATE BINARY
	`, scenarioID, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("list executions: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// ReadExternalEvents returns an execution's input log in append order.
func (s *Store) ReadExternalEvents(ctx context.Context, executionID string) ([]ir.ExternalEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, type, data, target
		FROM external_events WHERE execution_id = ?
		ORDER BY seq ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("read external events: %w", err)
	}
	defer rows.Close()

	var out []ir.ExternalEvent
	for rows.Next() {
		var (
			x    ir.ExternalEvent
			data string
		)
		if err := rows.Scan(&x.ID, &x.Timestamp, &x.Type, &data, &x.TargetDataSourceID); err != nil {
			return nil, fmt.Errorf("read external events: %w", err)
		}
		if x.Data, err = unmarshalData(data); err != nil {
			return nil, fmt.Errorf("read external event %s: %w", x.ID, err)
		}
		out = append(out, x)
	}
	return out, rows.Err()
}

// ReadActivities returns an execution's ledger in seq order.
func (s *Store) ReadActivities(ctx context.Context, executionID string) ([]ir.ActivityEntry, error) {
	return s.queryActivities(ctx, `
		SELECT seq, tick, node_id, node_type, action, value, correlation_ids, metadata
		FROM activities WHERE execution_id = ?
		ORDER BY seq ASC
	`, executionID)
}

// ReadActivitiesByAction returns the entries of one action kind in seq order.
func (s *Store) ReadActivitiesByAction(ctx context.Context, executionID, action string) ([]ir.ActivityEntry, error) {
	return s.FilterActivities(ctx, executionID, queryir.Filter{Actions: []string{action}}, 0)
}

func (s *Store) queryActivities(ctx context.Context, query string, args ...any) ([]ir.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read activities: %w", err)
	}
	defer rows.Close()

	var out []ir.ActivityEntry
	for rows.Next() {
		e, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("read activities: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (Execution, error) {
	var e Execution
	err := row.Scan(&e.ID, &e.ScenarioID, &e.Outcome, &e.Steps, &e.Tick, &e.Digest, &e.EngineVersion, &e.IRVersion)
	return e, err
}

func scanActivity(row scanner) (ir.ActivityEntry, error) {
	var (
		e                     ir.ActivityEntry
		nodeType              string
		value, corr, metadata string
	)
	if err := row.Scan(&e.Seq, &e.Tick, &e.NodeID, &nodeType, &e.Action, &value, &corr, &metadata); err != nil {
		return ir.ActivityEntry{}, err
	}
	e.NodeType = ir.NodeType(nodeType)

	var err error
	if e.Value, err = unmarshalValue(value); err != nil {
		return ir.ActivityEntry{}, err
	}
	if e.CorrelationIDs, err = unmarshalStrings(corr); err != nil {
		return ir.ActivityEntry{}, err
	}
	if e.Metadata, err = unmarshalObject(metadata); err != nil {
		return ir.ActivityEntry{}, err
	}
	return e, nil
}
