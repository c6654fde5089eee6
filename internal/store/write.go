package store

import (
	"context"
	"fmt"

	"github.com/roach88/flowsim/internal/ir"
)

// Execution is one simulation run of a stored scenario.
type Execution struct {
	ID            string
	ScenarioID    string
	Outcome       string
	Steps         int64
	Tick          int64
	Digest        string
	EngineVersion string
	IRVersion     string
}

// SaveScenario stores a scenario document and returns its content id.
// Saving an identical document again returns the same id and writes
// nothing.
func (s *Store) SaveScenario(ctx context.Context, sc ir.Scenario) (string, error) {
	id, doc, err := marshalScenario(sc)
	if err != nil {
		return "", fmt.Errorf("save scenario: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scenarios (id, name, document, ir_version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, sc.Name, doc, ir.IRVersion)
	if err != nil {
		return "", fmt.Errorf("save scenario: %w", err)
	}
	return id, nil
}

// CreateExecution records the start of a run. The scenario must exist.
// Empty version fields default to the running engine's versions.
func (s *Store) CreateExecution(ctx context.Context, exec Execution) error {
	if exec.EngineVersion == "" {
		exec.EngineVersion = ir.EngineVersion
	}
	if exec.IRVersion == "" {
		exec.IRVersion = ir.IRVersion
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, scenario_id, outcome, steps, tick, digest, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, exec.ID, exec.ScenarioID, exec.Outcome, exec.Steps, exec.Tick, exec.Digest, exec.EngineVersion, exec.IRVersion)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// FinishExecution records the outcome of a run.
func (s *Store) FinishExecution(ctx context.Context, id, outcome string, steps, tick int64, digest string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET outcome = ?, steps = ?, tick = ?, digest = ?
		WHERE id = ?
	`, outcome, steps, tick, digest, id)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish execution %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendExternalEvents appends events to an execution's input log, after
// any events already stored. Events whose id is already logged for the
// execution are skipped.
func (s *Store) AppendExternalEvents(ctx context.Context, executionID string, events []ir.ExternalEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append external events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM external_events WHERE execution_id = ?`, executionID,
	).Scan(&next); err != nil {
		return fmt.Errorf("append external events: %w", err)
	}

	for _, x := range events {
		data, err := marshalData(x.Data)
		if err != nil {
			return fmt.Errorf("append external event %s: %w", x.ID, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO external_events (execution_id, seq, id, timestamp, type, data, target)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, executionID, next+1, x.ID, x.Timestamp, x.Type, data, x.TargetDataSourceID)
		if err != nil {
			return fmt.Errorf("append external event %s: %w", x.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			next++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append external events: commit: %w", err)
	}
	return nil
}

// WriteActivities stores ledger entries for an execution in one
// transaction. Entries already stored under the same seq are left alone.
func (s *Store) WriteActivities(ctx context.Context, executionID string, entries []ir.ActivityEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write activities: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, e := range entries {
		if err := writeActivity(ctx, tx, executionID, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write activities: commit: %w", err)
	}
	return nil
}

func writeActivity(ctx context.Context, db execer, executionID string, e ir.ActivityEntry) error {
	value, err := marshalValue(e.Value)
	if err != nil {
		return fmt.Errorf("write activity %d: %w", e.Seq, err)
	}
	corr, err := marshalStrings(e.CorrelationIDs)
	if err != nil {
		return fmt.Errorf("write activity %d: %w", e.Seq, err)
	}
	meta := e.Metadata
	if meta == nil {
		meta = ir.IRObject{}
	}
	metaJSON, err := marshalValue(meta)
	if err != nil {
		return fmt.Errorf("write activity %d: %w", e.Seq, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO activities
		(execution_id, seq, tick, node_id, node_type, action, value, correlation_ids, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, seq) DO NOTHING
	`, executionID, e.Seq, e.Tick, e.NodeID, string(e.NodeType), e.Action, value, corr, metaJSON)
	if err != nil {
		return fmt.Errorf("write activity %d: %w", e.Seq, err)
	}
	return nil
}
