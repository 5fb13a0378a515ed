package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"samanvay/internal/domain"
	"samanvay/internal/engine"
)

// Repo is the SQLite-backed record store. It implements engine.Store and
// engine.Resolver.
type Repo struct {
	DB *sql.DB
}

var (
	_ engine.Store    = Repo{}
	_ engine.Resolver = Repo{}
)

// ErrNotFound covers directory records (agencies, API keys). Workflow
// lookups return engine.ErrNotFound, the store contract error.
var ErrNotFound = errors.New("not found")

const workflowColumns = `project_id,current_stage,implementing_agency,nodal_agency,executing_agencies_json,monitoring_agency,version,created_at,updated_at`

// FindByProjectID loads a workflow with its full history.
func (r Repo) FindByProjectID(ctx context.Context, projectID string) (domain.WorkflowState, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE project_id=?`, projectID)
	wf, err := scanWorkflow(row.Scan)
	if err == sql.ErrNoRows {
		return wf, engine.ErrNotFound
	}
	if err != nil {
		return wf, err
	}
	wf.History, err = r.listEvents(ctx, projectID)
	return wf, err
}

// Upsert persists the full workflow document. Unknown project: create
// (version must be 1). Known project: compare-and-swap against the
// previously stored version; a stale write returns engine.ErrConflict.
// New history entries are appended in the same transaction.
func (r Repo) Upsert(ctx context.Context, wf domain.WorkflowState) error {
	if wf.ProjectID == "" {
		return errors.New("project id required")
	}
	if wf.Version < 1 {
		return fmt.Errorf("workflow %s has no version", wf.ProjectID)
	}
	execJSON, err := marshalStringSlice(wf.ExecutingAgencies)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stored int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM workflows WHERE project_id=?`, wf.ProjectID).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if wf.Version != 1 {
			return engine.ErrConflict
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO workflows(`+workflowColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
			wf.ProjectID, wf.CurrentStage, wf.ImplementingAgency, nullableStringPtr(wf.NodalAgency),
			execJSON, nullableStringPtr(wf.MonitoringAgency), wf.Version, wf.CreatedAt, wf.UpdatedAt); err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
	case err != nil:
		return err
	default:
		if stored != wf.Version-1 {
			return engine.ErrConflict
		}
		res, err := tx.ExecContext(ctx, `UPDATE workflows SET current_stage=?, nodal_agency=?, executing_agencies_json=?, monitoring_agency=?, version=?, updated_at=? WHERE project_id=? AND version=?`,
			wf.CurrentStage, nullableStringPtr(wf.NodalAgency), execJSON, nullableStringPtr(wf.MonitoringAgency),
			wf.Version, wf.UpdatedAt, wf.ProjectID, wf.Version-1)
		if err != nil {
			return fmt.Errorf("update workflow: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return engine.ErrConflict
		}
	}

	var maxSeq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq),0) FROM workflow_events WHERE project_id=?`, wf.ProjectID).Scan(&maxSeq); err != nil {
		return err
	}
	for _, evt := range wf.History {
		if evt.Seq <= maxSeq {
			continue
		}
		metaJSON, err := marshalMetadata(evt.Metadata)
		if err != nil {
			return fmt.Errorf("marshal event metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO workflow_events(project_id,seq,stage,actor_id,action,notes,metadata_json,ts) VALUES (?,?,?,?,?,?,?,?)`,
			wf.ProjectID, evt.Seq, evt.Stage, evt.ActorID, evt.Action, nullable(evt.Notes), metaJSON, evt.TS); err != nil {
			return fmt.Errorf("append event %d: %w", evt.Seq, err)
		}
	}
	return tx.Commit()
}

func (r Repo) listEvents(ctx context.Context, projectID string) ([]domain.WorkflowEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT seq,stage,actor_id,action,COALESCE(notes,''),metadata_json,ts FROM workflow_events WHERE project_id=? ORDER BY seq ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.WorkflowEvent
	for rows.Next() {
		var evt domain.WorkflowEvent
		var metaJSON sql.NullString
		if err := rows.Scan(&evt.Seq, &evt.Stage, &evt.ActorID, &evt.Action, &evt.Notes, &metaJSON, &evt.TS); err != nil {
			return nil, err
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &evt.Metadata); err != nil {
				return nil, fmt.Errorf("event %d metadata: %w", evt.Seq, err)
			}
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

type WorkflowFilters struct {
	Stage string
	Limit int
}

// ListWorkflows returns workflows most-recently-updated first, without
// history (list views don't need it).
func (r Repo) ListWorkflows(ctx context.Context, f WorkflowFilters) ([]domain.WorkflowState, error) {
	var clauses []string
	var args []any
	if f.Stage != "" {
		clauses = append(clauses, "current_stage=?")
		args = append(args, f.Stage)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + workflowColumns + ` FROM workflows ` + where + ` ORDER BY updated_at DESC, project_id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryWorkflows(ctx, query, args...)
}

// ListPendingForAgency returns active workflows awaiting an action from the
// given agency: nodal review, execution start, or monitoring. Ordered by
// most-recently-updated first.
func (r Repo) ListPendingForAgency(ctx context.Context, agencyID string) ([]domain.WorkflowState, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE
		(nodal_agency=? AND current_stage IN (?,?))
		OR (monitoring_agency=? AND current_stage=?)
		OR (current_stage=? AND EXISTS (
			SELECT 1 FROM json_each(workflows.executing_agencies_json) WHERE json_each.value=?
		))
		ORDER BY updated_at DESC, project_id DESC`
	return r.queryWorkflows(ctx, query,
		agencyID, domain.StageNotifiedNodal, domain.StageUnderReview,
		agencyID, domain.StageMonitoring,
		domain.StageAssignedExecuting, agencyID)
}

// CountByStage groups all workflows by current stage.
func (r Repo) CountByStage(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT current_stage, count(*) FROM workflows GROUP BY current_stage`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var stage string
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		res[stage] = count
	}
	return res, rows.Err()
}

func (r Repo) queryWorkflows(ctx context.Context, query string, args ...any) ([]domain.WorkflowState, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowState
	for rows.Next() {
		wf, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, wf)
	}
	return res, rows.Err()
}

func scanWorkflow(scan func(...any) error) (domain.WorkflowState, error) {
	var wf domain.WorkflowState
	var nodal, execJSON, monitoring sql.NullString
	err := scan(&wf.ProjectID, &wf.CurrentStage, &wf.ImplementingAgency, &nodal, &execJSON, &monitoring, &wf.Version, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return wf, err
	}
	if nodal.Valid {
		wf.NodalAgency = &nodal.String
	}
	if monitoring.Valid {
		wf.MonitoringAgency = &monitoring.String
	}
	if execJSON.Valid && execJSON.String != "" {
		if err := json.Unmarshal([]byte(execJSON.String), &wf.ExecutingAgencies); err != nil {
			return wf, fmt.Errorf("executing agencies: %w", err)
		}
	}
	return wf, nil
}

func marshalStringSlice(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func marshalMetadata(in map[string]any) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
