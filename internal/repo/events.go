package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"samanvay/internal/domain"
)

// EventRecord is a workflow event plus its global position, used by the
// webhook dispatcher to resume from a cursor.
type EventRecord struct {
	RowID     int64
	ProjectID string
	Event     domain.WorkflowEvent
}

// EventsAfter returns events with rowids greater than the cursor in
// ascending order, across all workflows.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT rowid,project_id,seq,stage,actor_id,action,COALESCE(notes,''),metadata_json,ts FROM workflow_events WHERE rowid > ? ORDER BY rowid ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []EventRecord
	for rows.Next() {
		var rec EventRecord
		var metaJSON sql.NullString
		if err := rows.Scan(&rec.RowID, &rec.ProjectID, &rec.Event.Seq, &rec.Event.Stage, &rec.Event.ActorID, &rec.Event.Action, &rec.Event.Notes, &metaJSON, &rec.Event.TS); err != nil {
			return nil, err
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &rec.Event.Metadata); err != nil {
				return nil, fmt.Errorf("event metadata: %w", err)
			}
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// LatestEventRowID returns the most recent event rowid.
func (r Repo) LatestEventRowID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(rowid),0) FROM workflow_events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
