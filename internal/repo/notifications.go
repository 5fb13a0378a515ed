package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"samanvay/internal/domain"
)

// InsertNotification records a delivered notification in the inbox table.
func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		return errors.New("notification id required")
	}
	metaJSON, err := marshalMetadata(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshal notification metadata: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO notifications(id,type,source_agency,target_agency,subject,body,priority,metadata_json,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		n.ID, n.Type, n.SourceAgency, n.TargetAgency, n.Subject, n.Body, n.Priority, metaJSON, n.CreatedAt)
	return err
}

// ListNotificationsForAgency returns an agency's inbox, newest first.
func (r Repo) ListNotificationsForAgency(ctx context.Context, agencyID string, limit int) ([]domain.Notification, error) {
	query := `SELECT id,type,source_agency,target_agency,subject,body,priority,metadata_json,created_at FROM notifications WHERE target_agency=? ORDER BY created_at DESC, id DESC`
	args := []any{agencyID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var metaJSON sql.NullString
		if err := rows.Scan(&n.ID, &n.Type, &n.SourceAgency, &n.TargetAgency, &n.Subject, &n.Body, &n.Priority, &metaJSON, &n.CreatedAt); err != nil {
			return nil, err
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &n.Metadata); err != nil {
				return nil, fmt.Errorf("notification %s metadata: %w", n.ID, err)
			}
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
