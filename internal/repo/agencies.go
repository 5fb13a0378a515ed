package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"samanvay/internal/domain"
)

func (r Repo) InsertAgency(ctx context.Context, a domain.Agency) error {
	if a.ID == "" {
		return errors.New("agency id required")
	}
	if a.Name == "" {
		return errors.New("agency name required")
	}
	if !validAgencyType(a.Type) {
		return errors.New("agency type must be implementing, nodal, executing or monitoring")
	}
	if a.Status == "" {
		a.Status = "active"
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agencies(id,name,type,department,status,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.Name, a.Type, nullable(a.Department), a.Status, a.CreatedAt)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return fmt.Errorf("agency %s already exists", a.ID)
	}
	return err
}

func (r Repo) GetAgency(ctx context.Context, id string) (domain.Agency, error) {
	var a domain.Agency
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,type,COALESCE(department,''),status,created_at FROM agencies WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &a.Type, &a.Department, &a.Status, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

// FindAgenciesByType resolves active agencies of one tier. The ordering is
// the resolver contract: stable by name then id, so first-candidate
// selection is deterministic.
func (r Repo) FindAgenciesByType(ctx context.Context, agencyType string) ([]domain.Agency, error) {
	return r.listAgencies(ctx, agencyType, true)
}

// ListAgencies returns the directory, optionally filtered by tier,
// inactive agencies included.
func (r Repo) ListAgencies(ctx context.Context, agencyType string) ([]domain.Agency, error) {
	return r.listAgencies(ctx, agencyType, false)
}

func (r Repo) listAgencies(ctx context.Context, agencyType string, activeOnly bool) ([]domain.Agency, error) {
	var clauses []string
	var args []any
	if agencyType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, agencyType)
	}
	if activeOnly {
		clauses = append(clauses, "status='active'")
	}
	query := `SELECT id,name,type,COALESCE(department,''),status,created_at FROM agencies`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY name ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agency
	for rows.Next() {
		var a domain.Agency
		if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Department, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func validAgencyType(t string) bool {
	switch t {
	case domain.AgencyImplementing, domain.AgencyNodal, domain.AgencyExecuting, domain.AgencyMonitoring:
		return true
	}
	return false
}
