package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"shotline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,org_id,name,status,version,assignee_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.Name, p.Status, p.Version, nullableStringPtr(p.AssigneeID), p.CreatedAt, p.UpdatedAt)
	return err
}

const projectColumns = `id,org_id,name,status,version,assignee_id,created_at,updated_at`

func scanProjectRow(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var assignee sql.NullString
	err := scan(&p.ID, &p.OrgID, &p.Name, &p.Status, &p.Version, &assignee, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if assignee.Valid {
		p.AssigneeID = &assignee.String
	}
	return p, nil
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProjectRow(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	return scanProjectRow(row.Scan)
}

type ProjectFilters struct {
	OrgID           string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProjectRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectStatusTx moves a project to a new status with a compare-and-set
// on the version it was read at. It reports false, without error, when the
// persisted version no longer matches, so callers can surface the conflict.
func (r Repo) UpdateProjectStatusTx(ctx context.Context, tx *sql.Tx, id string, readVersion int64, status domain.ProjectStatus, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET status=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		status, updatedAt, id, readVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) UpdateProjectAssigneeTx(ctx context.Context, tx *sql.Tx, id string, assigneeID *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET assignee_id=?, updated_at=? WHERE id=?`,
		nullableStringPtr(assigneeID), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

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
