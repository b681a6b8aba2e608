package repo

import (
	"context"
	"database/sql"

	"shotline/internal/domain"
)

// Assignment purposes recorded by the engine.
const (
	AssignmentTechnician = "technician"
	AssignmentReviewer   = "reviewer"
)

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(id, project_id, actor_id, purpose, created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.ProjectID, a.ActorID, a.Purpose, a.CreatedAt)
	return err
}

func (r Repo) ListAssignments(ctx context.Context, projectID, purpose string) ([]domain.Assignment, error) {
	query := `SELECT id, project_id, actor_id, purpose, created_at FROM assignments WHERE project_id=?`
	args := []any{projectID}
	if purpose != "" {
		query += ` AND purpose=?`
		args = append(args, purpose)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ActorID, &a.Purpose, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
