package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"shotline/internal/domain"
)

const auditColumns = `seq,id,project_id,actor_id,actor_role,from_status,to_status,reason,outcome,reject_reason,created_at`

func scanAuditRow(scan func(dest ...any) error) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	var reason, rejectReason sql.NullString
	err := scan(&e.Seq, &e.ID, &e.ProjectID, &e.ActorID, &e.ActorRole, &e.FromStatus, &e.ToStatus, &reason, &e.Outcome, &rejectReason, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if reason.Valid {
		e.Reason = &reason.String
	}
	if rejectReason.Valid {
		e.RejectReason = &rejectReason.String
	}
	return e, nil
}

type AuditFilters struct {
	ProjectID string
	Outcome   string
	Limit     int
	CursorSeq int64
}

// ListAudit returns entries newest first, paginated by sequence number.
func (r Repo) ListAudit(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Outcome != "" {
		clauses = append(clauses, "outcome=?")
		args = append(args, f.Outcome)
	}
	if f.CursorSeq > 0 {
		clauses = append(clauses, "seq<?")
		args = append(args, f.CursorSeq)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT %s FROM audit_entries %s ORDER BY seq DESC LIMIT ?`, auditColumns, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// AuditAfter returns entries with sequence numbers greater than the cursor in
// ascending order. The webhook dispatcher tails the ledger with this.
func (r Repo) AuditAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursor > 0 {
		clauses = append(clauses, "seq>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT %s FROM audit_entries %s ORDER BY seq ASC LIMIT ?`, auditColumns, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestAuditSeq returns the most recent audit sequence number, optionally
// scoped to one project.
func (r Repo) LatestAuditSeq(ctx context.Context, projectID string) (int64, error) {
	query := `SELECT COALESCE(MAX(seq),0) FROM audit_entries`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var seq int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}
