// Package audit appends transition attempts to the append-only ledger.
// Entries are written inside the caller's transaction so a ledger row and
// the state change it describes commit together.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"shotline/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append writes one entry and returns it with its sequence number set.
// ID and CreatedAt are stamped when the caller leaves them empty.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) (domain.AuditEntry, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt == "" {
		e.CreatedAt = w.Now().UTC().Format(time.RFC3339)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO audit_entries(id,project_id,actor_id,actor_role,from_status,to_status,reason,outcome,reject_reason,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.ActorID, e.ActorRole, e.FromStatus, e.ToStatus, nullable(e.Reason), e.Outcome, nullable(e.RejectReason), e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("append audit entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return e, err
	}
	e.Seq = seq
	return e, nil
}

func nullable(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
