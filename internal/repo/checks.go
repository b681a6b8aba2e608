package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"shotline/internal/domain"
)

const checkColumns = `id,project_id,status,asset_ids_json,reviewer_id,notes,submission,created_at,updated_at`

func activeCheckClause() string {
	vals := make([]string, 0, len(domain.CheckStatuses))
	for _, s := range domain.CheckStatuses {
		if s.Active() {
			vals = append(vals, "'"+string(s)+"'")
		}
	}
	return "status IN (" + strings.Join(vals, ",") + ")"
}

func (r Repo) InsertCheckTx(ctx context.Context, tx *sql.Tx, c domain.QACheck) error {
	assets, err := json.Marshal(c.AssetIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO qa_checks(id,project_id,status,asset_ids_json,reviewer_id,notes,submission,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Status, string(assets), nullableStringPtr(c.ReviewerID), nullableStringPtr(c.Notes), c.Submission, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return err
	}
	for _, it := range c.Checklist {
		if err := r.InsertChecklistItemTx(ctx, tx, c.ID, it); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) InsertChecklistItemTx(ctx context.Context, tx *sql.Tx, checkID string, it domain.ChecklistItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO checklist_items(id,check_id,position,label,required,completed,notes) VALUES (?,?,?,?,?,?,?)`,
		it.ID, checkID, it.Position, it.Label, it.Required, it.Completed, nullableStringPtr(it.Notes))
	return err
}

func (r Repo) UpdateCheckTx(ctx context.Context, tx *sql.Tx, c domain.QACheck) error {
	assets, err := json.Marshal(c.AssetIDs)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE qa_checks SET status=?, asset_ids_json=?, reviewer_id=?, notes=?, submission=?, updated_at=? WHERE id=?`,
		c.Status, string(assets), nullableStringPtr(c.ReviewerID), nullableStringPtr(c.Notes), c.Submission, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateChecklistItemTx rewrites one item's completion state and notes.
func (r Repo) UpdateChecklistItemTx(ctx context.Context, tx *sql.Tx, checkID, itemID string, completed bool, notes *string) error {
	res, err := tx.ExecContext(ctx, `UPDATE checklist_items SET completed=?, notes=? WHERE id=? AND check_id=?`,
		completed, nullableStringPtr(notes), itemID, checkID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanCheckRow(scan func(dest ...any) error) (domain.QACheck, error) {
	var c domain.QACheck
	var assetsJSON string
	var reviewer, notes sql.NullString
	err := scan(&c.ID, &c.ProjectID, &c.Status, &assetsJSON, &reviewer, &notes, &c.Submission, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if assetsJSON != "" {
		if err := json.Unmarshal([]byte(assetsJSON), &c.AssetIDs); err != nil {
			return c, err
		}
	}
	if c.AssetIDs == nil {
		c.AssetIDs = []string{}
	}
	if reviewer.Valid {
		c.ReviewerID = &reviewer.String
	}
	if notes.Valid {
		c.Notes = &notes.String
	}
	return c, nil
}

func (r Repo) GetCheck(ctx context.Context, id string) (domain.QACheck, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM qa_checks WHERE id=?`, id)
	c, err := scanCheckRow(row.Scan)
	if err != nil {
		return c, err
	}
	c.Checklist, err = r.ListChecklistItems(ctx, c.ID)
	return c, err
}

func (r Repo) GetCheckTx(ctx context.Context, tx *sql.Tx, id string) (domain.QACheck, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM qa_checks WHERE id=?`, id)
	c, err := scanCheckRow(row.Scan)
	if err != nil {
		return c, err
	}
	c.Checklist, err = r.listChecklistItemsTx(ctx, tx, c.ID)
	return c, err
}

// ActiveCheck returns the project's single non-terminal check, if any.
func (r Repo) ActiveCheck(ctx context.Context, projectID string) (domain.QACheck, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM qa_checks WHERE project_id=? AND `+activeCheckClause()+` LIMIT 1`, projectID)
	c, err := scanCheckRow(row.Scan)
	if err != nil {
		return c, err
	}
	c.Checklist, err = r.ListChecklistItems(ctx, c.ID)
	return c, err
}

func (r Repo) ActiveCheckTx(ctx context.Context, tx *sql.Tx, projectID string) (domain.QACheck, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM qa_checks WHERE project_id=? AND `+activeCheckClause()+` LIMIT 1`, projectID)
	c, err := scanCheckRow(row.Scan)
	if err != nil {
		return c, err
	}
	c.Checklist, err = r.listChecklistItemsTx(ctx, tx, c.ID)
	return c, err
}

// LatestCheckTx returns the project's most recently opened check regardless
// of resolution. rowid breaks created_at ties in insertion order.
func (r Repo) LatestCheckTx(ctx context.Context, tx *sql.Tx, projectID string) (domain.QACheck, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+checkColumns+` FROM qa_checks WHERE project_id=? ORDER BY created_at DESC, rowid DESC LIMIT 1`, projectID)
	c, err := scanCheckRow(row.Scan)
	if err != nil {
		return c, err
	}
	c.Checklist, err = r.listChecklistItemsTx(ctx, tx, c.ID)
	return c, err
}

// ListChecks returns every check ever opened for the project, oldest first,
// so superseded submissions stay visible.
func (r Repo) ListChecks(ctx context.Context, projectID string) ([]domain.QACheck, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+checkColumns+` FROM qa_checks WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QACheck
	for rows.Next() {
		c, err := scanCheckRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Checklist, err = r.ListChecklistItems(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) ListChecklistItems(ctx context.Context, checkID string) ([]domain.ChecklistItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,position,label,required,completed,notes FROM checklist_items WHERE check_id=? ORDER BY position ASC`, checkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChecklistItems(rows)
}

func (r Repo) listChecklistItemsTx(ctx context.Context, tx *sql.Tx, checkID string) ([]domain.ChecklistItem, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,position,label,required,completed,notes FROM checklist_items WHERE check_id=? ORDER BY position ASC`, checkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChecklistItems(rows)
}

func collectChecklistItems(rows *sql.Rows) ([]domain.ChecklistItem, error) {
	var res []domain.ChecklistItem
	for rows.Next() {
		var it domain.ChecklistItem
		var notes sql.NullString
		if err := rows.Scan(&it.ID, &it.Position, &it.Label, &it.Required, &it.Completed, &notes); err != nil {
			return nil, err
		}
		if notes.Valid {
			it.Notes = &notes.String
		}
		res = append(res, it)
	}
	return res, rows.Err()
}
