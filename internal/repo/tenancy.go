package repo

import (
	"context"
	"database/sql"

	"shotline/internal/domain"
)

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, org domain.Org) error {
	if org.Name == "" {
		org.Name = org.ID
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO orgs(id, name, created_at) VALUES (?,?,?)`, org.ID, org.Name, org.CreatedAt)
	return err
}

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	if a.Name == "" {
		a.Name = a.ID
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, org_id, name, role, created_at) VALUES (?,?,?,?,?)`,
		a.ID, nullable(a.OrgID), a.Name, a.Role, a.CreatedAt)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (domain.Org, error) {
	var o domain.Org
	err := r.DB.QueryRowContext(ctx, `SELECT id, name, created_at FROM orgs WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) ListOrgs(ctx context.Context) ([]domain.Org, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, created_at FROM orgs ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Org
	for rows.Next() {
		var o domain.Org
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func scanActorRow(scan func(dest ...any) error) (domain.Actor, error) {
	var a domain.Actor
	var orgID sql.NullString
	err := scan(&a.ID, &orgID, &a.Name, &a.Role, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if orgID.Valid {
		a.OrgID = orgID.String
	}
	return a, nil
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, org_id, name, role, created_at FROM actors WHERE id=?`, id)
	return scanActorRow(row.Scan)
}

func (r Repo) ListActors(ctx context.Context, orgID string) ([]domain.Actor, error) {
	query := `SELECT id, org_id, name, role, created_at FROM actors`
	var args []any
	if orgID != "" {
		query += ` WHERE org_id=?`
		args = append(args, orgID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActorRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
