package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shotline/internal/domain"
)

// CreateOrg registers a customer organization. Creating an org that already
// exists returns the existing row untouched.
func (e Engine) CreateOrg(ctx context.Context, id, name string) (domain.Org, error) {
	if id == "" {
		return domain.Org{}, errors.New("id is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Org{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureOrg(ctx, tx, domain.Org{ID: id, Name: name, CreatedAt: now}); err != nil {
		return domain.Org{}, fmt.Errorf("ensure org: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Org{}, err
	}
	e.logger().Info("org created", zap.String("org_id", id))
	return e.Repo.GetOrg(ctx, id)
}

// CreateActor registers an actor with a fixed role. Actors with an org
// belong to that customer; actors without one are platform staff.
func (e Engine) CreateActor(ctx context.Context, a domain.Actor) (domain.Actor, error) {
	if a.ID == "" {
		return domain.Actor{}, errors.New("id is required")
	}
	if !a.Role.Valid() {
		return domain.Actor{}, fmt.Errorf("invalid role %s", a.Role)
	}
	if a.OrgID != "" {
		if _, err := e.Repo.GetOrg(ctx, a.OrgID); err != nil {
			return domain.Actor{}, fmt.Errorf("org %s: %w", a.OrgID, err)
		}
	}
	a.CreatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, a); err != nil {
		return domain.Actor{}, fmt.Errorf("ensure actor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	e.logger().Info("actor created",
		zap.String("actor_id", a.ID),
		zap.String("role", string(a.Role)),
		zap.String("org_id", a.OrgID))
	return e.Repo.GetActor(ctx, a.ID)
}
