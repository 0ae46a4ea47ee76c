package engine

import (
	"context"

	"github.com/google/uuid"
)

// Authorizer answers whether an actor may mutate an organization's tag
// state. Resolution of sessions and role membership lives outside the
// engine; callers plug in whatever policy the deployment uses.
type Authorizer interface {
	CanWrite(ctx context.Context, orgID, actorID uuid.UUID) (bool, error)
}

// AllowAllAuthorizer permits every actor. Used when the caller performs
// authorization upstream of the engine.
type AllowAllAuthorizer struct{}

// CanWrite always returns true.
func (AllowAllAuthorizer) CanWrite(ctx context.Context, orgID, actorID uuid.UUID) (bool, error) {
	return true, nil
}
