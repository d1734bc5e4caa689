package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/pkg/enums"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

type contextKey string

const ctxActor contextKey = "actor"

// WithActor injects the authenticated caller into the context.
func WithActor(ctx context.Context, actor *outbox.ActorRef) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

// ActorFromContext returns the authenticated caller, or nil.
func ActorFromContext(ctx context.Context) *outbox.ActorRef {
	if ctx == nil {
		return nil
	}
	actor, _ := ctx.Value(ctxActor).(*outbox.ActorRef)
	return actor
}

func UserIDFromContext(ctx context.Context) string {
	if actor := ActorFromContext(ctx); actor != nil && actor.UserID != nil {
		return actor.UserID.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if actor := ActorFromContext(ctx); actor != nil {
		return actor.Role
	}
	return ""
}

func StoreIDFromContext(ctx context.Context) *uuid.UUID {
	if actor := ActorFromContext(ctx); actor != nil {
		return actor.StoreID
	}
	return nil
}
