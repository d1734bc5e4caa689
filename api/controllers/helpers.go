package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mercato/mercato-backend/api/middleware"
	"github.com/mercato/mercato-backend/api/responses"
	"github.com/mercato/mercato-backend/api/validators"
	"github.com/mercato/mercato-backend/pkg/db/models"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

const maxReasonLength = 500

// requireActor pulls the authenticated caller or writes a 401.
func requireActor(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (*outbox.ActorRef, bool) {
	actor := middleware.ActorFromContext(r.Context())
	if actor == nil || actor.UserID == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
		return nil, false
	}
	return actor, true
}

// requireStore returns the caller's store for seller routes.
func requireStore(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (*outbox.ActorRef, uuid.UUID, bool) {
	actor, ok := requireActor(w, r, logg)
	if !ok {
		return nil, uuid.Nil, false
	}
	if actor.StoreID == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing"))
		return nil, uuid.Nil, false
	}
	return actor, *actor.StoreID, true
}

func pathID(w http.ResponseWriter, r *http.Request, logg *logger.Logger, name string) (uuid.UUID, bool) {
	id, err := validators.ParseUUIDParam(r, name)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	return id, true
}

// queryEnum parses an optional enum filter with the enum's own parser.
func queryEnum[T any](r *http.Request, key string, parse func(string) (T, error)) (*T, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	value, err := parse(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+key)
	}
	return &value, nil
}

func unavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger, name string) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, name+" service unavailable"))
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (req reasonRequest) clean() string {
	return validators.SanitizeString(req.Reason, maxReasonLength)
}

type itemQuantityPayload struct {
	OrderItemID uuid.UUID `json:"order_item_id" validate:"required"`
	Quantity    int       `json:"quantity" validate:"required,min=1"`
}

type orderReader interface {
	GetOrder(ctx context.Context, actor *outbox.ActorRef, orderID uuid.UUID) (*models.Order, error)
}

type subOrderReader interface {
	GetSubOrder(ctx context.Context, actor *outbox.ActorRef, subOrderID uuid.UUID) (*models.SellerSubOrder, error)
}
