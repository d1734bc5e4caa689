package orders

import (
	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/outbox"
)

func isPrivileged(actor *outbox.ActorRef) bool {
	return actor != nil && (actor.Role == enums.ActorRoleAdmin || actor.Role == enums.ActorRoleSystem)
}

// canSeeOrder hides other buyers' orders behind NOT_FOUND.
func canSeeOrder(actor *outbox.ActorRef, order *models.Order) error {
	if isPrivileged(actor) {
		return nil
	}
	if actor != nil && actor.UserID != nil && *actor.UserID == order.BuyerUserID {
		return nil
	}
	if actor != nil && actor.Role == enums.ActorRoleSeller && actor.StoreID != nil {
		for _, sub := range order.SubOrders {
			if sub.StoreID == *actor.StoreID {
				return nil
			}
		}
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func isBuyer(actor *outbox.ActorRef, order *models.Order) bool {
	return actor != nil && actor.UserID != nil && *actor.UserID == order.BuyerUserID
}

func isSeller(actor *outbox.ActorRef, sub *models.SellerSubOrder) bool {
	return actor != nil && actor.Role == enums.ActorRoleSeller && actor.StoreID != nil && *actor.StoreID == sub.StoreID
}

func canManageSubOrder(actor *outbox.ActorRef, sub *models.SellerSubOrder) error {
	if isPrivileged(actor) || isSeller(actor, sub) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "sub-order belongs to another store")
}
