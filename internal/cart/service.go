package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/db/models"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
	"github.com/mercato/mercato-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productLoader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// Owner identifies a cart: a signed-in user or an anonymous session token.
type Owner struct {
	UserID       *uuid.UUID
	SessionToken string
}

func (o Owner) validate() error {
	if o.UserID != nil && *o.UserID != uuid.Nil {
		return nil
	}
	if strings.TrimSpace(o.SessionToken) == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "cart owner required")
	}
	return nil
}

func (o Owner) normalized() Owner {
	if o.UserID != nil && *o.UserID == uuid.Nil {
		o.UserID = nil
	}
	o.SessionToken = strings.TrimSpace(o.SessionToken)
	return o
}

// View is the active cart grouped by store.
type View struct {
	CartID     *uuid.UUID   `json:"cart_id,omitempty"`
	Currency   string       `json:"currency,omitempty"`
	Groups     []StoreGroup `json:"groups"`
	TotalCents int64        `json:"total_cents"`
	ItemCount  int          `json:"item_count"`
}

// Service exposes cart operations for buyers and anonymous sessions.
type Service interface {
	GetCart(ctx context.Context, owner Owner) (*View, error)
	UpsertItem(ctx context.Context, owner Owner, productID uuid.UUID, quantity int) (*View, error)
	RemoveItem(ctx context.Context, owner Owner, productID uuid.UUID) (*View, error)
	Clear(ctx context.Context, owner Owner) error
	MergeSessionCart(ctx context.Context, sessionToken string, userID uuid.UUID) (*View, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	products productLoader
	logg     *logger.Logger
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo Repository, tx txRunner, products productLoader, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, products: products, logg: logg}, nil
}

func (s *service) GetCart(ctx context.Context, owner Owner) (*View, error) {
	owner = owner.normalized()
	if err := owner.validate(); err != nil {
		return nil, err
	}
	cart, err := s.repo.FindActive(ctx, owner)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return BuildView(nil), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return BuildView(cart), nil
}

// UpsertItem sets the quantity of one product. A quantity of zero removes it.
func (s *service) UpsertItem(ctx context.Context, owner Owner, productID uuid.UUID, quantity int) (*View, error) {
	owner = owner.normalized()
	if err := owner.validate(); err != nil {
		return nil, err
	}
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, owner, productID)
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available").
			WithDetails(map[string]any{"product_id": productID})
	}
	if product.Stock < quantity {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
			WithDetails(map[string]any{"product_id": productID, "available": product.Stock})
	}

	var view *View
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.activeOrCreate(ctx, repo, owner, product.Currency)
		if err != nil {
			return err
		}
		if len(cart.Items) > 0 && cart.Currency != product.Currency {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "cart is priced in %s, product is priced in %s", cart.Currency, product.Currency)
		}
		if len(cart.Items) == 0 && cart.Currency != product.Currency {
			if err := repo.Update(ctx, cart.ID, map[string]any{"currency": product.Currency}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart currency")
			}
		}

		item := &models.CartItem{
			CartID:         cart.ID,
			ProductID:      product.ID,
			StoreID:        product.StoreID,
			CategoryID:     product.CategoryID,
			Title:          product.Title,
			UnitPriceCents: product.UnitPriceCents,
			Currency:       product.Currency,
			Quantity:       quantity,
		}
		if err := repo.SaveItem(ctx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart item")
		}
		reloaded, err := repo.LockByID(ctx, cart.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
		}
		view = BuildView(reloaded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *service) RemoveItem(ctx context.Context, owner Owner, productID uuid.UUID) (*View, error) {
	owner = owner.normalized()
	if err := owner.validate(); err != nil {
		return nil, err
	}
	var view *View
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := repo.LockActive(ctx, owner)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		removed, err := repo.DeleteItem(ctx, cart.ID, productID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove cart item")
		}
		if removed == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
		}
		reloaded, err := repo.LockByID(ctx, cart.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
		}
		view = BuildView(reloaded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *service) Clear(ctx context.Context, owner Owner) error {
	owner = owner.normalized()
	if err := owner.validate(); err != nil {
		return err
	}
	cart, err := s.repo.FindActive(ctx, owner)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if err := s.repo.DeleteItems(ctx, cart.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	return nil
}

// MergeSessionCart moves an anonymous cart onto a user who just signed in.
// Lines for the same product have their quantities summed.
func (s *service) MergeSessionCart(ctx context.Context, sessionToken string, userID uuid.UUID) (*View, error) {
	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session token required")
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	ctx = s.logg.WithField(ctx, "user_id", userID.String())

	var view *View
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		userOwner := Owner{UserID: &userID}
		session, err := repo.LockActive(ctx, Owner{SessionToken: sessionToken})
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load session cart")
			}
			current, err := repo.LockActive(ctx, userOwner)
			switch {
			case err == nil:
				view = BuildView(current)
			case errors.Is(err, gorm.ErrRecordNotFound):
				view = BuildView(nil)
			default:
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
			}
			return nil
		}

		target, err := repo.LockActive(ctx, userOwner)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := repo.Update(ctx, session.ID, map[string]any{"user_id": userID, "session_token": nil}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach session cart")
			}
			reloaded, err := repo.LockByID(ctx, session.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
			}
			view = BuildView(reloaded)
			return nil
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}

		if len(target.Items) > 0 && len(session.Items) > 0 && target.Currency != session.Currency {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "cannot merge a %s cart into a %s cart", session.Currency, target.Currency)
		}
		existing := make(map[uuid.UUID]models.CartItem, len(target.Items))
		for _, item := range target.Items {
			existing[item.ProductID] = item
		}
		for _, item := range session.Items {
			merged := item
			merged.ID = uuid.Nil
			merged.CartID = target.ID
			if prior, ok := existing[item.ProductID]; ok {
				merged.Quantity += prior.Quantity
			}
			if err := repo.SaveItem(ctx, &merged); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge cart item")
			}
		}
		if len(target.Items) == 0 && target.Currency != session.Currency {
			if err := repo.Update(ctx, target.ID, map[string]any{"currency": session.Currency}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart currency")
			}
		}
		if err := repo.Delete(ctx, session.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop session cart")
		}
		reloaded, err := repo.LockByID(ctx, target.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
		}
		view = BuildView(reloaded)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "session cart merged")
	return view, nil
}

func (s *service) activeOrCreate(ctx context.Context, repo Repository, owner Owner, currency string) (*models.Cart, error) {
	cart, err := repo.LockActive(ctx, owner)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	cart = &models.Cart{UserID: owner.UserID, Currency: currency}
	if owner.UserID == nil {
		token := owner.SessionToken
		cart.SessionToken = &token
	}
	if err := repo.Create(ctx, cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return cart, nil
}

// BuildView groups a cart for display. A nil cart yields an empty view.
func BuildView(cart *models.Cart) *View {
	view := &View{Groups: []StoreGroup{}}
	if cart == nil {
		return view
	}
	id := cart.ID
	view.CartID = &id
	view.Currency = cart.Currency
	view.Groups = GroupByStore(cart.Items)
	for _, group := range view.Groups {
		view.TotalCents += group.SubtotalCents
		view.ItemCount += group.ItemCount
	}
	if view.Groups == nil {
		view.Groups = []StoreGroup{}
	}
	return view
}
