package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/db/models"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
)

// ReservationRequest asks for qty units of one product.
type ReservationRequest struct {
	ProductID uuid.UUID
	Qty       int
}

// ReservationResult reports the outcome for one request, in input order.
type ReservationResult struct {
	ProductID uuid.UUID
	Qty       int
	Reserved  bool
	Reason    string
}

// Inventory is the stock surface checkout and cancellation flows use.
type Inventory interface {
	Reserve(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) ([]ReservationResult, error)
	Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

type Service interface {
	Inventory
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetStore(ctx context.Context, id uuid.UUID) (*models.Store, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	product, err := s.repo.FindProduct(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return product, nil
}

func (s *service) GetStore(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	store, err := s.repo.FindStore(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
	}
	return store, nil
}

// Reserve decrements stock for every request inside tx. Requests are applied
// in product id order so concurrent checkouts lock rows consistently. A
// shortfall on any line is reported in the results and as a CONFLICT error;
// the caller rolls back the transaction.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) ([]ReservationResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("reservation requires a transaction")
	}
	for _, req := range requests {
		if req.ProductID == uuid.Nil || req.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation quantity must be positive")
		}
	}

	order := make([]int, len(requests))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return requests[order[a]].ProductID.String() < requests[order[b]].ProductID.String()
	})

	repo := s.repo.WithTx(tx)
	results := make([]ReservationResult, len(requests))
	var shortfalls []string
	for _, idx := range order {
		req := requests[idx]
		ok, err := repo.DecrementStock(ctx, req.ProductID, req.Qty)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve stock")
		}
		results[idx] = ReservationResult{ProductID: req.ProductID, Qty: req.Qty, Reserved: ok}
		if !ok {
			results[idx].Reason = "insufficient stock"
			shortfalls = append(shortfalls, req.ProductID.String())
		}
	}
	if len(shortfalls) > 0 {
		return results, pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
			WithDetails(map[string]any{"product_ids": shortfalls})
	}
	return results, nil
}

func (s *service) Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	if err := s.repo.WithTx(tx).IncrementStock(ctx, productID, qty); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release stock")
	}
	return nil
}
