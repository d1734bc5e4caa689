package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercato/mercato-backend/pkg/db/models"
	"github.com/mercato/mercato-backend/pkg/enums"
)

// SeedStore inserts an active store paying out to a Stripe connected account.
func SeedStore(t *testing.T, db *gorm.DB) models.Store {
	t.Helper()
	account := "acct_" + uuid.NewString()[:12]
	store := models.Store{
		Name:            "Store " + uuid.NewString()[:6],
		OwnerUserID:     uuid.New(),
		Active:          true,
		Currency:        "USD",
		StripeAccountID: &account,
	}
	if err := db.Create(&store).Error; err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return store
}

// SeedProduct inserts an active product with the given price and stock.
func SeedProduct(t *testing.T, db *gorm.DB, storeID uuid.UUID, priceCents int64, stock int) models.Product {
	t.Helper()
	product := models.Product{
		StoreID:        storeID,
		SKU:            "SKU-" + uuid.NewString()[:8],
		Title:          "Product " + uuid.NewString()[:6],
		UnitPriceCents: priceCents,
		Currency:       "USD",
		Stock:          stock,
		Active:         true,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// ItemSeed describes one order line.
type ItemSeed struct {
	ProductID      uuid.UUID
	UnitPriceCents int64
	Quantity       int
	ShippedQty     int
	DeliveredQty   int
	CategoryID     *uuid.UUID
}

// SubOrderSeed describes one seller slice of a seeded order.
type SubOrderSeed struct {
	StoreID      uuid.UUID
	Status       enums.SubOrderStatus
	EscrowStatus enums.EscrowStatus
	DeliveredAt  *time.Time
	Items        []ItemSeed
}

// OrderSeed describes an order fixture. Zero values pick sensible defaults.
type OrderSeed struct {
	BuyerUserID   uuid.UUID
	Provider      enums.PaymentProvider
	PaymentStatus enums.PaymentStatus
	ProviderRef   string
	SubOrders     []SubOrderSeed
}

// SeedOrder writes an order with sub-orders, items, escrows and a payment,
// then reloads it with every association the services read.
func SeedOrder(t *testing.T, db *gorm.DB, seed OrderSeed) *models.Order {
	t.Helper()
	if seed.BuyerUserID == uuid.Nil {
		seed.BuyerUserID = uuid.New()
	}
	if seed.Provider == "" {
		seed.Provider = enums.PaymentProviderManual
	}
	if seed.PaymentStatus == "" {
		seed.PaymentStatus = enums.PaymentStatusPending
	}

	now := time.Now().UTC()
	number := "MRC-" + now.Format("20060102") + "-" + uuid.NewString()[:6]
	order := models.Order{
		Number:          number,
		BuyerUserID:     seed.BuyerUserID,
		Currency:        "USD",
		Status:          enums.OrderStatusPendingPayment,
		PaymentProvider: seed.Provider,
		PlacedAt:        now,
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}

	var total int64
	for i, subSeed := range seed.SubOrders {
		if subSeed.StoreID == uuid.Nil {
			subSeed.StoreID = SeedStore(t, db).ID
		}
		if subSeed.Status == "" {
			subSeed.Status = enums.SubOrderStatusPendingPayment
		}
		if subSeed.EscrowStatus == "" {
			subSeed.EscrowStatus = enums.EscrowStatusPending
		}

		var subtotal int64
		for _, item := range subSeed.Items {
			subtotal += item.UnitPriceCents * int64(item.Quantity)
		}
		sub := models.SellerSubOrder{
			OrderID:       order.ID,
			StoreID:       subSeed.StoreID,
			Number:        fmt.Sprintf("%s-%d", number, i+1),
			Status:        subSeed.Status,
			SubtotalCents: subtotal,
			TotalCents:    subtotal,
			DeliveredAt:   subSeed.DeliveredAt,
		}
		if err := db.Create(&sub).Error; err != nil {
			t.Fatalf("seed sub-order: %v", err)
		}
		for _, itemSeed := range subSeed.Items {
			if itemSeed.ProductID == uuid.Nil {
				itemSeed.ProductID = uuid.New()
			}
			item := models.OrderItem{
				OrderID:        order.ID,
				SubOrderID:     sub.ID,
				ProductID:      itemSeed.ProductID,
				CategoryID:     itemSeed.CategoryID,
				Title:          "Line item",
				UnitPriceCents: itemSeed.UnitPriceCents,
				Quantity:       itemSeed.Quantity,
				ShippedQty:     itemSeed.ShippedQty,
				DeliveredQty:   itemSeed.DeliveredQty,
				LineTotalCents: itemSeed.UnitPriceCents * int64(itemSeed.Quantity),
			}
			item.DeriveStatus()
			if err := db.Create(&item).Error; err != nil {
				t.Fatalf("seed order item: %v", err)
			}
		}

		escrow := models.EscrowTransaction{
			SubOrderID: sub.ID,
			OrderID:    order.ID,
			StoreID:    sub.StoreID,
			Status:     subSeed.EscrowStatus,
			Currency:   "USD",
		}
		if subSeed.EscrowStatus != enums.EscrowStatusPending && subSeed.EscrowStatus != enums.EscrowStatusCancelled {
			escrow.AmountCents = subtotal
			escrow.FundedAt = &now
		}
		if subSeed.EscrowStatus == enums.EscrowStatusReleased {
			escrow.ReleasedAt = &now
		}
		if err := db.Create(&escrow).Error; err != nil {
			t.Fatalf("seed escrow: %v", err)
		}
		total += subtotal
	}

	payment := models.PaymentTransaction{
		OrderID:     order.ID,
		Provider:    seed.Provider,
		Status:      seed.PaymentStatus,
		Currency:    "USD",
		AmountCents: total,
	}
	if seed.ProviderRef != "" {
		ref := seed.ProviderRef
		payment.ProviderRef = &ref
	}
	switch seed.PaymentStatus {
	case enums.PaymentStatusAuthorized:
		payment.AuthorizedCents = total
		payment.AuthorizedAt = &now
	case enums.PaymentStatusCaptured:
		payment.AuthorizedCents = total
		payment.CapturedCents = total
		payment.AuthorizedAt = &now
		payment.CapturedAt = &now
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	if err := db.Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]any{"subtotal_cents": total, "total_cents": total}).Error; err != nil {
		t.Fatalf("seed order totals: %v", err)
	}
	return ReloadOrder(t, db, order.ID)
}

// ReloadOrder fetches an order with sub-orders, items, escrows and payment.
func ReloadOrder(t *testing.T, db *gorm.DB, orderID uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	err := db.
		Preload("SubOrders", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		Preload("SubOrders.Items").
		Preload("SubOrders.Escrow").
		Preload("SubOrders.Shipments.Items").
		Preload("Payment").
		First(&order, "id = ?", orderID).Error
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return &order
}
