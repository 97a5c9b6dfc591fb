// Package orders places retail orders through a saga that reserves stock,
// records the order, authorizes payment, commits stock and confirms the
// order, undoing completed steps when a later one fails.
package orders

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRequest    = errors.New("invalid order request")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOrderNotFound     = errors.New("order not found")
	ErrPaymentDeclined   = errors.New("payment declined")
	ErrProductExists     = errors.New("product sku already exists")
)

// Order statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

type Product struct {
	ID          int64  `json:"id"`
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Available   int    `json:"available"`
	Reserved    int    `json:"reserved"`
}

// NewProduct is a request to add a product to the catalog.
type NewProduct struct {
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
}

func (p NewProduct) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalidRequest)
	}
	if p.PriceCents <= 0 {
		return fmt.Errorf("%w: price_cents must be positive", ErrInvalidRequest)
	}
	if p.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidRequest)
	}
	return nil
}

// Item is one line of an order request.
type Item struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type PlaceOrderRequest struct {
	UserID string `json:"user_id"`
	Items  []Item `json:"items"`
}

// Validate rejects requests that can never succeed.
func (r PlaceOrderRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidRequest)
	}
	for i, it := range r.Items {
		if it.ProductID <= 0 {
			return fmt.Errorf("%w: item %d has no product id", ErrInvalidRequest, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d has quantity %d", ErrInvalidRequest, i, it.Quantity)
		}
	}
	return nil
}

type Order struct {
	ID         int64       `json:"id"`
	UserID     string      `json:"user_id"`
	Status     string      `json:"status"`
	TotalCents int64       `json:"total_cents"`
	PaymentID  string      `json:"payment_id,omitempty"`
	SagaID     string      `json:"saga_id,omitempty"`
	Items      []OrderItem `json:"items"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type OrderItem struct {
	ProductID  int64 `json:"product_id"`
	Quantity   int   `json:"quantity"`
	PriceCents int64 `json:"price_cents"`
}

// Placement is the result of a successful order placement. It is what the
// idempotency guard stores and replays.
type Placement struct {
	SagaID     string `json:"saga_id"`
	OrderID    int64  `json:"order_id"`
	Status     string `json:"status"`
	TotalCents int64  `json:"total_cents"`
	PaymentID  string `json:"payment_id"`
}
