package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudretail/saga"
	"github.com/cloudretail/saga/idempotency"
)

// PlacementError is returned when the placement saga fails. Err wraps the
// cause, so errors.Is works with ErrInsufficientStock and friends.
type PlacementError struct {
	SagaID             string
	Status             saga.Status
	FailedStep         saga.StepName
	CompensationFailed bool
	Err                error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("place order (saga %s): %v", e.SagaID, e.Err)
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

// Service places, cancels and queries orders.
type Service struct {
	repo   *Repository
	saga   *saga.Orchestrator[PlaceOrderInput]
	guard  *idempotency.Guard
	logger *zap.Logger
}

// NewService wires the order service. A nil guard disables idempotency keys.
func NewService(repo *Repository, orchestrator *saga.Orchestrator[PlaceOrderInput], guard *idempotency.Guard, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, saga: orchestrator, guard: guard, logger: logger}
}

func (s *Service) Saga() *saga.Orchestrator[PlaceOrderInput] {
	return s.saga
}

// PlaceOrder runs the placement saga. With a non-empty key a repeated call
// returns the first successful placement without running the saga again;
// replayed reports that case. Keys are scoped to the user.
func (s *Service) PlaceOrder(ctx context.Context, key string, req PlaceOrderRequest) (p Placement, replayed bool, err error) {
	if err := req.Validate(); err != nil {
		return Placement{}, false, err
	}

	if key == "" || s.guard == nil {
		p, err := s.place(ctx, req)
		return p, false, err
	}

	p, replayed, err = idempotency.Execute(ctx, s.guard, req.UserID+":"+key, func(ctx context.Context) (Placement, error) {
		return s.place(ctx, req)
	})
	if replayed && err == nil {
		s.logger.Info("replayed order placement",
			zap.String("idempotency_key", key),
			zap.String("saga_id", p.SagaID),
			zap.Int64("order_id", p.OrderID),
		)
	}
	return p, replayed, err
}

func (s *Service) place(ctx context.Context, req PlaceOrderRequest) (Placement, error) {
	res := s.saga.Execute(ctx, PlaceOrderInput{UserID: req.UserID, Items: req.Items})
	if !res.Succeeded() {
		return Placement{}, &PlacementError{
			SagaID:             res.SagaID,
			Status:             res.Status,
			FailedStep:         res.FailedStep,
			CompensationFailed: len(res.CompensationErrors) > 0,
			Err:                res.Err,
		}
	}

	o, err := saga.MustLookup[createdOrder](res.Context, StepCreateOrder)
	if err != nil {
		return Placement{}, err
	}
	pay, err := saga.MustLookup[payment](res.Context, StepAuthorizePayment)
	if err != nil {
		return Placement{}, err
	}

	return Placement{
		SagaID:     res.SagaID,
		OrderID:    o.OrderID,
		Status:     StatusConfirmed,
		TotalCents: o.TotalCents,
		PaymentID:  pay.PaymentID,
	}, nil
}

// CancelOrder rolls back the saga that placed an order: the order is marked
// cancelled, stock is returned and the payment refunded.
func (s *Service) CancelOrder(ctx context.Context, orderID int64) (Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.SagaID == "" {
		return Order{}, fmt.Errorf("order %d has no saga: %w", orderID, saga.ErrNotRollbackable)
	}

	if res := s.saga.Rollback(ctx, o.SagaID); res.Err != nil {
		return Order{}, fmt.Errorf("cancel order %d: %w", orderID, res.Err)
	}

	s.logger.Info("order cancelled", zap.Int64("order_id", orderID), zap.String("saga_id", o.SagaID))
	return s.repo.GetOrder(ctx, orderID)
}

// RollbackSaga compensates whatever a saga run left uncompensated.
func (s *Service) RollbackSaga(ctx context.Context, sagaID string) saga.Result[PlaceOrderInput] {
	return s.saga.Rollback(ctx, sagaID)
}

func (s *Service) GetSaga(ctx context.Context, sagaID string) (*saga.State[PlaceOrderInput], error) {
	return s.saga.Store().Load(ctx, sagaID)
}

func (s *Service) ListSagas(ctx context.Context) ([]saga.State[PlaceOrderInput], error) {
	return s.saga.Store().List(ctx)
}

func (s *Service) GetOrder(ctx context.Context, orderID int64) (Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

func (s *Service) ListUserOrders(ctx context.Context, userID string) ([]Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	return s.repo.ListUserOrders(ctx, userID)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// CreateProduct adds a product to the catalog. A missing SKU is generated.
func (s *Service) CreateProduct(ctx context.Context, np NewProduct) (Product, error) {
	np.SKU = strings.TrimSpace(np.SKU)
	np.Name = strings.TrimSpace(np.Name)
	if err := np.Validate(); err != nil {
		return Product{}, err
	}
	if np.SKU == "" {
		np.SKU = "CR-" + strings.ToUpper(uuid.NewString()[:8])
	}

	p, err := s.repo.CreateProduct(ctx, Product{
		SKU:         np.SKU,
		Name:        np.Name,
		Description: np.Description,
		PriceCents:  np.PriceCents,
	}, np.Stock)
	if err != nil {
		return Product{}, err
	}

	s.logger.Info("product created", zap.Int64("product_id", p.ID), zap.String("sku", p.SKU), zap.Int("stock", np.Stock))
	return p, nil
}

// IsClientError reports whether err was caused by the request rather than by
// the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrProductExists) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrPaymentDeclined)
}
