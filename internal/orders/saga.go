package orders

import (
	"context"
	"fmt"

	"github.com/cloudretail/saga"
)

// SagaName is the name of the order placement saga.
const SagaName saga.SagaName = "place_order"

// Step names of the order placement saga, in execution order.
const (
	StepReserveInventory  saga.StepName = "reserve_inventory"
	StepCreateOrder       saga.StepName = "create_order"
	StepAuthorizePayment  saga.StepName = "authorize_payment"
	StepCommitInventory   saga.StepName = "commit_inventory"
	StepUpdateOrderStatus saga.StepName = "update_order_status"
)

// PlaceOrderInput is the saga input.
type PlaceOrderInput struct {
	UserID string `json:"user_id"`
	Items  []Item `json:"items"`
}

type reservation struct {
	Items []Item `json:"items"`
}

type createdOrder struct {
	OrderID    int64 `json:"order_id"`
	TotalCents int64 `json:"total_cents"`
}

type payment struct {
	PaymentID string `json:"payment_id"`
}

type confirmation struct {
	Status string `json:"status"`
}

type sagaSteps struct {
	repo    *Repository
	gateway Gateway
}

// NewSaga builds the order placement orchestrator.
func NewSaga(repo *Repository, gateway Gateway, store saga.Store[PlaceOrderInput], opts ...saga.Option) (*saga.Orchestrator[PlaceOrderInput], error) {
	s := &sagaSteps{repo: repo, gateway: gateway}

	registry := saga.NewStepRegistry[PlaceOrderInput]()
	b := saga.NewDagBuilder(SagaName, registry)

	nodes := []*saga.StepNode[PlaceOrderInput]{
		{Step: saga.NewStep(StepReserveInventory, s.reserveInventory, s.releaseInventory), Label: "Reserve inventory"},
		{Step: saga.NewStep(StepCreateOrder, s.createOrder, s.deleteOrder), Label: "Create order"},
		{Step: saga.NewStep(StepAuthorizePayment, s.authorizePayment, s.refundPayment), Label: "Authorize payment"},
		{Step: saga.NewStep(StepCommitInventory, s.commitInventory, s.reopenInventory), Label: "Commit inventory"},
		{Step: saga.NewStep(StepUpdateOrderStatus, s.confirmOrder, s.cancelOrder), Label: "Confirm order"},
	}
	for _, n := range nodes {
		if err := b.Append(n); err != nil {
			return nil, err
		}
	}

	d, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s saga: %w", SagaName, err)
	}

	return saga.NewOrchestrator(saga.NewSagaDag(d), registry, store, opts...)
}

func (s *sagaSteps) reserveInventory(ctx context.Context, sc *saga.Context[PlaceOrderInput]) (reservation, error) {
	if err := s.repo.Reserve(ctx, sc.Input.Items); err != nil {
		return reservation{}, err
	}
	return reservation{Items: sc.Input.Items}, nil
}

func (s *sagaSteps) releaseInventory(ctx context.Context, sc *saga.Context[PlaceOrderInput]) error {
	r, err := saga.MustLookup[reservation](sc, StepReserveInventory)
	if err != nil {
		return err
	}
	return s.repo.Release(ctx, r.Items)
}

func (s *sagaSteps) createOrder(ctx context.Context, sc *saga.Context[PlaceOrderInput]) (createdOrder, error) {
	items, total, err := s.repo.Price(ctx, sc.Input.Items)
	if err != nil {
		return createdOrder{}, err
	}

	id, err := s.repo.InsertOrder(ctx, sc.Input.UserID, sc.SagaID, items, total)
	if err != nil {
		return createdOrder{}, err
	}
	return createdOrder{OrderID: id, TotalCents: total}, nil
}

// deleteOrder removes an order that was never confirmed. A confirmed order
// has already been cancelled by the status step's compensation and is kept.
func (s *sagaSteps) deleteOrder(ctx context.Context, sc *saga.Context[PlaceOrderInput]) error {
	o, err := saga.MustLookup[createdOrder](sc, StepCreateOrder)
	if err != nil {
		return err
	}
	return s.repo.DeletePendingOrder(ctx, o.OrderID)
}

func (s *sagaSteps) authorizePayment(ctx context.Context, sc *saga.Context[PlaceOrderInput]) (payment, error) {
	o, err := saga.MustLookup[createdOrder](sc, StepCreateOrder)
	if err != nil {
		return payment{}, err
	}

	id, err := s.gateway.Authorize(ctx, sc.Input.UserID, o.TotalCents)
	if err != nil {
		return payment{}, err
	}

	if err := s.repo.SetPayment(ctx, o.OrderID, id); err != nil {
		return payment{}, fmt.Errorf("record payment %s: %w", id, err)
	}
	return payment{PaymentID: id}, nil
}

func (s *sagaSteps) refundPayment(ctx context.Context, sc *saga.Context[PlaceOrderInput]) error {
	p, err := saga.MustLookup[payment](sc, StepAuthorizePayment)
	if err != nil {
		return err
	}
	return s.gateway.Refund(ctx, p.PaymentID)
}

func (s *sagaSteps) commitInventory(ctx context.Context, sc *saga.Context[PlaceOrderInput]) (reservation, error) {
	if err := s.repo.Commit(ctx, sc.Input.Items); err != nil {
		return reservation{}, err
	}
	return reservation{Items: sc.Input.Items}, nil
}

// reopenInventory turns committed units back into a reservation so that the
// release compensation returns them to stock.
func (s *sagaSteps) reopenInventory(ctx context.Context, sc *saga.Context[PlaceOrderInput]) error {
	r, err := saga.MustLookup[reservation](sc, StepCommitInventory)
	if err != nil {
		return err
	}
	return s.repo.Reopen(ctx, r.Items)
}

func (s *sagaSteps) confirmOrder(ctx context.Context, sc *saga.Context[PlaceOrderInput]) (confirmation, error) {
	o, err := saga.MustLookup[createdOrder](sc, StepCreateOrder)
	if err != nil {
		return confirmation{}, err
	}
	if err := s.repo.SetStatus(ctx, o.OrderID, StatusConfirmed); err != nil {
		return confirmation{}, err
	}
	return confirmation{Status: StatusConfirmed}, nil
}

func (s *sagaSteps) cancelOrder(ctx context.Context, sc *saga.Context[PlaceOrderInput]) error {
	o, err := saga.MustLookup[createdOrder](sc, StepCreateOrder)
	if err != nil {
		return err
	}
	return s.repo.SetStatus(ctx, o.OrderID, StatusCancelled)
}
