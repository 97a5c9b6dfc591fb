package orders

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gateway authorizes and refunds payments.
type Gateway interface {
	Authorize(ctx context.Context, userID string, amountCents int64) (paymentID string, err error)
	Refund(ctx context.Context, paymentID string) error
}

// StubGateway approves every payment up to DeclineAbove cents. A zero
// DeclineAbove approves everything.
type StubGateway struct {
	DeclineAbove int64

	logger *zap.Logger

	mu       sync.Mutex
	payments map[string]int64
	refunded map[string]bool
}

func NewStubGateway(declineAbove int64, logger *zap.Logger) *StubGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubGateway{
		DeclineAbove: declineAbove,
		logger:       logger,
		payments:     make(map[string]int64),
		refunded:     make(map[string]bool),
	}
}

func (g *StubGateway) Authorize(ctx context.Context, userID string, amountCents int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g.DeclineAbove > 0 && amountCents > g.DeclineAbove {
		return "", fmt.Errorf("%w: %d cents exceeds limit of %d", ErrPaymentDeclined, amountCents, g.DeclineAbove)
	}

	id := uuid.NewString()

	g.mu.Lock()
	g.payments[id] = amountCents
	g.mu.Unlock()

	g.logger.Info("payment authorized",
		zap.String("payment_id", id),
		zap.String("user_id", userID),
		zap.Int64("amount_cents", amountCents),
	)
	return id, nil
}

// Refund releases an authorization. Refunding twice is a no-op.
func (g *StubGateway) Refund(_ context.Context, paymentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.payments[paymentID]; !ok {
		return fmt.Errorf("unknown payment %s", paymentID)
	}
	if !g.refunded[paymentID] {
		g.refunded[paymentID] = true
		g.logger.Info("payment refunded", zap.String("payment_id", paymentID))
	}
	return nil
}

// Refunded reports whether a payment was refunded.
func (g *StubGateway) Refunded(paymentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunded[paymentID]
}
