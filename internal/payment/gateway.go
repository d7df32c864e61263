package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway is the external payment processor boundary. Charge reports
// whether the processor accepted the payment; Refund likewise for the
// refund path. Both may block on network latency.
type Gateway interface {
	Charge(ctx context.Context, p Payment) (bool, error)
	Refund(ctx context.Context, p Payment, amount decimal.Decimal) (bool, error)
}

// SimulatedGateway models an external processor: a fixed delay and an
// accept decision based on the amount. Tests inject a stub instead.
type SimulatedGateway struct {
	Latency time.Duration
}

func (g *SimulatedGateway) Charge(ctx context.Context, p Payment) (bool, error) {
	if err := g.wait(ctx); err != nil {
		return false, err
	}
	return p.Amount.IsPositive(), nil
}

func (g *SimulatedGateway) Refund(ctx context.Context, p Payment, amount decimal.Decimal) (bool, error) {
	if err := g.wait(ctx); err != nil {
		return false, err
	}
	return amount.IsPositive(), nil
}

func (g *SimulatedGateway) wait(ctx context.Context) error {
	latency := g.Latency
	if latency <= 0 {
		latency = time.Second
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(latency):
		return nil
	}
}
