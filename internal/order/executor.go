// Package order implements the signal-to-order state machine. One manager
// handles the shared pipeline (filter, validate, submit, track position);
// paper and live execution differ only in the Executor plugged into it.
package order

import (
	"context"

	"quantra/internal/types"
)

// Fill is the result of a successful order submission.
type Fill struct {
	ExecutedPrice   float64
	Commission      float64
	ExchangeOrderID string
}

// Executor performs the actual order placement. Implementations must return
// either a Fill or an error; partial results are not allowed.
type Executor interface {
	// Mode names the execution backend ("paper" or "live").
	Mode() string

	// Submit executes the order. The context carries the submission
	// deadline; a timed-out live submission is surfaced as a transient
	// error and left to reconciliation.
	Submit(ctx context.Context, ord *types.Order) (Fill, error)
}
