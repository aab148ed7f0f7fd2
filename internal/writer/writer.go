// Package writer commits completed entries through an ordered list of
// storage strategies. The first success wins; every failure is journaled
// under a per-commit correlation id so a flaky primary leaves a trail even
// when the fallback saves the row.
package writer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fleetworks/invoicebot/internal/intake"
)

// Strategy is one durable home for an Entry. Write must be idempotent on
// the entry's msg_key so retries and duplicate deliveries merge.
type Strategy interface {
	Name() string
	Write(ctx context.Context, e intake.Entry) error
}

type Options struct {
	Strategies []Strategy
	Journal    intake.ErrorSink
}

// Writer tries strategies in configured order.
type Writer struct {
	strategies []Strategy
	journal    intake.ErrorSink
}

func New(opts Options) (*Writer, error) {
	if len(opts.Strategies) == 0 {
		return nil, fmt.Errorf("at least one write strategy is required")
	}
	return &Writer{strategies: opts.Strategies, journal: opts.Journal}, nil
}

// Write stops at the first strategy that succeeds. When all fail, the
// returned error wraps intake.ErrWriteFailed and carries the last cause.
func (w *Writer) Write(ctx context.Context, e intake.Entry) error {
	correlationID := uuid.NewString()
	var lastErr error
	for _, strategy := range w.strategies {
		err := strategy.Write(ctx, e)
		if err == nil {
			return nil
		}
		lastErr = err
		if w.journal != nil {
			w.journal.Capture(ctx, "writer/"+strategy.Name(),
				fmt.Sprintf("correlation_id=%s msg_key=%s: %v", correlationID, e.MsgKey, err))
		}
	}
	return fmt.Errorf("%w: all %d strategies failed, last: %v", intake.ErrWriteFailed, len(w.strategies), lastErr)
}
