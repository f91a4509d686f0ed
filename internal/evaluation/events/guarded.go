package events

import (
	"context"
	"errors"
	"log/slog"

	"evalledger/internal/evaluation/models"
	"evalledger/pkg/platform/circuit"
	"evalledger/pkg/requestcontext"
)

// ErrCircuitOpen is returned without calling the broker while the breaker is open.
var ErrCircuitOpen = errors.New("event publishing suspended: circuit open")

type Publisher interface {
	PublishResultsIngested(ctx context.Context, event models.ResultsIngested) error
}

// Guarded fronts a Publisher with a circuit breaker so an unavailable broker
// does not add its timeout to every ingestion request.
type Guarded struct {
	next    Publisher
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(next Publisher, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	return &Guarded{next: next, breaker: breaker, logger: logger}
}

func (g *Guarded) PublishResultsIngested(ctx context.Context, event models.ResultsIngested) error {
	if !g.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := g.next.PublishResultsIngested(ctx, event); err != nil {
		if g.breaker.RecordFailure() {
			g.logger.WarnContext(ctx, "event publishing circuit opened",
				"request_id", requestcontext.RequestID(ctx),
				"breaker", g.breaker.Name(),
				"error", err,
			)
		}
		return err
	}
	if g.breaker.RecordSuccess() {
		g.logger.InfoContext(ctx, "event publishing circuit closed",
			"request_id", requestcontext.RequestID(ctx),
			"breaker", g.breaker.Name(),
		)
	}
	return nil
}
