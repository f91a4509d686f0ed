package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalledger/internal/evaluation/models"
	id "evalledger/pkg/domain"
	"evalledger/pkg/platform/circuit"
)

type stubPublisher struct {
	err   error
	calls int
}

func (p *stubPublisher) PublishResultsIngested(context.Context, models.ResultsIngested) error {
	p.calls++
	return p.err
}

func TestGuardedPublisher(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	event := models.ResultsIngested{RunID: id.RunID(uuid.New())}

	t.Run("passes through while healthy", func(t *testing.T) {
		next := &stubPublisher{}
		g := NewGuarded(next, circuit.New("kafka", circuit.WithFailureThreshold(2)), logger)
		require.NoError(t, g.PublishResultsIngested(ctx, event))
		require.NoError(t, g.PublishResultsIngested(ctx, event))
		assert.Equal(t, 2, next.calls)
	})

	t.Run("stops calling the broker once open", func(t *testing.T) {
		brokerDown := errors.New("broker unavailable")
		next := &stubPublisher{err: brokerDown}
		breaker := circuit.New("kafka", circuit.WithFailureThreshold(2))
		g := NewGuarded(next, breaker, logger)

		assert.ErrorIs(t, g.PublishResultsIngested(ctx, event), brokerDown)
		assert.ErrorIs(t, g.PublishResultsIngested(ctx, event), brokerDown)
		assert.True(t, breaker.IsOpen())

		assert.ErrorIs(t, g.PublishResultsIngested(ctx, event), ErrCircuitOpen)
		assert.Equal(t, 2, next.calls)
	})
}
