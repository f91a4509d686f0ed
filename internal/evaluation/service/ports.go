package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"evalledger/internal/evaluation/models"
)

// GlobalTestCaseCache caches the global test case listing. Every
// InvalidateGlobal advances the generation; SetGlobal is a no-op unless the
// generation still equals gen, so a fill that read the store before a
// concurrent change cannot overwrite the invalidation.
type GlobalTestCaseCache interface {
	GetGlobal(ctx context.Context) ([]*models.TestCase, bool, error)
	Generation(ctx context.Context) (uint64, error)
	SetGlobal(ctx context.Context, gen uint64, cases []*models.TestCase) error
	InvalidateGlobal(ctx context.Context) error
}

// EventPublisher emits result-ingested events after commit.
type EventPublisher interface {
	PublishResultsIngested(ctx context.Context, event models.ResultsIngested) error
}
