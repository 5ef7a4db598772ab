package scheduler

import (
	"context"

	"github.com/aristath/tierindex/internal/domain"
	"github.com/aristath/tierindex/internal/modules/grace"
	"github.com/aristath/tierindex/internal/modules/history"
	"github.com/aristath/tierindex/internal/modules/index"
	"github.com/aristath/tierindex/internal/modules/rebalancing"
)

// FundCore is the subset of the fund core driven by the jobs.
// Used by scheduler to enable testing with mocks
type FundCore interface {
	ProcessDue(ctx context.Context, caps domain.Capabilities, maxBatch int) (int, error)
	DueCount() int
	RefreshTiers(ctx context.Context, caps domain.Capabilities, maxBatch int) (grace.RefreshResult, error)
	SampleMetrics(ctx context.Context, caps domain.Capabilities, maxBatch int) (history.SampleResult, error)
	RefreshIndex(ctx context.Context, caps domain.Capabilities) (index.Reading, error)
	IndexReading() index.Reading
	ExecuteRebalance(ctx context.Context, caps domain.Capabilities, maxSteps int, force bool) (rebalancing.ExecuteResult, error)
}

// BackupService takes an off-site snapshot and returns its object key
type BackupService interface {
	Backup(ctx context.Context) (string, error)
}
