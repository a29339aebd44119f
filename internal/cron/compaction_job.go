package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
)

const defaultTombstoneAge = 7 * 24 * time.Hour

// CompactionJobParams configure database compaction.
type CompactionJobParams struct {
	Store        *docstore.Store
	Logger       *logger.Logger
	TombstoneAge time.Duration
	Now          func() time.Time
}

// CompactionJob prunes tombstones old enough that no filter or sweep
// still needs to observe them, then vacuums the database file.
type CompactionJob struct {
	store        *docstore.Store
	logg         *logger.Logger
	tombstoneAge time.Duration
	now          func() time.Time
}

// NewCompactionJob builds the compaction job.
func NewCompactionJob(params CompactionJobParams) (*CompactionJob, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.TombstoneAge <= 0 {
		params.TombstoneAge = defaultTombstoneAge
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &CompactionJob{
		store:        params.Store,
		logg:         params.Logger,
		tombstoneAge: params.TombstoneAge,
		now:          params.Now,
	}, nil
}

// Name identifies the job in logs and metrics.
func (j *CompactionJob) Name() string { return "db-compaction" }

// Run compacts the store.
func (j *CompactionJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.tombstoneAge)
	if err := j.store.Compact(ctx, cutoff); err != nil {
		return fmt.Errorf("compacting document store: %w", err)
	}
	j.logg.Info(ctx, "database compaction finished")
	return nil
}
