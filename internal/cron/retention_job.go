package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
	"go.uber.org/multierr"
)

// sweepTypes are the transactional and workflow documents the terminal
// does not need to keep once a day has passed. Master data is never
// swept.
var sweepTypes = []documents.Type{
	documents.TypeOrder,
	documents.TypeLog,
	documents.TypeVoucher,
	documents.TypeInvoice,
	documents.TypeItemMovementReport,
	documents.TypeContainer,
	documents.TypeOffer,
	documents.TypeDeletionRequest,
	documents.TypeBulkDeletion,
	documents.TypeDiscountRequest,
	documents.TypePriceChangeRequest,
	documents.TypeReturnRequest,
}

// RemoteChecker confirms that the remote store holds a document. The
// replication manager's remote satisfies it.
type RemoteChecker interface {
	Get(ctx context.Context, id string) (docstore.Document, error)
}

// RetentionJobParams configure the retention sweep.
type RetentionJobParams struct {
	Store  *docstore.Store
	Remote RemoteChecker
	Logger *logger.Logger
	Now    func() time.Time
}

// RetentionJob deletes transactional documents older than the end of
// the prior calendar day, but only after the remote confirms it holds
// each one. Documents the remote cannot confirm stay on the terminal.
// The tombstones it writes are flagged to stay local so the push filter
// never propagates the deletion.
type RetentionJob struct {
	store  *docstore.Store
	remote RemoteChecker
	logg   *logger.Logger
	now    func() time.Time
}

// NewRetentionJob builds the sweep job. A nil remote is allowed: a
// local-only terminal has nowhere to confirm against, so the sweep
// becomes a no-op rather than an unsafe delete.
func NewRetentionJob(params RetentionJobParams) (*RetentionJob, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &RetentionJob{
		store:  params.Store,
		remote: params.Remote,
		logg:   params.Logger,
		now:    params.Now,
	}, nil
}

// Name identifies the job in logs and metrics.
func (j *RetentionJob) Name() string { return "retention-sweep" }

// Run executes one sweep. Per-document failures are collected, not
// fatal: a single unconfirmable document must not stop the rest of the
// sweep.
func (j *RetentionJob) Run(ctx context.Context) error {
	if j.remote == nil {
		j.logg.Info(ctx, "no remote configured, skipping retention sweep")
		return nil
	}

	cutoff := startOfDay(j.now())
	types := make([]string, 0, len(sweepTypes))
	for _, typ := range sweepTypes {
		types = append(types, string(typ))
	}
	docs, err := j.store.Find(ctx, docstore.Selector{
		Types:         types,
		CreatedBefore: cutoff,
	})
	if err != nil {
		return fmt.Errorf("listing sweep candidates: %w", err)
	}

	var errs error
	swept := 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		confirmed, err := j.remoteHas(ctx, doc.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("confirming %s: %w", doc.ID, err))
			continue
		}
		if !confirmed {
			// The remote never saw this document. Deleting it here would
			// lose the only copy.
			continue
		}
		doc.LocalOnly = true
		if err := j.store.Remove(ctx, doc); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sweeping %s: %w", doc.ID, err))
			continue
		}
		swept++
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(docs),
		"swept":      swept,
	}), "retention sweep finished")
	return errs
}

func (j *RetentionJob) remoteHas(ctx context.Context, id string) (bool, error) {
	_, err := j.remote.Get(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errors.CodeNotFound):
		return false, nil
	default:
		return false, err
	}
}

// startOfDay is the cutoff: everything strictly older than the start of
// the current local day (the end of the prior day) is sweepable.
func startOfDay(now time.Time) time.Time {
	year, month, day := now.Local().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location())
}
