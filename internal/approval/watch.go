package approval

import (
	"context"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
)

// resolver carries the kind-specific effects of one request. Nil hooks
// are no-ops.
type resolver struct {
	requestID string
	markerKey string
	kind      documents.Type
	orderID   string

	onApproved  func(ctx context.Context) error
	onRejected  func(ctx context.Context) error
	onAbandoned func(ctx context.Context) error
}

func (e *Engine) watch(r resolver, since int64) error {
	sub, err := e.store.Changes(context.Background(), docstore.ChangeOptions{
		Since: since,
		Live:  true,
		Filter: func(ev docstore.ChangeEvent) bool {
			return ev.ID == r.requestID
		},
	})
	if err != nil {
		return errors.Wrap(errors.CodeStreamError, err, "subscribing to request changes")
	}

	e.wg.Add(1)
	go e.runWatch(sub, r)
	return nil
}

func (e *Engine) runWatch(sub *docstore.Subscription, r resolver) {
	defer e.wg.Done()
	defer sub.Cancel()

	ctx := context.Background()
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				e.abandon(ctx, r, errors.New(errors.CodeStreamError, "change feed closed before a decision arrived"))
				return
			}
			outcome, terminal := classify(ev)
			if !terminal {
				continue
			}
			if !e.markers.resolve(r.markerKey, r.requestID) {
				// Someone else already resolved this request.
				return
			}
			e.applyOutcome(ctx, r, ev, outcome)
			return
		case <-e.stop:
			e.abandon(ctx, r, errors.New(errors.CodeStreamError, "engine shutting down"))
			return
		}
	}
}

// classify maps a change event to a terminal outcome. A deleted request
// document and an approved status both mean approved: the back office
// signals approval either way.
func classify(ev docstore.ChangeEvent) (Outcome, bool) {
	if ev.Deleted {
		return OutcomeApproved, true
	}
	status := documents.RequestStatus(ev.Doc.Status)
	switch {
	case status == documents.StatusApproved:
		return OutcomeApproved, true
	case status.IsRejection():
		return OutcomeRejected, true
	default:
		return "", false
	}
}

func (e *Engine) applyOutcome(ctx context.Context, r resolver, ev docstore.ChangeEvent, outcome Outcome) {
	logCtx := e.logg.WithOrderID(e.logg.WithDocumentID(ctx, r.requestID), r.orderID)

	var applyErr error
	switch outcome {
	case OutcomeApproved:
		if r.onApproved != nil {
			applyErr = r.onApproved(ctx)
		}
	case OutcomeRejected:
		if r.onRejected != nil {
			applyErr = r.onRejected(ctx)
		}
	}
	if applyErr != nil {
		e.logg.Error(logCtx, "applying approval outcome", applyErr)
	} else {
		e.logg.Info(logCtx, "approval request resolved: "+string(outcome))
	}

	// Resolved requests do not linger; remove the document unless the
	// decision already arrived as a deletion.
	if !ev.Deleted {
		if err := e.store.Remove(ctx, ev.Doc); err != nil && !errors.Is(err, errors.CodeNotFound) {
			e.logg.Warn(e.logg.WithField(logCtx, "error", err.Error()), "removing resolved request document")
		}
	}

	e.notify(Resolution{
		RequestID: r.requestID,
		Kind:      r.kind,
		OrderID:   r.orderID,
		Outcome:   outcome,
		Err:       applyErr,
	})
}

// abandon resolves a request that will never receive a decision. The
// marker is released so the operator can raise the request again, and
// no retry is attempted.
func (e *Engine) abandon(ctx context.Context, r resolver, cause error) {
	if !e.markers.resolve(r.markerKey, r.requestID) {
		return
	}
	var applyErr error
	if r.onAbandoned != nil {
		applyErr = r.onAbandoned(ctx)
	}
	logCtx := e.logg.WithOrderID(e.logg.WithDocumentID(ctx, r.requestID), r.orderID)
	e.logg.Error(logCtx, "approval request abandoned", cause)
	if applyErr != nil {
		e.logg.Error(logCtx, "rolling back abandoned request", applyErr)
	}
	e.notify(Resolution{
		RequestID: r.requestID,
		Kind:      r.kind,
		OrderID:   r.orderID,
		Outcome:   OutcomeAbandoned,
		Err:       cause,
	})
}
