package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
	"github.com/omarhaddadin/mizan-pos/pkg/metrics"
)

// State labels the manager's externally visible condition.
type State string

const (
	StateLocalOnly State = "local_only"
	StateIdle      State = "idle"
	StateSyncing   State = "syncing"
	StatePaused    State = "paused"
	StateRetrying  State = "retrying"
)

// Status is the snapshot served by the local API.
type Status struct {
	State      State     `json:"state"`
	Progress   float64   `json:"progress_percent"`
	LastSyncAt time.Time `json:"last_sync_at,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
	Pushed     int64     `json:"docs_pushed"`
	Pulled     int64     `json:"docs_pulled"`
}

// Params configures the manager.
type Params struct {
	Store   *docstore.Store
	Remote  Remote
	Gate    *Gate
	Logger  *logger.Logger
	Metrics *metrics.SyncMetrics

	BatchSize      int
	BackoffInitial time.Duration
	BackoffFactor  float64
	BackoffMax     time.Duration
	PollInterval   time.Duration
	Now            func() time.Time
}

func (p Params) validate() error {
	if p.Store == nil {
		return fmt.Errorf("store is required")
	}
	if p.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// Manager keeps the local store and the remote eventually consistent.
// A nil remote means the terminal runs local-only; Run still starts and
// reports that state instead of failing.
type Manager struct {
	store   *docstore.Store
	remote  Remote
	gate    *Gate
	logg    *logger.Logger
	metrics *metrics.SyncMetrics

	batchSize      int
	backoffInitial time.Duration
	backoffFactor  float64
	backoffMax     time.Duration
	pollInterval   time.Duration
	now            func() time.Time

	progress *progressTracker

	mu         sync.Mutex
	state      State
	lastErr    string
	lastSyncAt time.Time
	pushed     int64
	pulled     int64
	processed  int64
	pushSeq    int64
	pullSeq    string
}

// New builds the manager.
func New(p Params) (*Manager, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 25
	}
	if p.BackoffInitial <= 0 {
		p.BackoffInitial = time.Second
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 1.5
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = time.Minute
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 2 * time.Second
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	state := StateIdle
	if p.Remote == nil {
		state = StateLocalOnly
	}
	return &Manager{
		store:          p.Store,
		remote:         p.Remote,
		gate:           p.Gate,
		logg:           p.Logger,
		metrics:        p.Metrics,
		batchSize:      p.BatchSize,
		backoffInitial: p.BackoffInitial,
		backoffFactor:  p.BackoffFactor,
		backoffMax:     p.BackoffMax,
		pollInterval:   p.PollInterval,
		now:            p.Now,
		progress:       &progressTracker{},
		state:          state,
	}, nil
}

// Status reports the current replication snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:      m.state,
		Progress:   m.progress.current(),
		LastSyncAt: m.lastSyncAt,
		LastError:  m.lastErr,
		Pushed:     m.pushed,
		Pulled:     m.pulled,
	}
}

// Run drives replication until the context is cancelled. Errors back
// off and retry forever; this is a liveness process, not a finite job.
func (m *Manager) Run(ctx context.Context) error {
	if m.remote == nil {
		m.logg.Info(ctx, "no remote configured, running local-only")
		<-ctx.Done()
		return ctx.Err()
	}

	backoff := m.backoffInitial
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if m.gate.Scanning() {
			m.setState(StatePaused, "")
			if err := sleepCtx(ctx, m.pollInterval); err != nil {
				return err
			}
			continue
		}

		err := m.cycle(ctx)
		switch {
		case err == nil:
			backoff = m.backoffInitial
			if err := sleepCtx(ctx, m.pollInterval); err != nil {
				return err
			}
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			m.metrics.IncFailures()
			m.setState(StateRetrying, err.Error())
			m.logg.Error(m.logg.WithField(ctx, "backoff", backoff.String()), "sync cycle failed", err)
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
			backoff = time.Duration(float64(backoff) * m.backoffFactor)
			if backoff > m.backoffMax {
				backoff = m.backoffMax
			}
		}
	}
}

// cycle runs one push pass and one pull pass. Either pass stops early
// when a scan burst raises the gate; the checkpoint only advances past
// documents that were actually handled.
func (m *Manager) cycle(ctx context.Context) error {
	m.setState(StateSyncing, "")

	info, err := m.remote.Info(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.progress.current() >= 100 {
		// Previous session finished; new work starts a new session.
		m.progress.reset()
		m.processed = 0
	}
	m.mu.Unlock()

	pushedAll, err := m.push(ctx)
	if err != nil {
		return err
	}
	pulledAll, err := m.pull(ctx, info)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.lastSyncAt = m.now()
	m.mu.Unlock()

	if pushedAll && pulledAll {
		m.metrics.SetProgress(m.progress.finish())
		m.setState(StateIdle, "")
	}
	return nil
}

// push drains locally committed changes past the checkpoint and uploads
// the ones the filter admits. Returns true when it reached the head.
func (m *Manager) push(ctx context.Context) (bool, error) {
	m.mu.Lock()
	since := m.pushSeq
	m.mu.Unlock()

	sub, err := m.store.Changes(ctx, docstore.ChangeOptions{Since: since})
	if err != nil {
		return false, err
	}
	defer sub.Cancel()

	batch := make([]docstore.Document, 0, m.batchSize)
	var lastSeq int64
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := m.remote.Push(ctx, batch); err != nil {
			return err
		}
		m.mu.Lock()
		m.pushed += int64(len(batch))
		m.processed += int64(len(batch))
		m.mu.Unlock()
		m.metrics.AddPushed(len(batch))
		batch = batch[:0]
		return nil
	}

	for ev := range sub.C() {
		if m.gate.Scanning() {
			// Stop mid-drain; the checkpoint holds at the last flushed
			// document and the next cycle resumes there.
			if err := flush(); err != nil {
				return false, err
			}
			m.commitPushSeq(lastSeq)
			return false, nil
		}
		if allowPush(ev.Doc) {
			batch = append(batch, ev.Doc)
			if len(batch) >= m.batchSize {
				if err := flush(); err != nil {
					return false, err
				}
			}
		}
		lastSeq = ev.Seq
	}
	if err := flush(); err != nil {
		return false, err
	}
	m.commitPushSeq(lastSeq)
	return true, nil
}

func (m *Manager) commitPushSeq(seq int64) {
	if seq == 0 {
		return
	}
	m.mu.Lock()
	if seq > m.pushSeq {
		m.pushSeq = seq
	}
	m.mu.Unlock()
}

// pull applies one page of remote changes at a time until the feed
// drains. Returns true when it reached the remote head.
func (m *Manager) pull(ctx context.Context, info RemoteInfo) (bool, error) {
	for {
		if m.gate.Scanning() {
			return false, nil
		}
		m.mu.Lock()
		since := m.pullSeq
		m.mu.Unlock()

		page, err := m.remote.Pull(ctx, since, m.batchSize)
		if err != nil {
			return false, err
		}
		applied := 0
		for _, change := range page.Changes {
			if !allowPull(change.Doc, m.now()) {
				continue
			}
			if err := m.applyRemote(ctx, change); err != nil {
				return false, err
			}
			applied++
		}

		m.mu.Lock()
		m.pullSeq = page.LastSeq
		m.pulled += int64(applied)
		m.processed += int64(len(page.Changes))
		processed := m.processed
		m.mu.Unlock()
		m.metrics.AddPulled(applied)
		m.metrics.SetProgress(m.progress.observe(processed, info.DocCount))

		if len(page.Changes) == 0 || page.LastSeq == since {
			return true, nil
		}
		if len(page.Changes) < m.batchSize && page.Pending == 0 {
			return true, nil
		}
	}
}

// applyRemote writes one remote change into the local store, adopting
// the local revision so the write is not rejected as stale. A conflict
// racing a local write is skipped; the next cycle reconciles it.
func (m *Manager) applyRemote(ctx context.Context, change PullChange) error {
	doc := change.Doc
	if doc.ID == "" {
		doc.ID = change.ID
	}
	if change.Deleted {
		doc.Deleted = true
	}

	local, err := m.store.Get(ctx, doc.ID)
	switch {
	case err == nil:
		doc.Rev = local.Rev
	case errors.Is(err, errors.CodeNotFound):
		doc.Rev = 0
	default:
		return err
	}

	if doc.Deleted {
		if doc.Rev == 0 {
			return nil
		}
		err = m.store.Remove(ctx, doc)
	} else {
		_, err = m.store.Put(ctx, doc)
	}
	if errors.Is(err, errors.CodeConflict) {
		m.logg.Warn(m.logg.WithDocumentID(ctx, doc.ID), "remote change lost a local race, deferring")
		return nil
	}
	return err
}

func (m *Manager) setState(state State, errMsg string) {
	m.mu.Lock()
	m.state = state
	m.lastErr = errMsg
	m.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
