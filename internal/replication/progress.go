package replication

import "sync"

// progressTracker reports replication progress as a percentage that
// never regresses. Until completion is signaled the value is capped at
// 90, because the remote total keeps moving while documents stream; a
// bar that reaches 100 and then finds more work reads as a bug.
type progressTracker struct {
	mu       sync.Mutex
	reported float64
	complete bool
}

const progressCap = 90.0

// observe folds a new processed/total observation into the reported
// percentage and returns the value to publish.
func (p *progressTracker) observe(processed, total int64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.complete {
		return p.reported
	}
	pct := progressCap
	if total > 0 {
		pct = float64(processed) / float64(total) * 100
		if pct > progressCap {
			pct = progressCap
		}
	} else if processed == 0 {
		pct = 0
	}
	if pct > p.reported {
		p.reported = pct
	}
	return p.reported
}

// finish forces the percentage to 100.
func (p *progressTracker) finish() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.complete = true
	p.reported = 100
	return p.reported
}

// reset starts a new sync session. Within a session the percentage is
// monotonic; a fresh session restarts from zero.
func (p *progressTracker) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.complete = false
	p.reported = 0
}

// current returns the last published percentage.
func (p *progressTracker) current() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reported
}
