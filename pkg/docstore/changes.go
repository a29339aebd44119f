package docstore

import "sync"

// ChangeOptions configure a change-feed subscription.
type ChangeOptions struct {
	// Since replays committed events with a sequence greater than this
	// value before delivering live events. Use the store's CurrentSeq to
	// subscribe from "now".
	Since int64
	// Live keeps the subscription open for future events. A non-live
	// subscription closes its channel once the replay drains.
	Live bool
	// Filter drops events it returns false for. Nil keeps everything.
	Filter func(ChangeEvent) bool
}

// Subscription is an owned handle on the change feed. Cancel is safe to
// call more than once and must be called on every exit path of the
// consumer.
type Subscription struct {
	feed   *feed
	filter func(ChangeEvent) bool

	mu      sync.Mutex
	queue   []ChangeEvent
	wake    chan struct{}
	done    chan struct{}
	out     chan ChangeEvent
	closing bool

	cancelOnce sync.Once
}

// C delivers change events in commit order.
func (s *Subscription) C() <-chan ChangeEvent { return s.out }

// Cancel detaches the subscription. Idempotent.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() {
		s.feed.detach(s)
		close(s.done)
	})
}

func (s *Subscription) enqueue(ev ChangeEvent) {
	if s.filter != nil && !s.filter(ev) {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// markDraining makes the pump close the out channel once the queue empties.
func (s *Subscription) markDraining() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next *ChangeEvent
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			next = &ev
		}
		closing := s.closing && len(s.queue) == 0 && next == nil
		s.mu.Unlock()

		if closing {
			return
		}
		if next == nil {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- *next:
		case <-s.done:
			return
		}
	}
}

// feed fans committed events out to all attached subscriptions.
type feed struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newFeed() *feed {
	return &feed{subs: make(map[*Subscription]struct{})}
}

func (f *feed) attach(sub *Subscription) {
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
}

func (f *feed) detach(sub *Subscription) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

func (f *feed) publish(ev ChangeEvent) {
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range subs {
		sub.enqueue(ev)
	}
}
