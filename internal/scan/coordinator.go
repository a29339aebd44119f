package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
	"github.com/omarhaddadin/mizan-pos/pkg/logger"
	"github.com/omarhaddadin/mizan-pos/pkg/metrics"
)

// ProductLookup resolves a normalized scan code to a product.
type ProductLookup interface {
	ProductByCode(ctx context.Context, code string) (string, documents.Product, error)
}

// CartSink is the slice of the order book the coordinator feeds.
type CartSink interface {
	EnsureActiveOrder() string
	LockWeights()
	AddProduct(productID string, product documents.Product, quantity int64) error
}

// SyncGate pauses replication while scans are in flight. The
// replication gate satisfies it.
type SyncGate interface {
	SetScanning(active bool)
}

// Params configure the coordinator.
type Params struct {
	Lookup  ProductLookup
	Cart    CartSink
	Gate    SyncGate
	Logger  *logger.Logger
	Metrics *metrics.SyncMetrics

	// OnReject is called when a payload cannot be turned into a cart
	// line: unknown code, quantity limit, lookup failure. Optional.
	OnReject func(code string, err error)

	BurstWindow       time.Duration
	DispatchDelay     time.Duration
	SettleDelay       time.Duration
	InactivityTimeout time.Duration
	BatchSize         int
	CacheCapacity     int
	Now               func() time.Time
}

func (p Params) validate() error {
	if p.Lookup == nil {
		return fmt.Errorf("lookup is required")
	}
	if p.Cart == nil {
		return fmt.Errorf("cart is required")
	}
	if p.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// Coordinator serializes raw scanner payloads through a single
// consumer so two scans of the same product can never interleave their
// cart updates. It also owns the scanning-active gate: raised on the
// first scan of a burst, lowered once the queue drains and a settle
// delay passes, or unconditionally after an inactivity timeout, so a
// crashed consumer can never pause replication forever.
type Coordinator struct {
	lookup   ProductLookup
	cart     CartSink
	gate     SyncGate
	logg     *logger.Logger
	metrics  *metrics.SyncMetrics
	onReject func(code string, err error)
	cache    *productCache
	now      func() time.Time

	burstWindow       time.Duration
	dispatchDelay     time.Duration
	settleDelay       time.Duration
	inactivityTimeout time.Duration
	batchSize         int

	mu          sync.Mutex
	queue       []string
	lastEnqueue time.Time
	burst       bool
	scanning    bool

	wake chan struct{}
}

// NewCoordinator builds the coordinator.
func NewCoordinator(p Params) (*Coordinator, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.BurstWindow <= 0 {
		p.BurstWindow = 400 * time.Millisecond
	}
	if p.DispatchDelay <= 0 {
		p.DispatchDelay = 50 * time.Millisecond
	}
	if p.SettleDelay <= 0 {
		p.SettleDelay = 2 * time.Second
	}
	if p.InactivityTimeout <= 0 {
		p.InactivityTimeout = 10 * time.Second
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 5
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.OnReject == nil {
		p.OnReject = func(string, error) {}
	}
	return &Coordinator{
		lookup:            p.Lookup,
		cart:              p.Cart,
		gate:              p.Gate,
		logg:              p.Logger,
		metrics:           p.Metrics,
		onReject:          p.OnReject,
		cache:             newProductCache(p.CacheCapacity),
		now:               p.Now,
		burstWindow:       p.BurstWindow,
		dispatchDelay:     p.DispatchDelay,
		settleDelay:       p.SettleDelay,
		inactivityTimeout: p.InactivityTimeout,
		batchSize:         p.BatchSize,
		wake:              make(chan struct{}, 1),
	}, nil
}

// Enqueue accepts one raw scanner payload. Safe from any goroutine;
// never blocks.
func (c *Coordinator) Enqueue(raw string) {
	now := c.now()
	c.mu.Lock()
	c.burst = !c.lastEnqueue.IsZero() && now.Sub(c.lastEnqueue) < c.burstWindow
	c.lastEnqueue = now
	c.queue = append(c.queue, raw)
	depth := len(c.queue)
	c.scanning = true
	c.mu.Unlock()

	c.setGate(true)
	c.metrics.SetScanQueueDepth(depth)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Scanning reports whether a burst currently holds the sync gate.
func (c *Coordinator) Scanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanning
}

// QueueDepth reports the number of undispatched payloads.
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// InvalidateProduct drops a product from the scan cache. Wired to the
// change feed so a pulled price update is visible on the next beep.
func (c *Coordinator) InvalidateProduct(productID string) {
	c.cache.invalidate(productID)
}

// Run consumes the queue until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	idle := time.NewTimer(c.inactivityTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			c.release()
			return ctx.Err()
		case <-idle.C:
			// Inactivity backstop: never hold the gate forever.
			c.release()
			idle.Reset(c.inactivityTimeout)
			continue
		case <-c.wake:
		}

		resetTimer(idle, c.inactivityTimeout)
		c.drain(ctx)

		settle := time.NewTimer(c.settleDelay)
		select {
		case <-ctx.Done():
			settle.Stop()
			c.release()
			return ctx.Err()
		case <-c.wake:
			settle.Stop()
			resetTimer(idle, c.inactivityTimeout)
			c.drain(ctx)
			// Try settling again for whatever arrived meanwhile.
			select {
			case c.wake <- struct{}{}:
			default:
			}
		case <-settle.C:
			if c.QueueDepth() == 0 {
				c.release()
			}
		}
	}
}

// drain processes the queue in small batches until it is empty.
func (c *Coordinator) drain(ctx context.Context) {
	for {
		batch, burst := c.pop()
		if len(batch) == 0 {
			return
		}
		if burst {
			// Under sustained burst, a short delay lets the next beeps
			// land in this batch instead of one dispatch each.
			if err := sleepCtx(ctx, c.dispatchDelay); err != nil {
				return
			}
		}
		for _, raw := range batch {
			c.process(ctx, raw)
		}
		c.metrics.SetScanQueueDepth(c.QueueDepth())
	}
}

func (c *Coordinator) pop() ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.queue)
	if n == 0 {
		return nil, false
	}
	if n > c.batchSize {
		n = c.batchSize
	}
	batch := make([]string, n)
	copy(batch, c.queue[:n])
	c.queue = c.queue[n:]
	return batch, c.burst
}

// process turns one payload into a cart mutation.
func (c *Coordinator) process(ctx context.Context, raw string) {
	code := Normalize(raw)
	if code == "" {
		return
	}
	c.cart.EnsureActiveOrder()

	entry, ok := c.cache.get(code)
	if !ok {
		id, product, err := c.lookup.ProductByCode(ctx, code)
		if err != nil {
			if errors.Is(err, errors.CodeNotFound) {
				c.logg.Warn(c.logg.WithField(ctx, "code", code), "scanned code matches no product")
			} else {
				c.logg.Error(c.logg.WithField(ctx, "code", code), "product lookup failed", err)
			}
			c.onReject(code, err)
			return
		}
		entry = cachedProduct{id: id, product: product}
		c.cache.set(code, entry)
	}

	// A new scan commits any line still tracking the scale.
	c.cart.LockWeights()
	if err := c.cart.AddProduct(entry.id, entry.product, 1); err != nil {
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{"code": code, "error": err.Error()}), "scan rejected by cart")
		c.onReject(code, err)
	}
}

// release lowers the scanning gate.
func (c *Coordinator) release() {
	c.mu.Lock()
	c.scanning = false
	c.mu.Unlock()
	c.setGate(false)
}

func (c *Coordinator) setGate(active bool) {
	if c.gate != nil {
		c.gate.SetScanning(active)
	}
	c.metrics.SetScanActive(active)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
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
