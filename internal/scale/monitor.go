// Package scale consumes the weight stream from the serial-attached
// scale and feeds stable readings into the open cart line. Raw frames
// arrive as text; the numeric weight is extracted and a reading counts
// as stable once two consecutive values agree within 0.002 kg.
package scale

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/omarhaddadin/mizan-pos/pkg/logger"
)

var (
	weightPattern      = regexp.MustCompile(`[-+]?\d*\.?\d+`)
	stabilityTolerance = decimal.RequireFromString("0.002")
)

// WeightSink receives stable readings. The order book satisfies it:
// the weight lands on the newest unlocked scale line, if any.
type WeightSink interface {
	ApplyWeight(weight decimal.Decimal) bool
}

// Params configure the monitor.
type Params struct {
	Readings <-chan string
	Sink     WeightSink
	Logger   *logger.Logger
}

func (p Params) validate() error {
	if p.Readings == nil {
		return fmt.Errorf("readings channel is required")
	}
	if p.Sink == nil {
		return fmt.Errorf("sink is required")
	}
	if p.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	return nil
}

// Monitor tracks the live weight and its stability.
type Monitor struct {
	readings <-chan string
	sink     WeightSink
	logg     *logger.Logger

	mu      sync.Mutex
	weight  decimal.Decimal
	prev    decimal.Decimal
	hasPrev bool
	stable  bool
}

// NewMonitor builds the monitor.
func NewMonitor(p Params) (*Monitor, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Monitor{readings: p.Readings, sink: p.Sink, logg: p.Logger}, nil
}

// Current reports the latest reading and whether it is stable.
func (m *Monitor) Current() (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.weight, m.stable
}

// Run consumes readings until the context is cancelled or the stream
// closes. Stream closure is a normal disconnect, not an error.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-m.readings:
			if !ok {
				m.logg.Info(ctx, "scale stream closed")
				return nil
			}
			m.observe(ctx, raw)
		}
	}
}

func (m *Monitor) observe(ctx context.Context, raw string) {
	weight, ok := parseReading(raw)
	if !ok {
		return
	}

	m.mu.Lock()
	stable := m.hasPrev && weight.Sub(m.prev).Abs().LessThan(stabilityTolerance)
	m.prev = weight
	m.hasPrev = true
	m.weight = weight
	m.stable = stable
	m.mu.Unlock()

	if stable && weight.IsPositive() {
		if m.sink.ApplyWeight(weight) {
			m.logg.Debug(m.logg.WithField(ctx, "weight", weight.String()), "stable weight applied")
		}
	}
}

// parseReading extracts the first numeric token from a raw frame.
// Frames without one (status noise, the ERROR sentinel) are dropped.
func parseReading(raw string) (decimal.Decimal, bool) {
	match := weightPattern.FindString(raw)
	if match == "" {
		return decimal.Decimal{}, false
	}
	weight, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return weight, true
}
