// Package engine provides the tick-based simulation loop and the
// orchestrator that checkpoints it.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine drives the simulation forward. Every tick and every Do call run
// under one lock, so callbacks never race with outside readers.
type Engine struct {
	Interval time.Duration // Base tick interval; 0 runs as fast as possible
	MaxTicks uint64        // Stop once Tick reaches this; 0 = unbounded

	// OnTick runs every tick with the new tick number.
	OnTick func(ctx context.Context, tick uint64)

	mu    sync.Mutex
	tick  uint64
	speed float64 // 1.0 = base interval, 0 = paused

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewEngine creates a simulation engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval: time.Second,
		speed:    1.0,
		stop:     make(chan struct{}),
	}
}

// Tick returns the current tick counter.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// SetTick moves the counter, e.g. after restoring a snapshot. It must not be
// called from inside Do or OnTick; use DoTick there.
func (e *Engine) SetTick(t uint64) {
	e.mu.Lock()
	e.tick = t
	e.mu.Unlock()
}

// Speed returns the speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier; 0 pauses.
func (e *Engine) SetSpeed(v float64) {
	e.mu.Lock()
	e.speed = v
	e.mu.Unlock()
}

// Running reports whether Run is active.
func (e *Engine) Running() bool { return e.running.Load() }

// Do runs fn between ticks.
func (e *Engine) Do(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// DoTick runs fn between ticks and sets the counter to what it returns.
func (e *Engine) DoTick(fn func(tick uint64) (uint64, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, err := fn(e.tick)
	if err != nil {
		return err
	}
	e.tick = next
	return nil
}

// Run starts the simulation loop. Blocks until ctx is done, Stop is called
// or MaxTicks is reached.
func (e *Engine) Run(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "tick", e.Tick(), "speed", e.Speed())

	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation engine stopped", "tick", e.Tick(), "reason", ctx.Err())
			return
		case <-e.stop:
			slog.Info("simulation engine stopped", "tick", e.Tick())
			return
		default:
		}

		if e.MaxTicks > 0 && e.Tick() >= e.MaxTicks {
			slog.Info("simulation engine reached tick limit", "tick", e.Tick())
			return
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused; check again shortly.
			e.sleep(ctx, 100*time.Millisecond)
			continue
		}

		start := time.Now()
		e.Step(ctx)

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			e.sleep(ctx, target-elapsed)
		}
	}
}

// Stop halts the simulation loop. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Step advances the simulation by one tick and returns the new tick.
func (e *Engine) Step(ctx context.Context) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tick++
	if e.OnTick != nil {
		e.OnTick(ctx, e.tick)
	}
	return e.tick
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-e.stop:
	}
}
