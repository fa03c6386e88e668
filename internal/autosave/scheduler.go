// Package autosave takes snapshots on a tick cadence into a rotating pool
// of slots. Save failures are recorded in Stats and never stop the caller.
package autosave

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CodePapayas/a-life-cs461/internal/metrics"
	"github.com/CodePapayas/a-life-cs461/internal/persistence"
	"github.com/CodePapayas/a-life-cs461/internal/snapshot"
)

var (
	//go:embed schema_sqlite.sql
	schemaSQLite string
	//go:embed schema_postgres.sql
	schemaPostgres string
)

// ErrInvalidConfig is returned for a configuration that cannot drive a
// schedule.
var ErrInvalidConfig = errors.New("autosave: invalid config")

// Config drives the schedule. It is persisted as a single row so a
// restarted process resumes the same cadence.
type Config struct {
	IntervalTicks uint32
	MaxAutoSaves  uint32
	Enabled       bool
	SlotPrefix    string
}

// DefaultConfig saves every 100 ticks into five rotating slots.
func DefaultConfig() Config {
	return Config{
		IntervalTicks: 100,
		MaxAutoSaves:  5,
		Enabled:       true,
		SlotPrefix:    "autosave",
	}
}

// Validate checks that c can drive a schedule.
func (c Config) Validate() error {
	switch {
	case c.IntervalTicks == 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	case c.MaxAutoSaves == 0:
		return fmt.Errorf("%w: max auto-saves must be positive", ErrInvalidConfig)
	case c.SlotPrefix == "":
		return fmt.Errorf("%w: slot prefix must not be empty", ErrInvalidConfig)
	}
	return nil
}

// Stats describes what the scheduler has done. LastAutoSaveTick survives
// restarts through the config row; the rest is per process.
type Stats struct {
	LastAutoSaveTick   uint64
	TotalAutoSavesDone uint32
	CurrentSlotIndex   uint32
	LastSaveSucceeded  bool
	LastError          string
}

// Scheduler decides when to auto-save and where. It runs on the caller's
// goroutine and is not safe for concurrent use.
type Scheduler struct {
	saves *snapshot.Store
	cfg   Config
	stats Stats
	now   func() time.Time
}

// New applies the config schema and returns a scheduler with default
// settings. When loadStored is set, a persisted config row replaces the
// defaults; a missing or unreadable row leaves them in place.
func New(ctx context.Context, saves *snapshot.Store, loadStored bool) (*Scheduler, error) {
	if saves == nil {
		return nil, errors.New("autosave: nil snapshot store")
	}
	s := &Scheduler{
		saves: saves,
		cfg:   DefaultConfig(),
		stats: Stats{LastSaveSucceeded: true},
		now:   time.Now,
	}

	schema := schemaSQLite
	if saves.DB().Dialect() == persistence.DialectPostgres {
		schema = schemaPostgres
	}
	if err := saves.DB().ApplySchema(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply auto-save schema: %w", err)
	}

	if loadStored {
		if _, err := s.LoadConfig(ctx); err != nil {
			slog.Warn("auto-save config not loaded, using defaults", "error", err)
		}
	}
	return s, nil
}

// Config returns the active configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Enabled reports whether scheduled saves are on.
func (s *Scheduler) Enabled() bool { return s.cfg.Enabled }

// Stats returns a copy of the current statistics.
func (s *Scheduler) Stats() Stats { return s.stats }

// Apply validates cfg and makes it active without persisting it.
func (s *Scheduler) Apply(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

// Configure validates cfg, applies it and persists it.
func (s *Scheduler) Configure(ctx context.Context, cfg Config) error {
	if err := s.Apply(cfg); err != nil {
		return err
	}
	return s.PersistConfig(ctx)
}

// SetEnabled toggles scheduled saves and persists the change.
func (s *Scheduler) SetEnabled(ctx context.Context, enabled bool) error {
	s.cfg.Enabled = enabled
	return s.PersistConfig(ctx)
}

// LoadConfig re-reads the persisted config. It reports false, and changes
// nothing, when no row has been stored yet.
func (s *Scheduler) LoadConfig(ctx context.Context) (bool, error) {
	rows, err := s.saves.DB().Query(ctx, `SELECT interval_ticks, max_auto_saves, enabled,
		slot_prefix, last_auto_save_tick
		FROM auto_save_config ORDER BY id LIMIT 1`)
	if err != nil {
		return false, fmt.Errorf("load auto-save config: %w", err)
	}
	if rows.Len() == 0 {
		return false, nil
	}

	r := rows.Row(0)
	cfg := Config{
		IntervalTicks: uint32(r.Uint64(0)),
		MaxAutoSaves:  uint32(r.Uint64(1)),
		Enabled:       r.Bool(2),
		SlotPrefix:    r.Text(3),
	}
	last := r.Uint64(4)
	if err := r.Err(); err != nil {
		return false, fmt.Errorf("load auto-save config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return false, fmt.Errorf("load auto-save config: %w", err)
	}

	s.cfg = cfg
	s.stats.LastAutoSaveTick = last
	return true, nil
}

// PersistConfig writes the active config and last auto-save tick to the
// singleton row, inserting it the first time.
func (s *Scheduler) PersistConfig(ctx context.Context) error {
	db := s.saves.DB()
	updated := s.now().UnixNano()
	n, err := db.Exec(ctx, `UPDATE auto_save_config
		SET interval_ticks = ?, max_auto_saves = ?, enabled = ?, slot_prefix = ?,
		    last_auto_save_tick = ?, updated_at = ?
		WHERE id = 1`,
		int64(s.cfg.IntervalTicks), int64(s.cfg.MaxAutoSaves), s.cfg.Enabled, s.cfg.SlotPrefix,
		int64(s.stats.LastAutoSaveTick), updated)
	if err != nil {
		return fmt.Errorf("persist auto-save config: %w", err)
	}
	if n > 0 {
		return nil
	}

	_, err = db.Exec(ctx, `INSERT INTO auto_save_config
		(id, interval_ticks, max_auto_saves, enabled, slot_prefix, last_auto_save_tick, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)`,
		int64(s.cfg.IntervalTicks), int64(s.cfg.MaxAutoSaves), s.cfg.Enabled, s.cfg.SlotPrefix,
		int64(s.stats.LastAutoSaveTick), updated)
	if err != nil {
		return fmt.Errorf("persist auto-save config: %w", err)
	}
	return nil
}

// due reports whether currentTick is far enough past the last save. A tick
// behind the last save (after restoring an older snapshot) counts as due.
func (s *Scheduler) due(currentTick uint64) bool {
	if !s.cfg.Enabled {
		return false
	}
	if currentTick < s.stats.LastAutoSaveTick {
		return true
	}
	return currentTick-s.stats.LastAutoSaveTick >= uint64(s.cfg.IntervalTicks)
}

// Tick is called once per simulation tick. When a save is due it calls
// build exactly once, saves the result into the next rotating slot and
// reports true. Failures are recorded in Stats and reported as false.
func (s *Scheduler) Tick(ctx context.Context, currentTick uint64, build func() *snapshot.Snapshot) bool {
	if !s.due(currentTick) {
		return false
	}

	snap := build()
	if snap == nil {
		s.fail(currentTick, errors.New("snapshot builder returned nil"))
		return false
	}
	snap.Tick = currentTick
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.now()
	}

	if _, err := s.save(ctx, snap); err != nil {
		s.fail(currentTick, err)
		return false
	}
	s.succeed(ctx, currentTick)
	return true
}

// ForceSave saves snap into the next rotating slot regardless of the
// interval. The schedule restarts from snap's tick.
func (s *Scheduler) ForceSave(ctx context.Context, snap *snapshot.Snapshot) (int64, error) {
	if snap == nil {
		return 0, errors.New("autosave: nil snapshot")
	}
	id, err := s.save(ctx, snap)
	if err != nil {
		s.fail(snap.Tick, err)
		return 0, err
	}
	s.succeed(ctx, snap.Tick)
	return id, nil
}

func (s *Scheduler) fail(tick uint64, err error) {
	s.stats.LastSaveSucceeded = false
	s.stats.LastError = err.Error()
	slog.Error("auto-save failed", "tick", tick, "error", err)
}

func (s *Scheduler) succeed(ctx context.Context, tick uint64) {
	s.stats.LastAutoSaveTick = tick
	s.stats.LastSaveSucceeded = true
	s.stats.LastError = ""
	metrics.AutoSaveLastTick.Set(float64(tick))

	// The snapshot is already durable; a stale config row only shifts the
	// next cadence after a restart.
	if err := s.PersistConfig(ctx); err != nil {
		slog.Warn("auto-save config not persisted", "tick", tick, "error", err)
	}
}

// nextSlotName picks the slot the next save goes to.
func (s *Scheduler) nextSlotName() string {
	return fmt.Sprintf("%s_%d", s.cfg.SlotPrefix, s.stats.TotalAutoSavesDone%s.cfg.MaxAutoSaves)
}

func (s *Scheduler) save(ctx context.Context, in *snapshot.Snapshot) (int64, error) {
	snap := *in
	snap.SlotName = s.nextSlotName()
	snap.Description = fmt.Sprintf("Auto-save @ tick %d", snap.Tick)
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.now()
	}

	id, err := s.saves.SaveAuto(ctx, &snap)
	if err != nil {
		return 0, err
	}
	s.stats.TotalAutoSavesDone++
	s.stats.CurrentSlotIndex = (s.stats.TotalAutoSavesDone - 1) % s.cfg.MaxAutoSaves

	if err := s.Prune(ctx); err != nil {
		return id, err
	}
	return id, nil
}

// Prune trims the auto-save pool to the configured size.
func (s *Scheduler) Prune(ctx context.Context) error {
	n, err := s.saves.PruneAuto(ctx, int(s.cfg.MaxAutoSaves))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("pruned auto-saves", "removed", n, "keep", s.cfg.MaxAutoSaves)
	}
	return nil
}

// ClearAll deletes every auto-save.
func (s *Scheduler) ClearAll(ctx context.Context) (int64, error) {
	return s.saves.ClearAuto(ctx)
}

// ListAutoSaves returns the auto-saves, newest first.
func (s *Scheduler) ListAutoSaves(ctx context.Context) ([]snapshot.SlotSummary, error) {
	return s.saves.ListAuto(ctx)
}

// LoadLatest loads the most recently created auto-save.
func (s *Scheduler) LoadLatest(ctx context.Context) (*snapshot.Snapshot, bool, error) {
	return s.LoadNthLatest(ctx, 0)
}

// LoadNthLatest loads the n-th most recent auto-save; 0 is the newest.
func (s *Scheduler) LoadNthLatest(ctx context.Context, n int) (*snapshot.Snapshot, bool, error) {
	if n < 0 {
		return nil, false, nil
	}
	slots, err := s.saves.ListAuto(ctx)
	if err != nil {
		return nil, false, err
	}
	if n >= len(slots) {
		return nil, false, nil
	}
	return s.saves.Load(ctx, slots[n].SlotName)
}
