package snapshot

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/CodePapayas/a-life-cs461/internal/metrics"
	"github.com/CodePapayas/a-life-cs461/internal/persistence"
)

// SchemaVersion is the layout version this package reads and writes.
const SchemaVersion = 1

var (
	//go:embed schema_sqlite.sql
	schemaSQLite string
	//go:embed schema_postgres.sql
	schemaPostgres string
)

var (
	ErrEmptySlotName       = errors.New("snapshot: slot name is empty")
	ErrInvalidResourceType = errors.New("snapshot: invalid resource type")
	// ErrOutOfRange is returned for counters that do not fit a signed
	// 64-bit column.
	ErrOutOfRange = errors.New("snapshot: value exceeds storable range")
)

// Store saves and loads snapshots. It owns its persistence.Store and, like
// it, is not safe for concurrent use.
type Store struct {
	db       persistence.Store
	compress bool
	now      func() time.Time

	// lastCreated keeps created_at strictly increasing within the process
	// so listing order follows save order even on a coarse clock.
	lastCreated int64
}

// Option configures a Store.
type Option func(*Store)

// WithCompression selects whether new saves compress genomes. Slots written
// either way stay readable.
func WithCompression(on bool) Option {
	return func(s *Store) { s.compress = on }
}

// WithClock replaces the wall clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New applies the snapshot schema to db and returns a Store over it.
// Compression is on unless disabled with WithCompression.
func New(ctx context.Context, db persistence.Store, opts ...Option) (*Store, error) {
	s := &Store{db: db, compress: true, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	schema, err := schemaFor(db.Dialect())
	if err != nil {
		return nil, err
	}
	if err := db.ApplySchema(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply snapshot schema: %w", err)
	}

	rows, err := db.Query(ctx, "SELECT value FROM schema_meta WHERE key = ?", "snapshot_schema_version")
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	if rows.Len() == 1 {
		v, err := strconv.Atoi(rows.Text(0, 0))
		if err != nil {
			return nil, fmt.Errorf("read schema version: %w", err)
		}
		if v > SchemaVersion {
			return nil, fmt.Errorf("snapshot: database schema version %d is newer than supported %d", v, SchemaVersion)
		}
	}

	rows, err = db.Query(ctx, "SELECT COALESCE(MAX(created_at), 0) FROM snapshot_slots")
	if err != nil {
		return nil, fmt.Errorf("read last created: %w", err)
	}
	row := rows.Row(0)
	s.lastCreated = row.Int64(0)
	if err := row.Err(); err != nil {
		return nil, err
	}

	return s, nil
}

func schemaFor(d persistence.Dialect) (string, error) {
	switch d {
	case persistence.DialectSQLite:
		return schemaSQLite, nil
	case persistence.DialectPostgres:
		return schemaPostgres, nil
	default:
		return "", fmt.Errorf("snapshot: no schema for dialect %q", d)
	}
}

// DB returns the underlying store so sibling components can share the
// connection.
func (s *Store) DB() persistence.Store { return s.db }

// Compressing reports whether new saves compress genomes.
func (s *Store) Compressing() bool { return s.compress }

func (s *Store) nextCreated() int64 {
	n := s.now().UnixNano()
	if n <= s.lastCreated {
		n = s.lastCreated + 1
	}
	s.lastCreated = n
	return n
}

// Save writes snap as a manual save and returns its slot id. Any existing
// snapshot with the same slot name is replaced.
func (s *Store) Save(ctx context.Context, snap *Snapshot) (int64, error) {
	return s.save(ctx, snap, false)
}

// SaveAuto writes snap flagged as an auto-save.
func (s *Store) SaveAuto(ctx context.Context, snap *Snapshot) (int64, error) {
	return s.save(ctx, snap, true)
}

func (s *Store) save(ctx context.Context, snap *Snapshot, auto bool) (int64, error) {
	kind := "manual"
	if auto {
		kind = "auto"
	}
	start := time.Now()
	id, err := s.write(ctx, snap, auto)
	metrics.SnapshotSaves.WithLabelValues(kind, metrics.Result(err)).Inc()
	if err != nil {
		return 0, err
	}
	metrics.SnapshotSaveDuration.Observe(time.Since(start).Seconds())

	slog.Info("snapshot saved",
		"slot", snap.SlotName,
		"id", id,
		"tick", snap.Tick,
		"agents", len(snap.Agents),
		"resources", len(snap.Resources),
		"auto", auto,
		"elapsed", time.Since(start),
	)
	return id, nil
}

// checkRange rejects unsigned counters that would wrap negative in an
// INTEGER/BIGINT column and then fail to load.
func checkRange(snap *Snapshot) error {
	const limit = math.MaxInt64
	if snap.Tick > limit {
		return fmt.Errorf("%w: tick %d", ErrOutOfRange, snap.Tick)
	}
	for _, a := range snap.Agents {
		if a.AgentID > limit || a.Age > limit {
			return fmt.Errorf("%w: agent %d age %d", ErrOutOfRange, a.AgentID, a.Age)
		}
	}
	for _, r := range snap.Resources {
		if r.ResourceID > limit {
			return fmt.Errorf("%w: resource %d", ErrOutOfRange, r.ResourceID)
		}
	}
	for _, h := range snap.History {
		if h.Tick > limit {
			return fmt.Errorf("%w: history tick %d", ErrOutOfRange, h.Tick)
		}
	}
	return nil
}

func (s *Store) write(ctx context.Context, snap *Snapshot, auto bool) (int64, error) {
	if snap == nil {
		return 0, errors.New("snapshot: nil snapshot")
	}
	if snap.SlotName == "" {
		return 0, ErrEmptySlotName
	}
	if err := checkRange(snap); err != nil {
		return 0, err
	}
	for _, r := range snap.Resources {
		if !r.Type.Valid() {
			return 0, fmt.Errorf("%w: resource %d has type %d", ErrInvalidResourceType, r.ResourceID, int(r.Type))
		}
	}

	format := FormatRaw
	if s.compress {
		format = FormatZlib
	}

	// Encode before opening the transaction so a bad genome never leaves a
	// transaction half done.
	genomes := make([][]byte, len(snap.Agents))
	hints := make([]int, len(snap.Agents))
	for i, a := range snap.Agents {
		g, hint, err := encodeGenome(a.Genome, format)
		if err != nil {
			return 0, fmt.Errorf("agent %d: %w", a.AgentID, err)
		}
		genomes[i], hints[i] = g, hint
	}

	extra, err := json.Marshal(environmentExtra{RunID: snap.RunID})
	if err != nil {
		return 0, fmt.Errorf("encode environment extra: %w", err)
	}

	var slotID int64
	err = persistence.WithTx(ctx, s.db, func(tx persistence.Tx) error {
		// Child rows go with the slot through ON DELETE CASCADE.
		if _, err := tx.Exec(ctx, "DELETE FROM snapshot_slots WHERE slot_name = ?", snap.SlotName); err != nil {
			return fmt.Errorf("delete previous slot: %w", err)
		}

		rows, err := tx.Query(ctx, `INSERT INTO snapshot_slots
			(slot_name, description, tick, real_timestamp, agent_count, resource_count,
			 total_energy, avg_fitness, is_auto_save, genome_format, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			snap.SlotName, snap.Description, int64(snap.Tick), unixNano(snap.Timestamp),
			int64(len(snap.Agents)), int64(len(snap.Resources)),
			resourceEnergy(snap.Resources), meanFitness(snap.Agents),
			auto, format, s.nextCreated())
		if err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
		if rows.Len() != 1 {
			return fmt.Errorf("insert slot: expected 1 id, got %d rows", rows.Len())
		}
		idRow := rows.Row(0)
		slotID = idRow.Int64(0)
		if err := idRow.Err(); err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}

		for i, a := range snap.Agents {
			_, err := tx.Exec(ctx, `INSERT INTO snapshot_agents
				(slot_id, agent_id, pos_x, pos_y, energy, max_energy, age,
				 energy_gained, energy_spent, offspring_count, fitness, genome, genome_length)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				slotID, int64(a.AgentID), int64(a.Position.X), int64(a.Position.Y),
				a.Energy, a.MaxEnergy, int64(a.Age), a.EnergyGained, a.EnergySpent,
				int64(a.OffspringCount), a.Fitness, genomes[i], int64(hints[i]))
			if err != nil {
				return fmt.Errorf("insert agent %d: %w", a.AgentID, err)
			}
		}

		for _, r := range snap.Resources {
			_, err := tx.Exec(ctx, `INSERT INTO snapshot_resources
				(slot_id, resource_id, pos_x, pos_y, resource_type,
				 current_energy, max_energy, renewable, regen_rate)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				slotID, int64(r.ResourceID), int64(r.Position.X), int64(r.Position.Y),
				int64(r.Type), r.CurrentEnergy, r.MaxEnergy, r.Renewable, r.RegenRate)
			if err != nil {
				return fmt.Errorf("insert resource %d: %w", r.ResourceID, err)
			}
		}

		_, err = tx.Exec(ctx, `INSERT INTO snapshot_environment
			(slot_id, world_width, world_height, total_energy, extra)
			VALUES (?, ?, ?, ?, ?)`,
			slotID, int64(snap.WorldWidth), int64(snap.WorldHeight), snap.TotalEnergy, string(extra))
		if err != nil {
			return fmt.Errorf("insert environment: %w", err)
		}

		for _, h := range snap.History {
			_, err := tx.Exec(ctx, `INSERT INTO snapshot_history
				(slot_id, tick, real_timestamp, agent_count, total_energy,
				 total_resources, avg_agent_energy, avg_fitness)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				slotID, int64(h.Tick), unixNano(h.Timestamp), int64(h.AgentCount), h.TotalEnergy,
				int64(h.TotalResources), h.AvgAgentEnergy, h.AvgFitness)
			if err != nil {
				return fmt.Errorf("insert history tick %d: %w", h.Tick, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("save snapshot %q: %w", snap.SlotName, err)
	}
	return slotID, nil
}

type environmentExtra struct {
	RunID string `json:"run_id,omitempty"`
}

// Load reads the snapshot stored under slotName. A missing slot returns
// (nil, false, nil).
func (s *Store) Load(ctx context.Context, slotName string) (*Snapshot, bool, error) {
	var snap *Snapshot
	err := persistence.WithTx(ctx, s.db, func(tx persistence.Tx) error {
		var err error
		snap, err = s.read(ctx, tx, slotName)
		return err
	})
	switch {
	case err != nil:
		metrics.SnapshotLoads.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("load snapshot %q: %w", slotName, err)
	case snap == nil:
		metrics.SnapshotLoads.WithLabelValues("missing").Inc()
		return nil, false, nil
	}
	metrics.SnapshotLoads.WithLabelValues("ok").Inc()
	return snap, true, nil
}

func (s *Store) read(ctx context.Context, tx persistence.Tx, slotName string) (*Snapshot, error) {
	rows, err := tx.Query(ctx, `SELECT id, slot_name, description, tick, real_timestamp,
		total_energy, genome_format
		FROM snapshot_slots WHERE slot_name = ?`, slotName)
	if err != nil {
		return nil, err
	}
	if rows.Len() == 0 {
		return nil, nil
	}

	r := rows.Row(0)
	slotID := r.Int64(0)
	snap := &Snapshot{
		SlotName:    r.Text(1),
		Description: r.Text(2),
		Tick:        r.Uint64(3),
		Timestamp:   fromUnixNano(r.Int64(4)),
		TotalEnergy: r.Float64(5),
	}
	format := r.Text(6)
	if err := r.Err(); err != nil {
		return nil, err
	}

	if err := readEnvironment(ctx, tx, slotID, snap); err != nil {
		return nil, err
	}
	if snap.Agents, err = readAgents(ctx, tx, slotID, format); err != nil {
		return nil, err
	}
	if snap.Resources, err = readResources(ctx, tx, slotID); err != nil {
		return nil, err
	}
	if snap.History, err = readHistory(ctx, tx, slotID); err != nil {
		return nil, err
	}
	return snap, nil
}

// readEnvironment fills the world fields; the environment row's total
// energy takes precedence over the slot summary.
func readEnvironment(ctx context.Context, tx persistence.Tx, slotID int64, snap *Snapshot) error {
	rows, err := tx.Query(ctx, `SELECT world_width, world_height, total_energy, extra
		FROM snapshot_environment WHERE slot_id = ?`, slotID)
	if err != nil {
		return err
	}
	if rows.Len() == 0 {
		return nil
	}
	r := rows.Row(0)
	snap.WorldWidth = int32(r.Int64(0))
	snap.WorldHeight = int32(r.Int64(1))
	snap.TotalEnergy = r.Float64(2)
	extra := r.Text(3)
	if err := r.Err(); err != nil {
		return err
	}
	if extra != "" {
		var e environmentExtra
		if err := json.Unmarshal([]byte(extra), &e); err != nil {
			return fmt.Errorf("decode environment extra: %w", err)
		}
		snap.RunID = e.RunID
	}
	return nil
}

func readAgents(ctx context.Context, tx persistence.Tx, slotID int64, format string) ([]AgentRecord, error) {
	rows, err := tx.Query(ctx, `SELECT agent_id, pos_x, pos_y, energy, max_energy, age,
		energy_gained, energy_spent, offspring_count, fitness, genome, genome_length
		FROM snapshot_agents WHERE slot_id = ? ORDER BY id`, slotID)
	if err != nil {
		return nil, err
	}
	out := make([]AgentRecord, rows.Len())
	for i := range out {
		r := rows.Row(i)
		a := AgentRecord{
			AgentID:        r.Uint64(0),
			Position:       Position{X: int32(r.Int64(1)), Y: int32(r.Int64(2))},
			Energy:         r.Float64(3),
			MaxEnergy:      r.Float64(4),
			Age:            r.Uint64(5),
			EnergyGained:   r.Float64(6),
			EnergySpent:    r.Float64(7),
			OffspringCount: uint32(r.Uint64(8)),
			Fitness:        r.Float64(9),
		}
		stored := r.Bytes(10)
		hint := int(r.Int64(11))
		if err := r.Err(); err != nil {
			return nil, err
		}
		if a.Genome, err = decodeGenome(stored, hint, format); err != nil {
			return nil, fmt.Errorf("agent %d genome: %w", a.AgentID, err)
		}
		out[i] = a
	}
	return out, nil
}

func readResources(ctx context.Context, tx persistence.Tx, slotID int64) ([]ResourceRecord, error) {
	rows, err := tx.Query(ctx, `SELECT resource_id, pos_x, pos_y, resource_type,
		current_energy, max_energy, renewable, regen_rate
		FROM snapshot_resources WHERE slot_id = ? ORDER BY id`, slotID)
	if err != nil {
		return nil, err
	}
	out := make([]ResourceRecord, rows.Len())
	for i := range out {
		r := rows.Row(i)
		out[i] = ResourceRecord{
			ResourceID:    r.Uint64(0),
			Position:      Position{X: int32(r.Int64(1)), Y: int32(r.Int64(2))},
			Type:          ResourceType(r.Int64(3)),
			CurrentEnergy: r.Float64(4),
			MaxEnergy:     r.Float64(5),
			Renewable:     r.Bool(6),
			RegenRate:     r.Float64(7),
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
		if !out[i].Type.Valid() {
			return nil, fmt.Errorf("%w: resource %d has type %d", ErrInvalidResourceType, out[i].ResourceID, int(out[i].Type))
		}
	}
	return out, nil
}

func readHistory(ctx context.Context, tx persistence.Tx, slotID int64) ([]HistoryPoint, error) {
	rows, err := tx.Query(ctx, `SELECT tick, real_timestamp, agent_count, total_energy,
		total_resources, avg_agent_energy, avg_fitness
		FROM snapshot_history WHERE slot_id = ? ORDER BY id`, slotID)
	if err != nil {
		return nil, err
	}
	if rows.Len() == 0 {
		return nil, nil
	}
	out := make([]HistoryPoint, rows.Len())
	for i := range out {
		r := rows.Row(i)
		out[i] = HistoryPoint{
			Tick:           r.Uint64(0),
			Timestamp:      fromUnixNano(r.Int64(1)),
			AgentCount:     uint32(r.Uint64(2)),
			TotalEnergy:    r.Float64(3),
			TotalResources: uint32(r.Uint64(4)),
			AvgAgentEnergy: r.Float64(5),
			AvgFitness:     r.Float64(6),
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Delete removes the snapshot stored under slotName and reports whether
// one existed.
func (s *Store) Delete(ctx context.Context, slotName string) (bool, error) {
	n, err := s.db.Exec(ctx, "DELETE FROM snapshot_slots WHERE slot_name = ?", slotName)
	if err != nil {
		return false, fmt.Errorf("delete snapshot %q: %w", slotName, err)
	}
	return n > 0, nil
}

// Exists reports whether a snapshot is stored under slotName.
func (s *Store) Exists(ctx context.Context, slotName string) (bool, error) {
	rows, err := s.db.Query(ctx, "SELECT 1 FROM snapshot_slots WHERE slot_name = ?", slotName)
	if err != nil {
		return false, fmt.Errorf("check slot %q: %w", slotName, err)
	}
	return rows.Len() > 0, nil
}

const summaryColumns = `SELECT id, slot_name, description, tick, real_timestamp, agent_count,
	resource_count, total_energy, avg_fitness, is_auto_save, created_at
	FROM snapshot_slots`

// List returns every stored snapshot, newest first.
func (s *Store) List(ctx context.Context) ([]SlotSummary, error) {
	rows, err := s.db.Query(ctx, summaryColumns+" ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return summaries(rows)
}

// ListAuto returns the auto-saves, newest first.
func (s *Store) ListAuto(ctx context.Context) ([]SlotSummary, error) {
	rows, err := s.db.Query(ctx, summaryColumns+" WHERE is_auto_save = ? ORDER BY created_at DESC, id DESC", true)
	if err != nil {
		return nil, fmt.Errorf("list auto-saves: %w", err)
	}
	return summaries(rows)
}

func summaries(rows *persistence.Rows) ([]SlotSummary, error) {
	out := make([]SlotSummary, rows.Len())
	for i := range out {
		r := rows.Row(i)
		out[i] = SlotSummary{
			ID:            r.Int64(0),
			SlotName:      r.Text(1),
			Description:   r.Text(2),
			Tick:          r.Uint64(3),
			Timestamp:     fromUnixNano(r.Int64(4)),
			AgentCount:    int(r.Int64(5)),
			ResourceCount: int(r.Int64(6)),
			TotalEnergy:   r.Float64(7),
			AvgFitness:    r.Float64(8),
			IsAutoSave:    r.Bool(9),
			CreatedAt:     fromUnixNano(r.Int64(10)),
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PruneAuto deletes every auto-save except the keep most recently created
// and returns how many were removed.
func (s *Store) PruneAuto(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, fmt.Errorf("snapshot: prune keep must be positive, got %d", keep)
	}
	n, err := s.db.Exec(ctx, `DELETE FROM snapshot_slots
		WHERE is_auto_save = ? AND id NOT IN (
			SELECT id FROM snapshot_slots WHERE is_auto_save = ?
			ORDER BY created_at DESC, id DESC LIMIT ?)`,
		true, true, int64(keep))
	if err != nil {
		return 0, fmt.Errorf("prune auto-saves: %w", err)
	}
	return n, nil
}

// ClearAuto deletes every auto-save.
func (s *Store) ClearAuto(ctx context.Context) (int64, error) {
	n, err := s.db.Exec(ctx, "DELETE FROM snapshot_slots WHERE is_auto_save = ?", true)
	if err != nil {
		return 0, fmt.Errorf("clear auto-saves: %w", err)
	}
	return n, nil
}
