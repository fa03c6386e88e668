// Package api provides the HTTP API for observing the simulation and
// managing its snapshots.
// GET endpoints are public (read-only observation).
// POST and DELETE endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CodePapayas/a-life-cs461/internal/autosave"
	"github.com/CodePapayas/a-life-cs461/internal/engine"
	"github.com/CodePapayas/a-life-cs461/internal/history"
	"github.com/CodePapayas/a-life-cs461/internal/metrics"
	"github.com/CodePapayas/a-life-cs461/internal/snapshot"
)

var errSlotNotFound = errors.New("slot not found")

// Server serves the simulation state over HTTP. Every access to the
// simulation or its stores goes through Eng.Do, between ticks.
type Server struct {
	Sim      *engine.Simulation
	Eng      *engine.Engine
	Port     int
	AdminKey string // Bearer token for admin endpoints. Empty = admin disabled.

	// Limits on admin writes, per client.
	RateLimit  float64
	Burst      int
	TrustProxy bool // take the client address from X-Forwarded-For

	srv *http.Server
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	limiter := NewRateLimiter(s.RateLimit, s.Burst)
	limiter.TrustProxy = s.TrustProxy
	limitWrites := func(next http.HandlerFunc) http.HandlerFunc {
		limited := RateLimitMiddleware(limiter, next)
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				next(w, r)
				return
			}
			limited(w, r)
		}
	}

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.Handle("/metrics", metrics.Handler())

	// Mixed endpoints: GET is public, writes need the admin token.
	mux.HandleFunc("/api/v1/saves", s.adminOnly(limitWrites(s.handleSaves)))
	mux.HandleFunc("/api/v1/saves/", s.adminOnly(s.handleSaveDetail))
	mux.HandleFunc("/api/v1/autosave", s.adminOnly(s.handleAutoSave))

	// Admin endpoints.
	mux.HandleFunc("/api/v1/autosave/force", s.adminOnly(limitWrites(s.handleForceAutoSave)))
	mux.HandleFunc("/api/v1/restore", s.adminOnly(s.handleRestore))
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	return mux
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on writes.
// GET requests pass through (for endpoints that support both).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodDelete {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no ALIFE_API_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var st engine.Status
	s.Eng.Do(func() { st = s.Sim.Status() })

	writeJSON(w, map[string]any{
		"status":  st,
		"speed":   s.Eng.Speed(),
		"running": s.Eng.Running(),
	})
}

// handleHistory returns the retained window, or with ?back=k the single
// point k ticks before the newest.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if back := r.URL.Query().Get("back"); back != "" {
		k, err := strconv.Atoi(back)
		if err != nil {
			http.Error(w, "back must be an integer", http.StatusBadRequest)
			return
		}
		var hp snapshot.HistoryPoint
		s.Eng.Do(func() { hp, err = s.Sim.History.Rewind(k) })
		if errors.Is(err, history.ErrIndexOutOfRange) || errors.Is(err, history.ErrEmptyBuffer) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, historyJSON(hp))
		return
	}

	var items []snapshot.HistoryPoint
	var capacity int
	s.Eng.Do(func() {
		items = s.Sim.History.Items()
		capacity = s.Sim.History.Cap()
	})
	out := make([]historyPoint, len(items))
	for i, hp := range items {
		out[i] = historyJSON(hp)
	}
	writeJSON(w, map[string]any{"capacity": capacity, "points": out})
}

func (s *Server) handleSaves(w http.ResponseWriter, r *http.Request) {
	if s.Sim.Saves == nil {
		s.storeOK(w, engine.ErrNoStore)
		return
	}
	switch r.Method {
	case http.MethodGet:
		var list []snapshot.SlotSummary
		var err error
		s.Eng.Do(func() { list, err = s.Sim.Saves.List(r.Context()) })
		if !s.storeOK(w, err) {
			return
		}
		writeJSON(w, summariesJSON(list))

	case http.MethodPost:
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		var id int64
		var tick uint64
		var err error
		s.Eng.Do(func() {
			tick = s.Sim.LastTick
			id, err = s.Sim.SaveManual(r.Context(), req.Name, req.Description)
		})
		if !s.storeOK(w, err) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{"id": id, "slot": req.Name, "tick": tick})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSaveDetail(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/saves/")
	if name == "" {
		http.Error(w, "slot name required", http.StatusBadRequest)
		return
	}
	if s.Sim.Saves == nil {
		s.storeOK(w, engine.ErrNoStore)
		return
	}

	switch r.Method {
	case http.MethodGet:
		var snap *snapshot.Snapshot
		var found bool
		var err error
		s.Eng.Do(func() { snap, found, err = s.Sim.Saves.Load(r.Context(), name) })
		if !s.storeOK(w, err) {
			return
		}
		if !found {
			http.Error(w, errSlotNotFound.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{
			"slot":         snap.SlotName,
			"description":  snap.Description,
			"tick":         snap.Tick,
			"timestamp":    snap.Timestamp,
			"world_width":  snap.WorldWidth,
			"world_height": snap.WorldHeight,
			"total_energy": snap.TotalEnergy,
			"run_id":       snap.RunID,
			"agents":       len(snap.Agents),
			"resources":    len(snap.Resources),
			"history":      len(snap.History),
		})

	case http.MethodDelete:
		var deleted bool
		var err error
		s.Eng.Do(func() { deleted, err = s.Sim.Saves.Delete(r.Context(), name) })
		if !s.storeOK(w, err) {
			return
		}
		if !deleted {
			http.Error(w, errSlotNotFound.Error(), http.StatusNotFound)
			return
		}
		slog.Info("snapshot deleted", "slot", name)
		writeJSON(w, map[string]any{"deleted": name})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAutoSave(w http.ResponseWriter, r *http.Request) {
	if s.Sim.AutoSave == nil {
		http.Error(w, "auto-save not available", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req struct {
			IntervalTicks *uint32 `json:"interval_ticks"`
			MaxAutoSaves  *uint32 `json:"max_auto_saves"`
			Enabled       *bool   `json:"enabled"`
			SlotPrefix    *string `json:"slot_prefix"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		var err error
		s.Eng.Do(func() {
			cfg := s.Sim.AutoSave.Config()
			if req.IntervalTicks != nil {
				cfg.IntervalTicks = *req.IntervalTicks
			}
			if req.MaxAutoSaves != nil {
				cfg.MaxAutoSaves = *req.MaxAutoSaves
			}
			if req.Enabled != nil {
				cfg.Enabled = *req.Enabled
			}
			if req.SlotPrefix != nil {
				cfg.SlotPrefix = *req.SlotPrefix
			}
			err = s.Sim.AutoSave.Configure(r.Context(), cfg)
		})
		if errors.Is(err, autosave.ErrInvalidConfig) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !s.storeOK(w, err) {
			return
		}
		slog.Info("auto-save reconfigured")
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg autosave.Config
	var stats autosave.Stats
	var list []snapshot.SlotSummary
	var err error
	s.Eng.Do(func() {
		cfg = s.Sim.AutoSave.Config()
		stats = s.Sim.AutoSave.Stats()
		list, err = s.Sim.AutoSave.ListAutoSaves(r.Context())
	})
	if !s.storeOK(w, err) {
		return
	}
	writeJSON(w, map[string]any{
		"config": map[string]any{
			"interval_ticks": cfg.IntervalTicks,
			"max_auto_saves": cfg.MaxAutoSaves,
			"enabled":        cfg.Enabled,
			"slot_prefix":    cfg.SlotPrefix,
		},
		"stats": map[string]any{
			"last_auto_save_tick":   stats.LastAutoSaveTick,
			"total_auto_saves_done": stats.TotalAutoSavesDone,
			"current_slot_index":    stats.CurrentSlotIndex,
			"last_save_succeeded":   stats.LastSaveSucceeded,
			"last_error":            stats.LastError,
		},
		"saves": summariesJSON(list),
	})
}

func (s *Server) handleForceAutoSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var id int64
	var tick uint64
	var err error
	s.Eng.Do(func() {
		tick = s.Sim.LastTick
		id, err = s.Sim.ForceAutoSave(r.Context())
	})
	if !s.storeOK(w, err) {
		return
	}
	writeJSON(w, map[string]any{"id": id, "tick": tick, "message": "auto-save written"})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Slot   string `json:"slot"`
		Latest bool   `json:"latest"` // newest auto-save instead of Slot
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Slot == "" && !req.Latest {
		http.Error(w, "slot or latest is required", http.StatusBadRequest)
		return
	}

	err := s.Eng.DoTick(func(uint64) (uint64, error) {
		var ok bool
		var err error
		if req.Latest {
			ok, err = s.Sim.ResumeLatest(r.Context())
		} else {
			ok, err = s.Sim.LoadSlot(r.Context(), req.Slot)
		}
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errSlotNotFound
		}
		return s.Sim.LastTick, nil
	})
	if errors.Is(err, errSlotNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if !s.storeOK(w, err) {
		return
	}
	writeJSON(w, map[string]any{"tick": s.Eng.Tick(), "message": "simulation restored"})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

// storeOK writes an error response for err and reports whether the handler
// may continue.
func (s *Server) storeOK(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, engine.ErrNoStore):
		http.Error(w, "snapshot store not available", http.StatusServiceUnavailable)
	case errors.Is(err, snapshot.ErrEmptySlotName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("snapshot store request failed", "error", err)
		http.Error(w, "snapshot store error", http.StatusInternalServerError)
	}
	return false
}

type slotSummary struct {
	ID            int64     `json:"id"`
	Slot          string    `json:"slot"`
	Description   string    `json:"description"`
	Tick          uint64    `json:"tick"`
	Timestamp     time.Time `json:"timestamp"`
	AgentCount    int       `json:"agent_count"`
	ResourceCount int       `json:"resource_count"`
	TotalEnergy   float64   `json:"total_energy"`
	AvgFitness    float64   `json:"avg_fitness"`
	AutoSave      bool      `json:"auto_save"`
	CreatedAt     time.Time `json:"created_at"`
}

func summariesJSON(list []snapshot.SlotSummary) []slotSummary {
	out := make([]slotSummary, len(list))
	for i, s := range list {
		out[i] = slotSummary{
			ID:            s.ID,
			Slot:          s.SlotName,
			Description:   s.Description,
			Tick:          s.Tick,
			Timestamp:     s.Timestamp,
			AgentCount:    s.AgentCount,
			ResourceCount: s.ResourceCount,
			TotalEnergy:   s.TotalEnergy,
			AvgFitness:    s.AvgFitness,
			AutoSave:      s.IsAutoSave,
			CreatedAt:     s.CreatedAt,
		}
	}
	return out
}

type historyPoint struct {
	Tick           uint64    `json:"tick"`
	Timestamp      time.Time `json:"timestamp"`
	AgentCount     uint32    `json:"agent_count"`
	TotalEnergy    float64   `json:"total_energy"`
	TotalResources uint32    `json:"total_resources"`
	AvgAgentEnergy float64   `json:"avg_agent_energy"`
	AvgFitness     float64   `json:"avg_fitness"`
}

func historyJSON(hp snapshot.HistoryPoint) historyPoint {
	return historyPoint(hp)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
