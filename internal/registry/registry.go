// Package registry implements the agent registry: register/heartbeat/
// stop/list/get over a persisted (agent-id -> state) table, plus a
// background staleness scanner and retention eviction.
package registry

import (
	"sync"
	"time"

	"github.com/clud-dev/clud/internal/apperr"
	"github.com/clud-dev/clud/internal/applog"
	"github.com/clud-dev/clud/internal/store"
	"log"

	"github.com/google/uuid"
)

// Registry guards the persisted registry document with an in-process
// mutex; cross-process exclusion is the store's own flock.
type Registry struct {
	store  *store.RegistryStore
	logger *log.Logger

	staleThreshold time.Duration
	scanInterval   time.Duration
	retention      time.Duration

	mu sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Registry bound to st, with the staleness/retention
// tunables resolved from appconfig.
func New(st *store.RegistryStore, staleThreshold, scanInterval, retention time.Duration, logger *log.Logger) *Registry {
	return &Registry{
		store:          st,
		logger:         logger,
		staleThreshold: staleThreshold,
		scanInterval:   scanInterval,
		retention:      retention,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Register records a new agent, assigning an id if agentID is empty.
func (r *Registry) Register(agentID string, pid int, metadata map[string]string) (store.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.store.Load()
	if err != nil {
		return store.AgentRecord{}, err
	}

	if agentID == "" {
		agentID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec := store.AgentRecord{
		ID:            agentID,
		PID:           pid,
		StartedAt:     now,
		LastHeartbeat: now,
		State:         store.AgentRunning,
		Metadata:      metadata,
	}

	replaced := false
	for i, existing := range doc.Agents {
		if existing.ID == agentID {
			doc.Agents[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Agents = append(doc.Agents, rec)
	}

	if err := r.store.Save(doc); err != nil {
		return store.AgentRecord{}, err
	}
	return rec, nil
}

// Heartbeat refreshes last_heartbeat for agentID. A stale record
// flips back to running; a stopped record is never auto-unstopped.
func (r *Registry) Heartbeat(agentID string) (store.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.store.Load()
	if err != nil {
		return store.AgentRecord{}, err
	}

	idx := findAgent(doc.Agents, agentID)
	if idx < 0 {
		return store.AgentRecord{}, apperr.New(apperr.KindNotFound, "unknown agent "+agentID)
	}

	now := time.Now().UTC()
	doc.Agents[idx].LastHeartbeat = now
	if doc.Agents[idx].State == store.AgentStale {
		doc.Agents[idx].State = store.AgentRunning
	}

	if err := r.store.Save(doc); err != nil {
		return store.AgentRecord{}, err
	}
	return doc.Agents[idx], nil
}

// Stop marks agentID stopped. Stopped records are never auto-revived.
func (r *Registry) Stop(agentID string) (store.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.store.Load()
	if err != nil {
		return store.AgentRecord{}, err
	}

	idx := findAgent(doc.Agents, agentID)
	if idx < 0 {
		return store.AgentRecord{}, apperr.New(apperr.KindNotFound, "unknown agent "+agentID)
	}

	doc.Agents[idx].State = store.AgentStopped
	if err := r.store.Save(doc); err != nil {
		return store.AgentRecord{}, err
	}
	return doc.Agents[idx], nil
}

// List returns every persisted agent record.
func (r *Registry) List() ([]store.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.store.Load()
	if err != nil {
		return nil, err
	}
	return doc.Agents, nil
}

// Get returns a single agent record by id.
func (r *Registry) Get(agentID string) (store.AgentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.store.Load()
	if err != nil {
		return store.AgentRecord{}, err
	}
	idx := findAgent(doc.Agents, agentID)
	if idx < 0 {
		return store.AgentRecord{}, apperr.New(apperr.KindNotFound, "unknown agent "+agentID)
	}
	return doc.Agents[idx], nil
}

func findAgent(agents []store.AgentRecord, id string) int {
	for i, a := range agents {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// Start launches the background staleness/retention scanner. Call
// Stop to halt it during daemon shutdown.
func (r *Registry) Start() {
	go r.scanLoop()
}

// Stop halts the scanner and waits for it to exit.
func (r *Registry) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Registry) scanLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.scanOnce()
		}
	}
}

// scanOnce marks stale any running record past staleThreshold, then
// prunes stopped/stale records older than retention.
func (r *Registry) scanOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.store.Load()
	if err != nil {
		applog.Record(r.logger, "error", "registry", string(apperr.KindOf(err)), "failed loading registry document", map[string]any{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	changed := false

	for i := range doc.Agents {
		a := &doc.Agents[i]
		if a.State == store.AgentRunning && now.Sub(a.LastHeartbeat) > r.staleThreshold {
			a.State = store.AgentStale
			changed = true
		}
	}

	kept := doc.Agents[:0]
	for _, a := range doc.Agents {
		if (a.State == store.AgentStopped || a.State == store.AgentStale) && now.Sub(a.LastHeartbeat) > r.retention {
			changed = true
			continue
		}
		kept = append(kept, a)
	}
	doc.Agents = kept

	if changed {
		if err := r.store.Save(doc); err != nil {
			applog.Record(r.logger, "error", "registry", string(apperr.KindOf(err)), "failed persisting registry document", map[string]any{"error": err.Error()})
		}
	}
}
