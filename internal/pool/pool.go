// Package pool implements the instance pool: a session-id-keyed map of
// live instance.Instance values, with capacity enforcement, idle
// eviction, and a background sweeper built on a sync.RWMutex-guarded
// map plus a ticker goroutine.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/clud-dev/clud/internal/apperr"
	"github.com/clud-dev/clud/internal/instance"
)

// Pool owns every live Instance, keyed by session id.
type Pool struct {
	maxInstances   int
	idleTimeout    time.Duration
	sweepInterval  time.Duration
	terminateGrace time.Duration

	mu        sync.RWMutex
	instances map[string]*instance.Instance

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Config holds the pool's tunables.
type Config struct {
	MaxInstances   int
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	TerminateGrace time.Duration
}

// New creates a Pool and starts its background sweeper goroutine.
// Call Stop to shut the sweeper down during daemon shutdown.
func New(cfg Config) *Pool {
	p := &Pool{
		maxInstances:   cfg.MaxInstances,
		idleTimeout:    cfg.IdleTimeout,
		sweepInterval:  cfg.SweepInterval,
		terminateGrace: cfg.TerminateGrace,
		instances:      make(map[string]*instance.Instance),
		stopCh:         make(chan struct{}),
	}
	p.wg.Add(1)
	go p.sweepLoop()
	return p
}

// Acquire returns the existing Instance for sessionID, or spawns a new
// one via factory. If the pool is at capacity, it evicts the Instance
// with the oldest LastUsedAt that is not busy; if none are evictable,
// it returns a PoolSaturated error.
func (p *Pool) Acquire(ctx context.Context, sessionID string, factory instance.Factory, publisher instance.Publisher) (*instance.Instance, error) {
	p.mu.Lock()
	if inst, ok := p.instances[sessionID]; ok && inst.State() != instance.StateGone {
		p.mu.Unlock()
		return inst, nil
	}

	if len(p.instances) >= p.maxInstances {
		if victim, ok := p.oldestEvictableLocked(); ok {
			victimInst := p.instances[victim]
			delete(p.instances, victim)
			p.mu.Unlock()
			if victimInst != nil {
				victimInst.Terminate(p.terminateGrace)
			}
			p.mu.Lock()
		} else {
			p.mu.Unlock()
			return nil, apperr.New(apperr.KindPoolSaturated, "instance pool at capacity").
				WithContext(map[string]any{"max_instances": p.maxInstances})
		}
	}
	p.mu.Unlock()

	inst, err := instance.Start(ctx, sessionID, factory, publisher)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.instances[sessionID] = inst
	p.mu.Unlock()
	return inst, nil
}

// oldestEvictableLocked finds the non-busy Instance with the oldest
// LastUsedAt. Caller must hold p.mu.
func (p *Pool) oldestEvictableLocked() (string, bool) {
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for id, inst := range p.instances {
		if inst.State() == instance.StateBusy {
			continue
		}
		lu := inst.LastUsedAt()
		if !found || lu.Before(oldest) {
			victim, oldest, found = id, lu, true
		}
	}
	return victim, found
}

// Release marks sessionID's Instance idle and refreshes its
// LastUsedAt. A no-op if the session has no live Instance.
func (p *Pool) Release(sessionID string) {
	p.mu.RLock()
	inst, ok := p.instances[sessionID]
	p.mu.RUnlock()
	if ok {
		inst.MarkIdle()
	}
}

// Drop terminates and removes sessionID's Instance, if any.
func (p *Pool) Drop(sessionID string) {
	p.mu.Lock()
	inst, ok := p.instances[sessionID]
	delete(p.instances, sessionID)
	p.mu.Unlock()
	if ok {
		inst.Terminate(p.terminateGrace)
	}
}

// Get returns the live Instance for sessionID, if any.
func (p *Pool) Get(sessionID string) (*instance.Instance, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	inst, ok := p.instances[sessionID]
	return inst, ok
}

// Len returns the number of Instances currently tracked, including
// ones pending sweep removal.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.instances)
}

// Stop halts the background sweeper. It does not terminate live
// Instances; callers terminate those explicitly via TerminateAll during
// shutdown.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// TerminateAll sends a terminate signal to every live Instance and
// waits (bounded by grace, per Instance) for it to exit. Called during
// daemon shutdown so no agent subprocess is left orphaned.
func (p *Pool) TerminateAll(grace time.Duration) {
	p.mu.Lock()
	live := make([]*instance.Instance, 0, len(p.instances))
	for id, inst := range p.instances {
		live = append(live, inst)
		delete(p.instances, id)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range live {
		wg.Add(1)
		go func(inst *instance.Instance) {
			defer wg.Done()
			inst.Terminate(grace)
		}(inst)
	}
	wg.Wait()
}

func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweepOnce()
		}
	}
}

// sweepOnce terminates and removes every idle Instance whose
// LastUsedAt+idleTimeout has passed.
func (p *Pool) sweepOnce() {
	now := time.Now()

	p.mu.Lock()
	toTerminate := make([]*instance.Instance, 0)
	for id, inst := range p.instances {
		if inst.State() != instance.StateIdle {
			continue
		}
		if inst.LastUsedAt().Add(p.idleTimeout).Before(now) {
			toTerminate = append(toTerminate, inst)
			delete(p.instances, id)
		}
	}
	p.mu.Unlock()

	for _, inst := range toTerminate {
		inst.Terminate(p.terminateGrace)
	}
}
