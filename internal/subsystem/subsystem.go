// Package subsystem implements a generic background-service harness:
// idempotent start/stop/status over named task groups, each with its
// own context.CancelFunc and done channel so a crashing subsystem
// never touches the daemon.
package subsystem

import (
	"context"
	"sync"
	"time"

	"github.com/clud-dev/clud/internal/apperr"
)

// Runner is one subsystem's actual work: Run blocks until ctx is
// cancelled or the subsystem fails on its own. Implementations must
// return promptly once ctx.Done() fires.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFactory constructs a Runner from its start-time config.
type RunnerFactory func(config map[string]any) (Runner, error)

// Status is the snapshot returned by the HTTP mux's status endpoint.
type Status struct {
	Running bool           `json:"running"`
	Details map[string]any `json:"details,omitempty"`
	Err     string         `json:"error,omitempty"`
}

// handle tracks one running subsystem instance.
type handle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// Manager owns every named subsystem's lifecycle. Subsystems never
// share state with each other; the Router (captured by each factory
// when the caller builds the factory table) is the one object they
// have in common.
type Manager struct {
	factories map[string]RunnerFactory

	mu      sync.Mutex
	running map[string]*handle
}

// New creates a Manager. factories maps subsystem name to the
// constructor used on start(name, config).
func New(factories map[string]RunnerFactory) *Manager {
	return &Manager{
		factories: factories,
		running:   make(map[string]*handle),
	}
}

// Start launches name idempotently: if already running, it returns
// without error and alreadyRunning set. The factory is looked up by
// name itself, i.e. name doubles as its own kind — the common case
// for ad hoc starts via the HTTP API.
func (m *Manager) Start(name string, config map[string]any) (alreadyRunning bool, err error) {
	return m.startKind(name, name, config)
}

// startKind launches a running instance identified by name, using the
// RunnerFactory registered under kind. This lets a subsystems.toml
// catalog run more than one named instance of the same kind.
func (m *Manager) startKind(name, kind string, config map[string]any) (alreadyRunning bool, err error) {
	factory, ok := m.factories[kind]
	if !ok {
		return false, apperr.New(apperr.KindNotFound, "unknown subsystem kind "+kind)
	}

	m.mu.Lock()
	if _, ok := m.running[name]; ok {
		m.mu.Unlock()
		return true, nil
	}

	runner, err := factory(config)
	if err != nil {
		m.mu.Unlock()
		return false, apperr.Wrap(apperr.KindValidation, "constructing subsystem "+name, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}
	m.running[name] = h
	m.mu.Unlock()

	go func() {
		defer close(h.done)
		if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
			m.mu.Lock()
			h.lastErr = err
			m.mu.Unlock()
		}
	}()

	return false, nil
}

// Stop halts name idempotently, waiting up to grace for its task
// group to join before returning.
func (m *Manager) Stop(name string, grace time.Duration) (alreadyStopped bool) {
	m.mu.Lock()
	h, ok := m.running[name]
	if ok {
		delete(m.running, name)
	}
	m.mu.Unlock()

	if !ok {
		return true
	}

	h.cancel()
	select {
	case <-h.done:
	case <-time.After(grace):
	}
	return false
}

// Status reports whether name is running and its last error, if any.
func (m *Manager) Status(name string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.running[name]
	if !ok {
		return Status{Running: false}
	}
	st := Status{Running: true}
	if h.lastErr != nil {
		st.Err = h.lastErr.Error()
	}
	return st
}

// StopAll halts every running subsystem, used during daemon shutdown.
func (m *Manager) StopAll(grace time.Duration) {
	m.mu.Lock()
	names := make([]string, 0, len(m.running))
	for name := range m.running {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Stop(name, grace)
	}
}
