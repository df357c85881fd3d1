package registry

import (
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/clud-dev/clud/internal/store"
)

func newTestRegistry(t *testing.T, staleThreshold, scanInterval, retention time.Duration) *Registry {
	t.Helper()
	st := store.NewRegistryStore(filepath.Join(t.TempDir(), "registry.json"))
	logger := log.New(io.Discard, "", 0)
	return New(st, staleThreshold, scanInterval, retention, logger)
}

func TestRegisterAssignsIDAndRunningState(t *testing.T) {
	r := newTestRegistry(t, time.Minute, time.Hour, 24*time.Hour)

	rec, err := r.Register("", 1234, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Fatal("expected an assigned id")
	}
	if rec.State != store.AgentRunning {
		t.Fatalf("state = %v, want running", rec.State)
	}
}

func TestHeartbeatRefreshesTimestamp(t *testing.T) {
	r := newTestRegistry(t, time.Minute, time.Hour, 24*time.Hour)
	rec, _ := r.Register("agent-1", 1, nil)

	time.Sleep(2 * time.Millisecond)
	updated, err := r.Heartbeat("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if !updated.LastHeartbeat.After(rec.LastHeartbeat) {
		t.Fatal("expected last_heartbeat to advance")
	}
}

func TestHeartbeatUnknownAgentReturnsNotFound(t *testing.T) {
	r := newTestRegistry(t, time.Minute, time.Hour, 24*time.Hour)
	if _, err := r.Heartbeat("ghost"); err == nil {
		t.Fatal("expected NotFound error")
	}
}

func TestStopSetsStoppedAndIsNeverAutoRevived(t *testing.T) {
	r := newTestRegistry(t, time.Millisecond, time.Hour, 24*time.Hour)
	r.Register("agent-1", 1, nil)

	if _, err := r.Stop("agent-1"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(5 * time.Millisecond)
	r.scanOnce()

	rec, err := r.Get("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != store.AgentStopped {
		t.Fatalf("state = %v, want stopped (never auto-revived)", rec.State)
	}
}

func TestStalenessTransitionAndRecovery(t *testing.T) {
	r := newTestRegistry(t, 10*time.Millisecond, time.Hour, 24*time.Hour)
	r.Register("agent-1", 1, nil)

	// Force last_heartbeat into the past beyond the stale threshold.
	doc, _ := r.store.Load()
	doc.Agents[0].LastHeartbeat = time.Now().Add(-50 * time.Millisecond)
	r.store.Save(doc)

	r.scanOnce()

	rec, err := r.Get("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != store.AgentStale {
		t.Fatalf("state = %v, want stale", rec.State)
	}

	recovered, err := r.Heartbeat("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if recovered.State != store.AgentRunning {
		t.Fatalf("state = %v, want running after heartbeat", recovered.State)
	}
}

func TestRetentionPrunesOldStoppedRecords(t *testing.T) {
	r := newTestRegistry(t, time.Hour, time.Hour, 10*time.Millisecond)
	r.Register("agent-1", 1, nil)
	r.Stop("agent-1")

	doc, _ := r.store.Load()
	doc.Agents[0].LastHeartbeat = time.Now().Add(-time.Second)
	r.store.Save(doc)

	r.scanOnce()

	agents, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(agents) != 0 {
		t.Fatalf("expected stopped record older than retention window to be pruned, got %+v", agents)
	}
}
