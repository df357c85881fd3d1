package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCronStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cron.json")
	s := NewCronStore(path)

	now := time.Now().UTC().Truncate(time.Second)
	doc := CronDocument{Tasks: []CronTask{
		{
			ID:         "task-1",
			Expression: "*/5 * * * *",
			TaskFile:   "/tmp/t.md",
			Enabled:    true,
			CreatedAt:  now,
			NextRun:    now.Add(5 * time.Minute),
		},
	}}

	if err := s.Save(doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Tasks) != 1 || loaded.Tasks[0].ID != "task-1" {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if !loaded.Tasks[0].NextRun.Equal(doc.Tasks[0].NextRun) {
		t.Fatalf("NextRun mismatch: got %v want %v", loaded.Tasks[0].NextRun, doc.Tasks[0].NextRun)
	}
}

func TestCronStoreLoadMissingIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := NewCronStore(filepath.Join(dir, "cron.json"))

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load on missing file should not error: %v", err)
	}
	if len(doc.Tasks) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}
}

func TestCronStoreMalformedRefusesLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cron.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewCronStore(path)
	_, err := s.Load()
	if err == nil {
		t.Fatal("expected malformed error")
	}
	var merr *MalformedError
	if !asMalformed(err, &merr) {
		t.Fatalf("expected *MalformedError, got %T: %v", err, err)
	}
	if merr.Offset < 0 {
		t.Fatalf("expected a byte offset, got %d", merr.Offset)
	}
}

func asMalformed(err error, target **MalformedError) bool {
	if m, ok := err.(*MalformedError); ok {
		*target = m
		return true
	}
	return false
}

func TestRegistryStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewRegistryStore(filepath.Join(dir, "registry.json"))

	now := time.Now().UTC().Truncate(time.Second)
	doc := RegistryDocument{Agents: []AgentRecord{
		{ID: "agent-1", PID: 1234, StartedAt: now, LastHeartbeat: now, State: AgentRunning},
	}}
	if err := s.Save(doc); err != nil {
		t.Fatal(err)
	}
	loaded, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Agents) != 1 || loaded.Agents[0].State != AgentRunning {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}
