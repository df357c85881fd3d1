package subsystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCatalogReturnsNilWhenFileAbsent(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join(t.TempDir(), "subsystems.toml"))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if cat != nil {
		t.Fatalf("cat = %+v, want nil", cat)
	}
}

func TestLoadCatalogParsesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subsystems.toml")
	toml := `
[[subsystem]]
name = "telegram-main"
kind = "telegram"
description = "primary bridge"

[subsystem.config]
token = "abc123"
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(cat.Subsystem) != 1 {
		t.Fatalf("len(Subsystem) = %d, want 1", len(cat.Subsystem))
	}
	s := cat.Subsystem[0]
	if s.Name != "telegram-main" || s.Kind != "telegram" {
		t.Fatalf("entry = %+v, want name=telegram-main kind=telegram", s)
	}
	if s.Config["token"] != "abc123" {
		t.Fatalf("config[token] = %v, want abc123", s.Config["token"])
	}
}

func TestLoadCatalogRejectsEntryMissingKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subsystems.toml")
	toml := `
[[subsystem]]
name = "orphan"
`
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadCatalog(path); err == nil {
		t.Fatal("expected error for entry missing kind")
	}
}

func TestStartCatalogStartsEachEntryUnderItsOwnKind(t *testing.T) {
	started := make(chan string, 2)
	factory := func(kindLabel string) RunnerFactory {
		return func(config map[string]any) (Runner, error) {
			return runnerFunc(func(ctx context.Context) error {
				started <- kindLabel
				<-ctx.Done()
				return nil
			}), nil
		}
	}
	m := New(map[string]RunnerFactory{
		"telegram": factory("telegram"),
	})

	cat := &Catalog{Subsystem: []Spec{
		{Name: "telegram-a", Kind: "telegram"},
		{Name: "telegram-b", Kind: "telegram"},
	}}

	if errs := StartCatalog(m, cat); len(errs) != 0 {
		t.Fatalf("StartCatalog errs = %v, want none", errs)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("expected both catalog entries to start")
		}
	}

	if !m.Status("telegram-a").Running || !m.Status("telegram-b").Running {
		t.Fatal("both catalog-started instances should report running")
	}
	m.StopAll(time.Second)
}

func TestStartCatalogCollectsErrorsForUnknownKind(t *testing.T) {
	m := New(map[string]RunnerFactory{})
	cat := &Catalog{Subsystem: []Spec{{Name: "x", Kind: "missing-kind"}}}

	errs := StartCatalog(m, cat)
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
}

func TestStartCatalogOnNilCatalogIsNoop(t *testing.T) {
	m := New(map[string]RunnerFactory{})
	if errs := StartCatalog(m, nil); errs != nil {
		t.Fatalf("errs = %v, want nil", errs)
	}
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }
