package telegram

import "testing"

func TestNewRejectsEmptyToken(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestNewAcceptsConfiguredToken(t *testing.T) {
	b, err := New(Config{Token: "test-token"}, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.token != "test-token" {
		t.Fatalf("token = %q, want %q", b.token, "test-token")
	}
}
