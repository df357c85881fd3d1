package cmd

import (
	"errors"
	"testing"
)

func TestNewExitErrorRoundTripsCodeAndMessage(t *testing.T) {
	err := newExitError(ExitValidationError, "bad cron expression")

	code, ok := exitCodeOf(err)
	if !ok {
		t.Fatal("exitCodeOf: ok = false, want true")
	}
	if code != ExitValidationError {
		t.Fatalf("code = %d, want %d", code, ExitValidationError)
	}
	if err.Error() != "bad cron expression" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "bad cron expression")
	}
}

func TestExitCodeOfReturnsFalseForPlainError(t *testing.T) {
	code, ok := exitCodeOf(errors.New("boom"))
	if ok {
		t.Fatalf("ok = true, want false (code %d)", code)
	}
}
