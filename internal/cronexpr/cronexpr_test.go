package cronexpr

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string) *Expression {
	t.Helper()
	e, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", expr, err)
	}
	return e
}

func TestNextFireEveryTwoMinutes(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 10, 0, time.UTC)
	next, err := NextFire("*/2 * * * *", from)
	if err != nil {
		t.Fatalf("NextFire failed: %v", err)
	}
	want := time.Date(2025, 1, 1, 0, 2, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextFireStrictlyAfter(t *testing.T) {
	e := mustParse(t, "0 0 * * *")
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	next, err := e.NextFire(from)
	if err != nil {
		t.Fatal(err)
	}
	if !next.After(from) {
		t.Fatalf("NextFire(%v) = %v, want strictly after", from, next)
	}
}

func TestNextFireIdempotence(t *testing.T) {
	e := mustParse(t, "15,45 * * * *")
	from := time.Date(2025, 3, 3, 3, 3, 3, 0, time.UTC)
	n1, err := e.NextFire(from)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := e.NextFire(n1)
	if err != nil {
		t.Fatal(err)
	}
	if !n2.After(n1) {
		t.Fatalf("next_fire(next_fire(t)) = %v, not after %v", n2, n1)
	}
}

func TestDomDowOrSemantics(t *testing.T) {
	// Fires on the 15th OR on a Monday -- classic cron OR combination.
	e := mustParse(t, "0 0 15 * 1")
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := e.NextFire(from)
	if err != nil {
		t.Fatal(err)
	}
	if next.Day() != 15 && next.Weekday() != time.Monday {
		t.Fatalf("expected OR match on day 15 or Monday, got %v (weekday %v)", next, next.Weekday())
	}
}

func TestSymbolicMonthAndWeekday(t *testing.T) {
	e := mustParse(t, "0 9 * Jan Mon")
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := e.NextFire(from)
	if err != nil {
		t.Fatal(err)
	}
	if next.Month() != time.January || next.Weekday() != time.Monday {
		t.Fatalf("got %v, want January Monday", next)
	}
}

func TestInvalidFieldCount(t *testing.T) {
	_, err := Parse("* * * *")
	if err == nil {
		t.Fatal("expected error for 4-field expression")
	}
	var verr *ValidationError
	if !asValidationError(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func TestInvalidRange(t *testing.T) {
	_, err := Parse("99 * * * *")
	if err == nil {
		t.Fatal("expected error for out-of-range minute")
	}
}

func TestUnsatisfiableExpression(t *testing.T) {
	// February never has a 30th day.
	_, err := Parse("0 0 30 2 *")
	if err == nil {
		t.Fatal("expected error for unsatisfiable expression")
	}
}

func asValidationError(err error, target **ValidationError) bool {
	if verr, ok := err.(*ValidationError); ok {
		*target = verr
		return true
	}
	return false
}
