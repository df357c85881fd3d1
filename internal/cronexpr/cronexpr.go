// Package cronexpr parses five-field cron expressions and computes
// next-fire instants. The field grammar and the day-of-month/
// day-of-week OR-combination are delegated to github.com/robfig/cron/v3's
// standard parser, which already implements both; this package adds a
// bounded search horizon and structured per-field validation errors on
// top.
package cronexpr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError reports which field of an expression failed to
// validate and why.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cron field %s=%q: %s", e.Field, e.Value, e.Reason)
}

// MaxSearchHorizon bounds how far into the future next-fire search is
// allowed to go before the expression is rejected as unsatisfiable.
const MaxSearchHorizon = 4 * 365 * 24 * time.Hour

var fieldNames = []string{"minute", "hour", "day_of_month", "month", "day_of_week"}

var fieldRanges = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day_of_month
	{1, 12}, // month
	{0, 7},  // day_of_week: 7 passes this check, but the robfig parser only accepts 0-6, so Parse rejects 7
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dowNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

var atomPattern = regexp.MustCompile(`^(\*|[A-Za-z0-9]+(-[A-Za-z0-9]+)?)(/[0-9]+)?$`)

// Expression is a validated, parseable cron expression.
type Expression struct {
	raw      string
	schedule cron.Schedule
}

var standardParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Parse validates expr and returns an Expression usable with NextFire.
// Validation errors are surfaced here, at add-time — the only place a
// malformed expression can fail.
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, &ValidationError{
			Field:  "expression",
			Value:  expr,
			Reason: fmt.Sprintf("expected 5 whitespace-separated fields, got %d", len(fields)),
		}
	}

	for i, field := range fields {
		if err := validateFieldSyntax(i, field); err != nil {
			return nil, err
		}
	}

	schedule, err := standardParser.Parse(expr)
	if err != nil {
		return nil, classifyParseError(fields, err)
	}

	e := &Expression{raw: expr, schedule: schedule}

	// Bounded-search validation: an expression that can never fire
	// (e.g. "0 0 30 2 *", Feb 30th) must fail at add-time, not silently
	// stall the scheduler forever.
	if _, err := e.NextFire(time.Now()); err != nil {
		return nil, err
	}
	return e, nil
}

// String returns the original expression text.
func (e *Expression) String() string { return e.raw }

// NextFire returns the smallest instant strictly after from that
// satisfies the expression, bounded to MaxSearchHorizon ahead.
func (e *Expression) NextFire(from time.Time) (time.Time, error) {
	next := e.schedule.Next(from)
	if next.IsZero() || next.Sub(from) > MaxSearchHorizon {
		return time.Time{}, &ValidationError{
			Field:  "expression",
			Value:  e.raw,
			Reason: fmt.Sprintf("no matching instant within %s", MaxSearchHorizon),
		}
	}
	return next, nil
}

// NextFire is a convenience one-shot: parse expr and compute its next
// fire time after from.
func NextFire(expr string, from time.Time) (time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return e.NextFire(from)
}

func validateFieldSyntax(idx int, field string) error {
	name := fieldNames[idx]
	for _, atom := range strings.Split(field, ",") {
		if atom == "" {
			return &ValidationError{Field: name, Value: field, Reason: "empty list element"}
		}
		if !atomPattern.MatchString(atom) {
			return &ValidationError{Field: name, Value: atom, Reason: "unrecognized atom syntax"}
		}
		if err := validateAtomRange(idx, atom); err != nil {
			return err
		}
	}
	return nil
}

func validateAtomRange(idx int, atom string) error {
	name := fieldNames[idx]
	body := atom
	if slash := strings.IndexByte(atom, '/'); slash >= 0 {
		body = atom[:slash]
		step := atom[slash+1:]
		if n, err := strconv.Atoi(step); err != nil || n <= 0 {
			return &ValidationError{Field: name, Value: atom, Reason: "step must be a positive integer"}
		}
	}
	if body == "*" {
		return nil
	}

	lo, hi := fieldRanges[idx][0], fieldRanges[idx][1]
	parts := strings.SplitN(body, "-", 2)
	for _, p := range parts {
		n, ok := resolveAtomValue(idx, p)
		if !ok {
			return &ValidationError{Field: name, Value: atom, Reason: "not a recognized value"}
		}
		if n < lo || n > hi {
			return &ValidationError{
				Field: name, Value: atom,
				Reason: fmt.Sprintf("value %d out of range [%d,%d]", n, lo, hi),
			}
		}
	}
	return nil
}

func resolveAtomValue(idx int, s string) (int, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	lower := strings.ToLower(s)
	if idx == 3 {
		if n, ok := monthNames[lower]; ok {
			return n, true
		}
	}
	if idx == 4 {
		if n, ok := dowNames[lower]; ok {
			return n, true
		}
	}
	return 0, false
}

// classifyParseError maps an opaque robfig/cron parse error onto the
// field that is syntactically invalid, on a best-effort basis: our own
// validateFieldSyntax pass above catches the overwhelming majority of
// malformed input before this is ever reached.
func classifyParseError(fields []string, err error) error {
	return &ValidationError{
		Field:  "expression",
		Value:  strings.Join(fields, " "),
		Reason: err.Error(),
	}
}
