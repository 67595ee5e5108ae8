package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Writes   []string // Every write sent, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nWrites:\n")
	for i, w := range e.Writes {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, w)
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion) error {
	writes := result.Writes()
	switch a.Type {
	case AssertWriteCount:
		return assertWriteCount(writes, a)
	case AssertWriteContains:
		return assertWriteContains(writes, a)
	case AssertWriteOrder:
		return assertWriteOrder(writes, a)
	case AssertNoWrites:
		return assertNoWrites(writes, a)
	case AssertFinalState:
		return assertFinalState(result.State, writes, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertWriteCount checks the exact number of table writes sent.
func assertWriteCount(writes []string, a Assertion) error {
	if len(writes) != a.Count {
		return &AssertionError{
			Type:     AssertWriteCount,
			Expected: fmt.Sprintf("%d writes", a.Count),
			Actual:   fmt.Sprintf("%d writes", len(writes)),
			Writes:   writes,
		}
	}
	return nil
}

// assertWriteContains checks that a rendered write was sent.
func assertWriteContains(writes []string, a Assertion) error {
	for _, w := range writes {
		if w == a.Write {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertWriteContains,
		Expected: a.Write,
		Actual:   "not found in writes",
		Writes:   writes,
	}
}

// assertWriteOrder checks that writes appear in the given order.
// Intervening writes are allowed.
func assertWriteOrder(writes []string, a Assertion) error {
	next := 0
	for _, w := range writes {
		if next < len(a.Writes) && w == a.Writes[next] {
			next++
		}
	}
	if next == len(a.Writes) {
		return nil
	}
	return &AssertionError{
		Type:     AssertWriteOrder,
		Expected: fmt.Sprintf("writes in order: %v", a.Writes),
		Actual:   fmt.Sprintf("missing or out of order: %s", a.Writes[next]),
		Writes:   writes,
	}
}

// assertNoWrites checks that nothing was written to a table.
func assertNoWrites(writes []string, a Assertion) error {
	for _, w := range writes {
		if writeTable(w) == a.Table {
			return &AssertionError{
				Type:     AssertNoWrites,
				Expected: fmt.Sprintf("no writes to %s", a.Table),
				Actual:   w,
				Writes:   writes,
			}
		}
	}
	return nil
}

// writeTable extracts the table name from a rendered write:
// "insert ingress.dmac(dst=5) -> ..." yields "ingress.dmac".
func writeTable(w string) string {
	_, rest, _ := strings.Cut(w, " ")
	table, _, _ := strings.Cut(rest, "(")
	return table
}

// assertFinalState checks that an output relation holds exactly the
// expected facts, in any order.
func assertFinalState(state map[string][]string, writes []string, a Assertion) error {
	actual, ok := state[a.Relation]
	if !ok {
		return fmt.Errorf("final_state: %q is not an output relation", a.Relation)
	}

	expected := append([]string(nil), a.Facts...)
	sort.Strings(expected)
	if strings.Join(expected, "\n") == strings.Join(actual, "\n") {
		return nil
	}
	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("%s = %v", a.Relation, expected),
		Actual:   fmt.Sprintf("%s = %v", a.Relation, actual),
		Writes:   writes,
	}
}
