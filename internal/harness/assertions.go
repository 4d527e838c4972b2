package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s as=%d %v -> %s\n", event.Seq, event.Action, event.Actor, event.Args, event.Outcome)
		}
	}
	return buf.String()
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store     *store.Store
	Transport *channel.MemoryTransport
	Ctx       context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// Store-backed assertions need actx; trace assertions do not.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertChannelCalls:
			err = assertChannelCalls(result, assertion)
		case AssertOrder, AssertPost, AssertControls, AssertHistory, AssertApplications:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
				break
			}
			err = assertState(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertTraceOrder checks that successful steps with the given actions
// appear in the specified order. Intervening steps are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(assertion.Actions) && event.Outcome == OutcomeOK && event.Action == assertion.Actions[next] {
			next++
		}
	}
	if next == len(assertion.Actions) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("successful actions in order: %v", assertion.Actions),
		Actual:   fmt.Sprintf("matched %d of %d, missing %s", next, len(assertion.Actions), assertion.Actions[next]),
		Trace:    trace,
	}
}

// assertTraceCount checks how many steps ran the action, optionally
// restricted to one outcome.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Action != assertion.Action {
			continue
		}
		if assertion.Outcome != "" && event.Outcome != assertion.Outcome {
			continue
		}
		count++
	}

	if count != *assertion.Count {
		what := assertion.Action
		if assertion.Outcome != "" {
			what += " with outcome " + assertion.Outcome
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", *assertion.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertChannelCalls(result *Result, assertion Assertion) error {
	want := assertion.Calls
	if want == nil {
		want = []string{}
	}
	if slices.Equal(result.Channel, want) {
		return nil
	}
	return &AssertionError{
		Type:     AssertChannelCalls,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", result.Channel),
	}
}

// assertState checks an assertion against the stored order and its post.
func assertState(actx *AssertionContext, a Assertion) error {
	ctx := actx.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	o, err := actx.Store.GetOrder(ctx, a.Order)
	if err != nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("order %d to exist", a.Order),
			Actual:   err.Error(),
		}
	}

	switch a.Type {
	case AssertOrder:
		return assertOrder(o, a)
	case AssertPost, AssertControls:
		return assertPost(actx.Transport, o, a)
	case AssertHistory:
		entries, err := actx.Store.ListHistory(ctx, o.ID)
		if err != nil {
			return err
		}
		got := make([]string, len(entries))
		for i, e := range entries {
			got[i] = string(e.To)
		}
		return compareList(a.Type, o.ID, a.Statuses, got)
	case AssertApplications:
		apps, err := actx.Store.ListApplications(ctx, o.ID, nil)
		if err != nil {
			return err
		}
		got := make([]string, len(apps))
		for i, app := range apps {
			got[i] = string(app.Status)
		}
		return compareList(a.Type, o.ID, a.Statuses, got)
	}
	return nil
}

func assertOrder(o order.Order, a Assertion) error {
	var mismatches []string
	check := func(field string, want, got any) {
		if want != got {
			mismatches = append(mismatches, fmt.Sprintf("%s = %v, want %v", field, got, want))
		}
	}

	if a.Status != "" {
		check("status", a.Status, string(o.Status))
	}
	if a.Version != 0 {
		check("version", a.Version, o.Version)
	}
	if a.Claimant != 0 {
		var got int64
		if o.Claimant != nil {
			got = o.Claimant.ID
		}
		check("claimant", a.Claimant, got)
	}
	if a.Published != nil {
		check("published", *a.Published, o.Published())
	}
	if a.SyncFailure != nil {
		got := ""
		if o.SyncFailure != nil {
			got = string(o.SyncFailure.Kind)
		}
		check("sync_failure", *a.SyncFailure, got)
	}

	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertOrder,
		Expected: fmt.Sprintf("order %d to match", o.ID),
		Actual:   strings.Join(mismatches, "; "),
	}
}

func assertPost(transport *channel.MemoryTransport, o order.Order, a Assertion) error {
	if transport == nil {
		return fmt.Errorf("%s assertion requires a channel transport", a.Type)
	}
	p, ok := transport.Message(o.MessageRef)
	if !o.Published() || !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("order %d to have a channel post", o.ID),
			Actual:   "no post",
		}
	}

	if a.Type == AssertControls {
		return compareList(a.Type, o.ID, a.Data, controlData(p))
	}
	for _, want := range a.Contains {
		if !strings.Contains(p.Text, want) {
			return &AssertionError{
				Type:     AssertPost,
				Expected: fmt.Sprintf("post of order %d to contain %q", o.ID, want),
				Actual:   p.Text,
			}
		}
	}
	return nil
}

func controlData(p channel.Payload) []string {
	out := []string{}
	for _, row := range p.Controls {
		for _, c := range row {
			if c.Data != "" {
				out = append(out, c.Data)
			}
		}
	}
	return out
}

func compareList(kind string, orderID int64, want, got []string) error {
	if want == nil {
		want = []string{}
	}
	if slices.Equal(want, got) {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("order %d: %v", orderID, want),
		Actual:   fmt.Sprintf("%v", got),
	}
}
