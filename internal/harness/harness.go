package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/clock"
	"github.com/PengC8899/didi-bot/internal/lifecycle"
	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/ratelimit"
	"github.com/PengC8899/didi-bot/internal/store"
	"github.com/PengC8899/didi-bot/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a fake clock and sequential flow tokens.
type Harness struct {
	store     *store.Store
	transport *channel.MemoryTransport
	clock     *clock.FakeClock
	engine    *lifecycle.Engine
	logger    *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, against
// the real lifecycle engine and synchronizer with an in-memory channel.
// Channel syncs run inline, so every step's post is settled before the
// next step starts.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Build the engine from the scenario config
// 3. Execute flow steps, checking each step's expected outcome
// 4. Evaluate assertions
// 5. Return result with pass/fail, trace, and errors
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st, scenario.Config)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult(scenario.Name)

	for i, step := range scenario.Flow {
		if err := h.execute(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d] %s: %w", i, step.Do, err)
		}
	}
	result.Channel = append(result.Channel, h.transport.Calls()...)

	actx := &AssertionContext{
		Store:     st,
		Transport: h.transport,
		Ctx:       ctx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(st *store.Store, cfg Config) (*Harness, error) {
	h := &Harness{
		store:     st,
		transport: channel.NewMemoryTransport(),
		clock:     testutil.NewClock(),
		logger:    testutil.DiscardLogger(),
	}
	links := channel.Links{
		BotUsername:      cfg.BotUsername,
		OperatorUsername: cfg.OperatorUsername,
	}
	syncer := channel.NewSynchronizer(st, h.transport,
		channel.WithRenderer(channel.Renderer{Links: links}),
		channel.WithClock(h.clock),
		channel.WithLogger(h.logger),
	)

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if rl := cfg.RateLimit; rl != nil {
		window, err := time.ParseDuration(rl.Window)
		if err != nil {
			return nil, fmt.Errorf("rate_limit.window: %w", err)
		}
		limiter = ratelimit.NewWindow(window, rl.Limit, ratelimit.WithClock(h.clock))
	}

	h.engine = lifecycle.New(st,
		lifecycle.WithRoles(lifecycle.NewRoles(cfg.Admins, cfg.Operators)),
		lifecycle.WithLimiter(limiter),
		lifecycle.WithSync(channel.Inline{Syncer: syncer, Logger: h.logger}, syncer),
		lifecycle.WithLinks(links),
		lifecycle.WithClock(h.clock),
		lifecycle.WithLogger(h.logger),
		lifecycle.WithCreatorCancel(cfg.AllowCreatorCancel),
		lifecycle.WithFlowGenerator(testutil.NewSequenceFlowGenerator("flow")),
	)
	return h, nil
}

// execute runs one step, records it in the trace and checks its outcome.
// Only harness-level problems (bad arguments) are returned; a step that
// fails differently than expected is recorded on the result.
func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) error {
	actor := order.Actor{ID: step.As, Username: step.Username}
	orderID, stepErr := h.run(ctx, actor, step)

	var argErr *argError
	if errors.As(stepErr, &argErr) {
		return argErr
	}

	outcome := OutcomeOK
	if stepErr != nil {
		outcome = string(order.CodeOf(stepErr))
		if outcome == "" {
			outcome = "ERROR"
		}
	}

	event := TraceEvent{
		Action:  step.Do,
		Actor:   step.As,
		Args:    step.Args,
		Outcome: outcome,
	}
	if orderID > 0 {
		if snap, ok := h.snapshot(ctx, orderID); ok {
			event.Order = snap
		}
	}
	result.AddTrace(event)

	expect := step.Expect
	if expect == "" {
		expect = OutcomeOK
	}
	if outcome != expect {
		msg := fmt.Sprintf("flow[%d] %s: expected %s, got %s", index, step.Do, expect, outcome)
		if stepErr != nil {
			msg += ": " + stepErr.Error()
		}
		result.AddError(msg)
	}
	return nil
}

// run performs the step and returns the id of the order it touched, if any.
func (h *Harness) run(ctx context.Context, actor order.Actor, step Step) (int64, error) {
	args := step.Args
	switch step.Do {
	case StepCreate:
		in, err := createInput(args)
		if err != nil {
			return 0, err
		}
		o, err := h.engine.CreateOrder(ctx, actor, in)
		return o.ID, err

	case StepPublish:
		id, err := intArg(args, "order")
		if err != nil {
			return 0, err
		}
		_, err = h.engine.PublishDraft(ctx, actor, id)
		return id, err

	case StepGrantOperator, StepRevokeOperator:
		user, err := intArg(args, "user")
		if err != nil {
			return 0, err
		}
		if step.Do == StepRevokeOperator {
			_, err = h.engine.RemoveOperator(ctx, actor, user)
			return 0, err
		}
		name, err := stringArg(args, "username", false)
		if err != nil {
			return 0, err
		}
		_, err = h.engine.AddOperator(ctx, actor, order.Actor{ID: user, Username: name})
		return 0, err

	case StepApply:
		id, err := intArg(args, "order")
		if err != nil {
			return 0, err
		}
		_, err = h.engine.Apply(ctx, actor, id)
		return id, err

	case StepApprove, StepReject:
		id, err := intArg(args, "order")
		if err != nil {
			return 0, err
		}
		appID, err := intArg(args, "application")
		if err != nil {
			return 0, err
		}
		if step.Do == StepApprove {
			_, err = h.engine.Approve(ctx, actor, id, appID)
		} else {
			_, err = h.engine.Reject(ctx, actor, id, appID)
		}
		return id, err

	case StepDone, StepCancel:
		id, err := intArg(args, "order")
		if err != nil {
			return 0, err
		}
		note, err := stringArg(args, "note", false)
		if err != nil {
			return 0, err
		}
		if step.Do == StepDone {
			_, err = h.engine.MarkDone(ctx, actor, id, note)
		} else {
			_, err = h.engine.Cancel(ctx, actor, id, note)
		}
		return id, err

	case StepCallback:
		data, err := stringArg(args, "data", true)
		if err != nil {
			return 0, err
		}
		var id int64
		if action, perr := order.ParseAction(data); perr == nil {
			id = action.Order()
		}
		_, err = h.engine.HandleControl(ctx, actor, data)
		return id, err

	case StepResync:
		id, err := intArg(args, "order")
		if err != nil {
			return 0, err
		}
		return id, h.engine.ForceResync(ctx, actor, id)

	case StepReconcile:
		_, err := h.engine.Reconcile(ctx, actor)
		return 0, err

	case StepTick:
		raw, err := stringArg(args, "duration", true)
		if err != nil {
			return 0, err
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return 0, argErrorf("duration %q is not a non-negative duration", raw)
		}
		h.clock.Advance(d)
		return 0, nil

	case StepFailChannel:
		errs, err := channelErrors(args)
		if err != nil {
			return 0, err
		}
		h.transport.FailNext(errs...)
		return 0, nil

	case StepDeletePost:
		id, err := intArg(args, "order")
		if err != nil {
			return 0, err
		}
		o, err := h.store.GetOrder(ctx, id)
		if err != nil {
			return 0, argErrorf("order %d: %v", id, err)
		}
		h.transport.Delete(o.MessageRef)
		return id, nil
	}
	return 0, argErrorf("unknown step %q", step.Do)
}

func (h *Harness) snapshot(ctx context.Context, orderID int64) (*OrderSnapshot, bool) {
	o, err := h.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, false
	}
	snap := &OrderSnapshot{
		ID:        o.ID,
		Status:    string(o.Status),
		Version:   o.Version,
		Published: o.Published(),
		Draft:     o.Draft,
	}
	if o.SyncFailure != nil {
		snap.SyncFailure = string(o.SyncFailure.Kind)
	}
	return snap, true
}

// argError reports a malformed step. It aborts the run rather than being
// recorded as a step outcome.
type argError struct{ msg string }

func (e *argError) Error() string { return e.msg }

func argErrorf(format string, args ...any) error {
	return &argError{msg: fmt.Sprintf(format, args...)}
}

func createInput(args map[string]any) (lifecycle.CreateInput, error) {
	var in lifecycle.CreateInput
	var err error
	if in.Title, err = stringArg(args, "title", false); err != nil {
		return in, err
	}
	if in.Body, err = stringArg(args, "body", false); err != nil {
		return in, err
	}
	raw, err := stringArg(args, "amount", false)
	if err != nil {
		return in, err
	}
	if raw != "" {
		amount, err := order.ParseAmount(raw)
		if err != nil {
			return in, argErrorf("amount: %v", err)
		}
		in.Amount = &amount
	}
	if in.Draft, err = boolArg(args, "draft"); err != nil {
		return in, err
	}
	photos, err := listArg(args, "photos")
	if err != nil {
		return in, err
	}
	for _, ref := range photos {
		in.Media = append(in.Media, store.NewMedia{Kind: order.MediaPhoto, Ref: ref})
	}
	return in, nil
}

func intArg(args map[string]any, key string) (int64, error) {
	switch v := args[key].(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case nil:
		return 0, argErrorf("missing argument %q", key)
	default:
		return 0, argErrorf("argument %q: expected integer, got %T", key, v)
	}
}

func stringArg(args map[string]any, key string, required bool) (string, error) {
	switch v := args[key].(type) {
	case string:
		return v, nil
	case nil:
		if required {
			return "", argErrorf("missing argument %q", key)
		}
		return "", nil
	default:
		return "", argErrorf("argument %q: expected string, got %T", key, v)
	}
}

func boolArg(args map[string]any, key string) (bool, error) {
	switch v := args[key].(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, argErrorf("argument %q: expected boolean, got %T", key, v)
	}
}

func listArg(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, argErrorf("argument %q: expected list, got %T", key, raw)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, argErrorf("argument %s[%d]: expected string, got %T", key, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

func channelErrors(args map[string]any) ([]error, error) {
	kinds, err := listArg(args, "errors")
	if err != nil {
		return nil, err
	}
	if len(kinds) == 0 {
		return nil, argErrorf("missing argument %q", "errors")
	}
	errs := make([]error, 0, len(kinds))
	for _, kind := range kinds {
		switch kind {
		case "transient":
			errs = append(errs, &channel.TransientError{Reason: "scripted"})
		case "fatal":
			errs = append(errs, &channel.FatalError{Reason: "scripted"})
		case "ok":
			errs = append(errs, nil)
		default:
			return nil, argErrorf("channel error %q: want transient, fatal or ok", kind)
		}
	}
	return errs, nil
}
