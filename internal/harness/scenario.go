package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted sequence of operations against a fresh store and
// an in-memory channel, followed by assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config sets up roles, links and rate limiting.
	Config Config `yaml:"config"`

	// Flow is executed in order. A step whose outcome differs from its
	// expectation fails the scenario but does not stop it.
	Flow []Step `yaml:"flow"`

	// Assertions validate the trace, the store and the channel.
	Assertions []Assertion `yaml:"assertions"`
}

// Config configures the engine a scenario runs against.
type Config struct {
	Admins             []int64    `yaml:"admins"`
	Operators          []int64    `yaml:"operators"`
	AllowCreatorCancel bool       `yaml:"allow_creator_cancel"`
	BotUsername        string     `yaml:"bot_username"`
	OperatorUsername   string     `yaml:"operator_username"`
	RateLimit          *RateLimit `yaml:"rate_limit,omitempty"`
}

// RateLimit enables the sliding-window limiter. Without it a scenario is
// not rate limited.
type RateLimit struct {
	Window string `yaml:"window"`
	Limit  int    `yaml:"limit"`
}

// Step is one operation.
type Step struct {
	// Do names the operation; see the Step* constants.
	Do string `yaml:"do"`

	// As is the acting user id. Required for engine operations.
	As int64 `yaml:"as,omitempty"`

	// Username is the acting user's handle.
	Username string `yaml:"username,omitempty"`

	// Args holds the operation's arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect is "ok" (the default) or the error code the step must fail with.
	Expect string `yaml:"expect,omitempty"`
}

// Step operations.
const (
	StepCreate    = "create"    // args: title, body, amount?, photos?, draft?
	StepPublish   = "publish"   // args: order
	StepApply     = "apply"     // args: order
	StepApprove   = "approve"   // args: order, application
	StepReject    = "reject"    // args: order, application
	StepDone      = "done"      // args: order, note?
	StepCancel    = "cancel"    // args: order, note?
	StepCallback  = "callback"  // args: data
	StepResync    = "resync"    // args: order
	StepReconcile = "reconcile" // no args

	StepGrantOperator  = "grant_operator"  // args: user, username?
	StepRevokeOperator = "revoke_operator" // args: user

	// Environment steps act on the clock or the channel, not the engine.
	StepTick        = "tick"         // args: duration
	StepFailChannel = "fail_channel" // args: errors (list of transient|fatal|ok)
	StepDeletePost  = "delete_post"  // args: order
)

var engineSteps = map[string]bool{
	StepCreate: true, StepApply: true, StepApprove: true, StepReject: true,
	StepDone: true, StepCancel: true, StepCallback: true, StepResync: true,
	StepReconcile: true, StepPublish: true, StepGrantOperator: true, StepRevokeOperator: true,
}

var environmentSteps = map[string]bool{
	StepTick: true, StepFailChannel: true, StepDeletePost: true,
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Order is the order id (order, post, controls, history, applications).
	Order int64 `yaml:"order,omitempty"`

	// Order fields (order). Unset fields are not checked.
	Status      string  `yaml:"status,omitempty"`
	Version     int64   `yaml:"version,omitempty"`
	Claimant    int64   `yaml:"claimant,omitempty"`
	Published   *bool   `yaml:"published,omitempty"`
	SyncFailure *string `yaml:"sync_failure,omitempty"`

	// Contains lists substrings of the post text (post).
	Contains []string `yaml:"contains,omitempty"`

	// Data is the exact list of control data on the post (controls).
	Data []string `yaml:"data,omitempty"`

	// Statuses is the expected sequence of statuses (history) or of
	// application statuses in id order (applications).
	Statuses []string `yaml:"statuses,omitempty"`

	// Action and Outcome select trace events (trace_count); Count is how
	// many must match.
	Action  string `yaml:"action,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Count   *int   `yaml:"count,omitempty"`

	// Actions is the expected order of successful actions (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Calls is the exact list of attempted channel calls (channel_calls).
	Calls []string `yaml:"calls,omitempty"`
}

// Assertion type constants.
const (
	AssertOrder        = "order"
	AssertPost         = "post"
	AssertControls     = "controls"
	AssertHistory      = "history"
	AssertApplications = "applications"
	AssertTraceCount   = "trace_count"
	AssertTraceOrder   = "trace_order"
	AssertChannelCalls = "channel_calls"
)

// OutcomeOK is the outcome of a successful step.
const OutcomeOK = "ok"

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and step/assertion shapes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if rl := s.Config.RateLimit; rl != nil {
		d, err := time.ParseDuration(rl.Window)
		if err != nil || d <= 0 {
			return fmt.Errorf("config.rate_limit.window: %q is not a positive duration", rl.Window)
		}
		if rl.Limit < 1 {
			return fmt.Errorf("config.rate_limit.limit must be at least 1")
		}
	}

	for i, step := range s.Flow {
		switch {
		case engineSteps[step.Do]:
			if step.As <= 0 {
				return fmt.Errorf("flow[%d] %s: as is required", i, step.Do)
			}
		case environmentSteps[step.Do]:
		case step.Do == "":
			return fmt.Errorf("flow[%d]: do is required", i)
		default:
			return fmt.Errorf("flow[%d]: unknown step %q", i, step.Do)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertOrder, AssertPost, AssertControls, AssertHistory, AssertApplications:
		if a.Order <= 0 {
			return fmt.Errorf("assertions[%d]: order is required for %s", index, a.Type)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertChannelCalls:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Type == AssertPost && len(a.Contains) == 0 {
		return fmt.Errorf("assertions[%d]: contains is required for post", index)
	}
	return nil
}
