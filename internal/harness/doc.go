// Package harness runs scripted order scenarios against the real lifecycle
// engine and checks the outcome.
//
// Each scenario gets a fresh in-memory store, an in-memory channel, a fake
// clock starting at testutil.Epoch and flow tokens "flow-1", "flow-2", ...
// so traces are identical across runs and can be compared against golden
// files.
//
// # Scenario Format
//
//	name: claim_and_finish
//	description: "Operator posts, worker claims, admin approves"
//	config:
//	  admins: [1]
//	  operators: [2]
//	  bot_username: orderbot
//	flow:
//	  - do: create
//	    as: 2
//	    args: { title: "Fix sink", body: "Kitchen", amount: "40.00" }
//	  - do: callback
//	    as: 42
//	    username: bob
//	    args: { data: "apply:1" }
//	  - do: approve
//	    as: 1
//	    args: { order: 1, application: 1 }
//	  - do: cancel
//	    as: 42
//	    args: { order: 1 }
//	    expect: UNAUTHORIZED
//	assertions:
//	  - type: order
//	    order: 1
//	    status: IN_PROGRESS
//	    claimant: 42
//
// A step without expect must succeed; otherwise it must fail with the
// named error code. A mismatch fails the scenario but later steps still
// run.
//
// Besides engine operations, steps can advance the clock (tick), script
// channel failures (fail_channel) and delete a post behind the bot's back
// (delete_post).
//
// # Assertion Types
//
//   - order: status, version, claimant, published and sync_failure of an order
//   - post: the order's channel post text contains every given substring
//   - controls: exact control data on the post
//   - history: exact sequence of statuses entered
//   - applications: exact application statuses in id order
//   - trace_count: number of steps with an action (and outcome)
//   - trace_order: successful actions occur in the given order
//   - channel_calls: exact list of attempted publish/edit calls
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/claim.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
