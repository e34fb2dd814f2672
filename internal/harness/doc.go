// Package harness runs playbook scenarios end to end against a fresh store.
//
// A scenario compiles CUE playbooks, feeds change events through the stream
// consumer, optionally resumes suspended branches, and then checks the
// recorded observations.
//
// # Scenario Format
//
//	name: welcome_flow
//	description: "New users are greeted and logged"
//	playbooks:
//	  - ../playbooks/welcome.cue
//	steps:
//	  - emit: {type: create, data: {id: u1, role: admin}}
//	  - resume:
//	      playbook: approval
//	      step: approve
//	      previous: wait
//	      instance: u1
//	      objects: [{id: u1, approved: true}]
//	  - resume_callback: {callback: callback-1}
//	  - stop: welcome
//	assertions:
//	  - {type: step_executed, playbook: welcome, step: greet, port: out}
//	  - {type: trace_order, playbook: welcome, steps: [trigger, greet, log]}
//
// Playbook paths are relative to the scenario file.
//
// # Assertion Types
//
//   - step_executed: the step has a successful observation (optionally on port)
//   - step_failed: the step's latest observation carries an error (optionally containing error)
//   - step_not_executed: the step has no observation at all
//   - trace_order: steps were first observed in the given order
//   - trace_count: the step was observed exactly count times
//   - bundle_contains: every field is present with the given value in the
//     first object of the step's latest bundle
//   - pending_callbacks: exactly count callbacks are waiting
//
// # Deterministic Testing
//
// Every scenario runs on an in-memory SQLite database with a fake clock
// (testutil.FakeClock, 1ms per reading) and sequential ids
// ("bundle-N", "callback-N"), so traces are identical across runs and can be
// compared against golden files (see RunWithGolden).
package harness
