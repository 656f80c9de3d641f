// Package harness runs lock-probe scenarios: sequences of driver-side
// database operations interleaved with transaction attempts by an external
// agent process.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: lock_excludes_agent
//	description: "An open driver transaction excludes the agent"
//	agent:
//	  driver: sqlite3        # or "sqlite" (modernc)
//	  policy: nonblocking    # or "blocking"
//	  busy_timeout: 200ms    # blocking policy only
//	  write: true
//	steps:
//	  - create: t.db
//	  - agent: t.db
//	    expect: true
//	  - begin: t.db
//	  - agent: t.db
//	    expect: false
//	  - commit: t.db
//	  - agent: t.db
//	    expect: true
//	assertions:
//	  - type: final_rows
//	    db: t.db
//	    count: 2
//
// Each step names exactly one action:
//
//   - create: create an empty database in WAL mode
//   - begin: the driver opens the database and begins a transaction
//   - write: the driver writes one row inside its open transaction
//   - commit / rollback: the driver ends its transaction
//   - agent: the agent attempts a transaction; expect is the required outcome
//   - fault: the agent call must fail as a fault, not return an outcome
//   - close: the agent handle is closed
//
// Database names are file names inside the scenario's working directory.
//
// # Assertion Types
//
//   - final_rows: the database holds exactly count committed probe rows
//   - outcome_count: the trace holds exactly count events of a step kind
//     with a given outcome
//
// # Deterministic Traces
//
// Every step appends one event to the trace with a sequence number from a
// logical clock. Traces contain no paths, pids or timestamps, so the same
// scenario produces the same trace on every run and can be compared against
// a golden file with RunWithGolden.
//
// Driver steps run in the test process; agent steps run in a separate
// process started through package agent. Tests using the harness must
// install the agent entry point in TestMain (see testutil.MainWithAgent).
package harness
