// Package agent runs transaction attempts in a separate operating-system
// process and reports their outcome to the driving process.
//
// A driver that wants to know whether the database engine's locking excludes
// another process calls Prepare (or PrepareExternalAgent) once, then
// Transaction (or ExternalAgentTransaction) as often as it likes while it
// holds, or releases, its own locks on the database file:
//
//	h := agent.PrepareExternalAgent()
//	if h == agent.NoAgent {
//	    t.Fatal("no agent")
//	}
//	defer agent.CloseExternalAgent(h)
//
//	ok, err := agent.ExternalAgentTransaction(h, "t.db")
//
// # Processes and channel
//
// The launcher creates a Unix socketpair and starts the agent executable
// with one end on file descriptor 3. By default the executable is the
// current binary, re-executed with LOCKPROBE_AGENT=1 in its environment; a
// program (or a test binary, from TestMain) hands control to the agent
// runtime when IsAgentProcess reports true:
//
//	func TestMain(m *testing.M) {
//	    if agent.IsAgentProcess() {
//	        os.Exit(agent.Main())
//	    }
//	    os.Exit(m.Run())
//	}
//
// The agent writes a Ready frame once its receive loop is active, and the
// launcher does not hand out a handle before reading it.
//
// # Outcomes and faults
//
// Transaction returns (false, nil) when the attempt failed inside the
// database: lock contention, open failure, commit failure. Anything wrong
// with the agent or its channel is a *FaultError instead, never false. A
// channel fault is terminal for the agent: its handle is invalidated and the
// process torn down.
//
// # Lifecycle
//
// The agent exits when it reads end-of-stream, which is what Close does by
// closing the driver's end. Close waits for the exit and kills the agent if
// it does not come.
package agent
