// Package testutil provides helpers for tests that drive an agent process.
package testutil

import (
	"testing"

	"github.com/roach88/lockprobe/internal/agent"
)

// MainWithAgent runs the package's tests, or the agent runtime when the
// test binary was re-executed as an agent.
//
// A test package whose tests launch agents calls it from TestMain:
//
//	func TestMain(m *testing.M) {
//		os.Exit(testutil.MainWithAgent(m))
//	}
func MainWithAgent(m *testing.M) int {
	if agent.IsAgentProcess() {
		return agent.Main()
	}
	return m.Run()
}
