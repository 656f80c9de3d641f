package harness

import (
	"os"
	"testing"

	"github.com/roach88/lockprobe/internal/testutil"
)

func TestMain(m *testing.M) {
	os.Exit(testutil.MainWithAgent(m))
}
