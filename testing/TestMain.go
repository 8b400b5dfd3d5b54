// Package testing forces test mode for packages that import it, so runtime
// entrypoints and handlers skip external side effects.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("AGENTSITES_TEST_MODE", "1")
		if os.Getenv("AUTH_JWT_SECRET") == "" {
			_ = os.Setenv("AUTH_JWT_SECRET", "test-secret")
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain runs m with test mode enabled.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
