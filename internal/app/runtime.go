package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// testModeEnv makes binaries exit before dialing Postgres or Redis.
const testModeEnv = "AGENTSITES_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	if on := testMode.Load(); on != nil {
		return *on
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new value.
func RefreshTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(&on)
	return on
}
