package app

import (
	"os"
	"sync"
)

// TestModeEnv, when set to "1", keeps the binaries from dialing Postgres and
// Redis. The testing package sets it for every test binary that imports it.
const TestModeEnv = "BRANCHLEDGER_TEST_MODE"

// InTestMode reports whether TestModeEnv was set when first asked.
var InTestMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})
