// Package testing is imported for side effects by test files. It marks the
// process as a test run and keeps spans out of any configured collector.
package testing

import "os"

func init() {
	// Must match app.TestModeEnv; importing app here would cycle with its tests.
	_ = os.Setenv("BRANCHLEDGER_TEST_MODE", "1")
	_ = os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
}
