// Package testing is blank-imported by test binaries. Importing it puts the
// binaries into test mode and supplies the one required secret, so main
// packages return before dialling Postgres or Redis under go test ./...
package testing

import (
	"os"
	stdtesting "testing"
)

func init() {
	setDefault("OPSDESK_TEST_MODE", "1")
	setDefault("AUTH_JWT_SECRET", "test-secret")
}

func setDefault(key, value string) {
	if _, ok := os.LookupEnv(key); !ok {
		_ = os.Setenv(key, value)
	}
}

// TestMain can be reused by packages that need an explicit entry point.
func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
