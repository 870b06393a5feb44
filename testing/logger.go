package testing

import (
	"testing"

	"github.com/arloliu/fairlead/internal/logging"
	"github.com/arloliu/fairlead/types"
)

// NewTestLogger creates a logger that writes to the test output.
//
// Lines logged after the test completed are dropped.
func NewTestLogger(t testing.TB) types.Logger {
	return logging.NewTest(t)
}
