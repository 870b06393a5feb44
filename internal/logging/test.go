package logging

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/arloliu/fairlead/types"
)

// TestLogger implements types.Logger on top of testing.TB so log lines show up
// in the output of the test that produced them.
//
// Contender and watcher goroutines can outlive the test body by a few
// milliseconds; lines logged after the test finished are dropped instead of
// panicking inside the testing package.
type TestLogger struct {
	t    testing.TB
	done atomic.Bool
}

// Compile-time assertion that TestLogger implements Logger.
var _ types.Logger = (*TestLogger)(nil)

// NewTest creates a new test logger that writes to t.
//
// Parameters:
//   - t: The test or benchmark to write logs to
//
// Returns:
//   - *TestLogger: Logger using t.Logf
//
// Example:
//
//	func TestSomething(t *testing.T) {
//	    logger := logging.NewTest(t)
//	    logger.Info("test started", "id", 123)
//	}
func NewTest(t testing.TB) *TestLogger {
	l := &TestLogger{t: t}
	t.Cleanup(func() { l.done.Store(true) })

	return l
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *TestLogger) Debug(msg string, keysAndValues ...any) {
	l.logf("DEBUG", msg, keysAndValues)
}

// Info logs an info-level message with optional key-value pairs.
func (l *TestLogger) Info(msg string, keysAndValues ...any) {
	l.logf("INFO", msg, keysAndValues)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *TestLogger) Warn(msg string, keysAndValues ...any) {
	l.logf("WARN", msg, keysAndValues)
}

// Error logs an error-level message with optional key-value pairs.
func (l *TestLogger) Error(msg string, keysAndValues ...any) {
	l.logf("ERROR", msg, keysAndValues)
}

// Fatal logs a fatal-level message and marks the test as failed.
//
// Errorf is used instead of Fatalf because Fatal may be called from goroutines
// other than the one running the test.
func (l *TestLogger) Fatal(msg string, keysAndValues ...any) {
	if l.done.Load() {
		return
	}
	l.t.Errorf("FATAL: %s %s", msg, formatKeyValues(keysAndValues))
}

func (l *TestLogger) logf(level, msg string, keysAndValues []any) {
	if l.done.Load() {
		return
	}
	l.t.Logf("%s: %s %s", level, msg, formatKeyValues(keysAndValues))
}

// formatKeyValues formats key-value pairs for logging.
func formatKeyValues(keysAndValues []any) string {
	if len(keysAndValues) == 0 {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(keysAndValues); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, "%v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, "%v=<missing>", keysAndValues[i])
		}
	}

	return b.String()
}
