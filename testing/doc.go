// Package testing provides test utilities for the fairlead library.
//
// It follows Go's convention of shipping testing helpers in a dedicated
// package (similar to net/http/httptest).
//
// Key utilities:
//   - StartEmbeddedNATS / Connect: In-process NATS server with JetStream
//   - CreateJetStreamKV: Convenience wrapper for KV bucket creation
//   - LocalCoordination: In-process leader election and membership with
//     queue-ordered grants, used to drive multi-instance scenarios
//     deterministically without NATS
//   - NewTestLogger: Logger writing to the test output
//
// Example usage:
//
//	import (
//	    "testing"
//	    fltest "github.com/arloliu/fairlead/testing"
//	)
//
//	func TestTwoInstances(t *testing.T) {
//	    lc := fltest.NewLocalCoordination(t)
//	    a := lc.Elector("node-a")
//	    b := lc.Elector("node-b")
//	    // hand a/b and lc.Membership() to two coordinators
//	}
package testing
