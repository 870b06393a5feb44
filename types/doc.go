// Package types provides core type definitions and interfaces for the fairlead library.
//
// This package contains shared types that are used across multiple packages in the
// fairlead library. By keeping these types in a separate package, we avoid import cycles
// between the main fairlead package and its internal implementations.
//
// Key types:
//   - Task: One unit of distributable work
//   - State: Coordinator lifecycle state
//   - ContenderState: Per-task leadership lifecycle state
//   - Elector, Membership: The coordination service contract
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
package types
