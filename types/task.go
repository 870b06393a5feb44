package types

import (
	"fmt"
	"regexp"
)

// validTaskID matches identifiers usable as a single KV key token.
var validTaskID = regexp.MustCompile(`^[A-Za-z0-9_=/-]+$`)

// Task identifies one unit of distributable work.
//
// Tasks are enumerated once at startup from a TaskSource and are immutable
// for the lifetime of the coordinator.
type Task struct {
	// ID uniquely identifies the task. It doubles as the task's election key
	// and membership scope, so it must be a valid KV key token (no dots).
	ID string `json:"id" yaml:"id"`
}

// String returns the task ID.
func (t Task) String() string {
	return t.ID
}

// Validate checks that the task ID is usable as a coordination key.
//
// Returns:
//   - error: ErrInvalidTaskID wrapped with the offending ID, nil if valid
func (t Task) Validate() error {
	if !validTaskID.MatchString(t.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, t.ID)
	}

	return nil
}

// ValidateIdentifier checks that an instance or scope identifier is a valid
// KV key token.
//
// Parameters:
//   - id: Identifier to check
//
// Returns:
//   - bool: true if the identifier can be embedded in a KV key
func ValidateIdentifier(id string) bool {
	return validTaskID.MatchString(id)
}

// TaskIDs returns the IDs of the given tasks in order.
func TaskIDs(tasks []Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}

	return ids
}
