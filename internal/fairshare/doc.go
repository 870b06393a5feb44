// Package fairshare implements the fair-share decision rules.
//
// A fleet of S instances sharing T tasks targets ceil(T/S) executing tasks per
// instance. The rules are pure functions of (total, servers, working):
//
//   - ShouldAbandon decides whether a freshly granted leadership is declined
//     because this instance already holds its share.
//   - ShouldRelease decides whether this instance holds strictly more than its
//     share and must shed a task after the fleet grew.
//
// The share is a target, not a hard ceiling: concurrent grants during the
// evaluation window can transiently overshoot it, and the release rule
// converges back.
//
// Selector picks which executing task to shed. Candidates are ranked by a
// seeded xxh3 hash so that different instances prefer different tasks while
// each instance's choice is stable across restarts.
package fairshare
