// Package election provides per-task leader election on NATS JetStream KV.
//
// Every task has one key in the election bucket. The key is the lease:
//   - Create (atomic): acquire leadership if the key does not exist
//   - Update (with revision): renew while still holding the lease
//   - Delete (with revision): release leadership
//
// The bucket TTL bounds how long a crashed holder keeps a task: its last
// write expires and the next acquisition attempt succeeds.
//
// # Elector
//
// Elector implements types.Elector. Each Contend call runs one contention
// loop for a task:
//
//  1. Wait for the acquisition rate limiter
//  2. Try to create the lease key
//  3. On success, run the leadership callback while a renewal goroutine
//     updates the key every RenewInterval; a failed renewal cancels the
//     callback context with types.ErrLeadershipLost
//  4. When the callback returns, delete the key, sleep a jittered requeue
//     delay so other contenders can take the next round, and go to 1
//  5. When the key is held by someone else, wait for a delete on a KV watch
//     of the key or for the poll interval, then go to 1
//
// The recommended renewal interval is TTL/3. For a 15s TTL, renew every 5s.
//
// # Failover
//
//   - Explicit release: immediate, the watch fires on the delete marker
//   - Crash: after the TTL plus at most one poll interval
package election
