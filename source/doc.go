// Package source provides built-in task sources.
//
// Task sources enumerate the tasks the fleet distributes. The package includes:
//
//   - Static: Fixed list of tasks
//   - KV: Keys of a NATS KV registry bucket, managed with Add and Remove
//
// Custom sources can be implemented by satisfying the types.TaskSource interface.
package source
