// Package kvutil provides helpers for NATS JetStream KeyValue buckets.
package kvutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/fairlead/types"
)

// DefaultMaxRetries is used when a non-positive retry count is given.
const DefaultMaxRetries = 5

// EnsureKVBucketWithRetry creates or opens a KV bucket.
//
// Several instances start at once and race to create the same buckets, so an
// ErrBucketExists answer falls back to opening the bucket. Other failures are
// retried with exponential backoff starting at 10ms.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - js: JetStream context
//   - config: KV bucket configuration
//   - maxRetries: Maximum number of attempts (DefaultMaxRetries if <= 0)
//
// Returns:
//   - jetstream.KeyValue: The KV bucket instance
//   - error: Last error once all attempts failed
//
// Example:
//
//	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
//	    Bucket: "fairlead-members",
//	    TTL:    15 * time.Second,
//	}, 5)
func EnsureKVBucketWithRetry(
	ctx context.Context,
	js jetstream.JetStream,
	config jetstream.KeyValueConfig,
	maxRetries int,
) (jetstream.KeyValue, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := range maxRetries {
		kv, err := js.CreateKeyValue(ctx, config)
		if err == nil {
			return kv, nil
		}

		if errors.Is(err, jetstream.ErrBucketExists) {
			kv, openErr := js.KeyValue(ctx, config.Bucket)
			if openErr == nil {
				return kv, nil
			}
			lastErr = fmt.Errorf("bucket exists but failed to open: %w", openErr)
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled during KV bucket creation: %w", ctx.Err())
		}

		if attempt < maxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * 10 * time.Millisecond //nolint:gosec // attempt is bounded by maxRetries
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to create/open KV bucket %s after %d attempts: %w",
		config.Bucket, maxRetries, lastErr)
}

// BucketSpec describes one bucket the coordinator needs.
type BucketSpec struct {
	Name string
	TTL  time.Duration
}

// EnsureBuckets creates or opens every bucket in specs with History 1.
//
// Returns:
//   - map[string]jetstream.KeyValue: Buckets keyed by name
//   - error: First bucket that could not be ensured
func EnsureBuckets(ctx context.Context, js jetstream.JetStream, specs ...BucketSpec) (map[string]jetstream.KeyValue, error) {
	buckets := make(map[string]jetstream.KeyValue, len(specs))
	for _, spec := range specs {
		kv, err := EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
			Bucket:  spec.Name,
			History: 1,
			TTL:     spec.TTL,
		}, DefaultMaxRetries)
		if err != nil {
			return nil, err
		}
		buckets[spec.Name] = kv
	}

	return buckets, nil
}

// ListKeys returns all keys of kv, treating an empty bucket as no keys.
func ListKeys(ctx context.Context, kv jetstream.KeyValue) ([]string, error) {
	lister, err := kv.ListKeys(ctx)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list KV keys: %w", err)
	}

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}

	return keys, nil
}

// MemberKey builds the key of an instance registered under scope.
func MemberKey(scope, instanceID string) string {
	return scope + "." + instanceID
}

// SplitMemberKey splits a member key into scope and instance ID.
func SplitMemberKey(key string) (scope, instanceID string, ok bool) {
	i := strings.LastIndexByte(key, '.')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}

	return key[:i], key[i+1:], true
}

// ScopeFilter is the watch filter matching every member of scope.
func ScopeFilter(scope string) string {
	return scope + ".*"
}
