// Package heartbeat keeps an instance's membership registrations alive in NATS KV.
//
// A Publisher owns one key per membership scope, "<scope>.<instance>", in the
// members bucket. The bucket TTL is the crash detection window: an instance
// that stops publishing disappears from every scope once its last write
// expires, while a clean shutdown deletes the keys right away so peers observe
// the departure immediately.
//
// # Publisher Lifecycle
//
//  1. Create the publisher with New(kv, instanceID, scopes, interval)
//  2. Start publishing with Start(ctx); the first round is written synchronously
//  3. Stop with Stop(ctx), which deletes every key
//
// Example:
//
//	kv, _ := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
//	    Bucket: "fairlead-members",
//	    TTL:    15 * time.Second, // 3x interval
//	})
//	pub := heartbeat.New(kv, "node-1", []string{"orders", "billing"}, 5*time.Second)
//	if err := pub.Start(ctx); err != nil {
//	    return err
//	}
//	defer pub.Stop(context.Background())
package heartbeat
