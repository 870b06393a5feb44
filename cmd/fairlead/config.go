package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/fairlead"
	"github.com/arloliu/fairlead/internal/kvutil"
	"github.com/arloliu/fairlead/source"
)

// loadConfig reads the configuration file, or returns the defaults when no
// file was given.
func loadConfig(path string) (fairlead.Config, error) {
	if path == "" {
		cfg := fairlead.DefaultConfig()
		return cfg, cfg.Validate()
	}

	return fairlead.LoadConfigFile(path)
}

// connect dials NATS with the configured reconnect policy and credentials.
func connect(url string, cfg fairlead.Config) (*nats.Conn, error) {
	opts := append([]nats.Option{nats.Name("fairlead")}, cfg.Retry.NATSOptions()...)
	opts = append(opts, cfg.Auth.NATSOptions()...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	return nc, nil
}

// openRegistry ensures the registry bucket exists and wraps it as a task source.
func openRegistry(ctx context.Context, nc *nats.Conn, cfg fairlead.Config) (*source.KV, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.KVBuckets.RegistryBucket,
		Description: "fairlead task registry",
		History:     1,
	}, kvutil.DefaultMaxRetries)
	if err != nil {
		return nil, err
	}

	return source.NewKV(kv), nil
}
