package fairlead

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/fairlead/internal/logging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Empty(t, cfg.InstanceID)
	require.Equal(t, "node", cfg.InstanceIDPrefix)
	require.Equal(t, 0, cfg.InstanceIDMin)
	require.Equal(t, 99, cfg.InstanceIDMax)
	require.Equal(t, 30*time.Second, cfg.InstanceIDTTL)
	require.Equal(t, 30*time.Second, cfg.WorkInterval)
	require.Equal(t, 15*time.Second, cfg.LeaseTTL)
	require.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, 6*time.Second, cfg.MemberTTL)
	require.Equal(t, 3*time.Second, cfg.ReconcileInterval)
	require.Equal(t, 90*time.Second, cfg.StuckLeadershipTimeout)
	require.Equal(t, "fairlead-election", cfg.KVBuckets.ElectionBucket)
	require.NoError(t, cfg.Validate())

	testCfg := TestConfig()
	require.NoError(t, testCfg.Validate())
}

func TestSetDefaults(t *testing.T) {
	t.Run("applies defaults to empty config", func(t *testing.T) {
		cfg := Config{}
		SetDefaults(&cfg)

		require.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("derives dependent timings", func(t *testing.T) {
		cfg := Config{
			HeartbeatInterval: 5 * time.Second,
			WorkInterval:      time.Second,
		}
		SetDefaults(&cfg)

		require.Equal(t, 15*time.Second, cfg.MemberTTL)
		require.Equal(t, 7500*time.Millisecond, cfg.ReconcileInterval)
		require.Equal(t, 3*time.Second, cfg.StuckLeadershipTimeout)
	})

	t.Run("preserves custom values", func(t *testing.T) {
		cfg := Config{
			InstanceID:             "node-a",
			InstanceIDPrefix:       "custom",
			InstanceIDMax:          7,
			WorkInterval:           time.Minute,
			LeaseTTL:               20 * time.Second,
			HeartbeatInterval:      time.Second,
			MemberTTL:              4 * time.Second,
			ReconcileInterval:      time.Second,
			StuckLeadershipTimeout: 5 * time.Minute,
			Retry:                  RetryConfig{BaseDelay: time.Second, MaxRetries: -1, MaxDelay: time.Minute},
			KVBuckets:              KVBucketConfig{ElectionBucket: "elect"},
		}
		SetDefaults(&cfg)

		require.Equal(t, "node-a", cfg.InstanceID)
		require.Equal(t, "custom", cfg.InstanceIDPrefix)
		require.Equal(t, 7, cfg.InstanceIDMax)
		require.Equal(t, time.Minute, cfg.WorkInterval)
		require.Equal(t, 20*time.Second, cfg.LeaseTTL)
		require.Equal(t, 4*time.Second, cfg.MemberTTL)
		require.Equal(t, 5*time.Minute, cfg.StuckLeadershipTimeout)
		require.Equal(t, -1, cfg.Retry.MaxRetries)
		require.Equal(t, "elect", cfg.KVBuckets.ElectionBucket)
		require.Equal(t, "fairlead-members", cfg.KVBuckets.MembersBucket)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid instance ID", func(c *Config) { c.InstanceID = "a.b" }},
		{"invalid prefix", func(c *Config) { c.InstanceIDPrefix = "x y" }},
		{"empty pool", func(c *Config) { c.InstanceIDMin, c.InstanceIDMax = 5, 4 }},
		{"zero work interval", func(c *Config) { c.WorkInterval = 0 }},
		{"zero lease", func(c *Config) { c.LeaseTTL = 0 }},
		{"zero stuck timeout", func(c *Config) { c.StuckLeadershipTimeout = 0 }},
		{"member ttl too short", func(c *Config) { c.MemberTTL = c.HeartbeatInterval }},
		{"identity outlived by members", func(c *Config) { c.InstanceIDTTL = c.MemberTTL - time.Second }},
		{"reconcile slower than ttl", func(c *Config) { c.ReconcileInterval = 2 * c.MemberTTL }},
		{"retry max below base", func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 }},
		{"missing bucket", func(c *Config) { c.KVBuckets.RegistryBucket = "" }},
		{"shared bucket", func(c *Config) { c.KVBuckets.MembersBucket = c.KVBuckets.ElectionBucket }},
		{"password without user", func(c *Config) { c.Auth.Password = "secret" }},
		{"two auth methods", func(c *Config) { c.Auth.User, c.Auth.Token = "svc", "t0ken" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("explicit instance ID skips pool rules", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InstanceID = "node-a"
		cfg.InstanceIDMin, cfg.InstanceIDMax = 5, 4
		cfg.InstanceIDTTL = time.Millisecond
		require.NoError(t, cfg.Validate())
	})
}

func TestConfig_ValidateWithWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StuckLeadershipTimeout = time.Second
	cfg.LeaseTTL = time.Second

	require.NotPanics(t, func() {
		cfg.ValidateWithWarnings(logging.NewTest(t))
	})
}

func TestAuthConfig(t *testing.T) {
	require.Empty(t, AuthConfig{}.NATSOptions())
	require.Len(t, AuthConfig{User: "svc", Password: "secret"}.NATSOptions(), 1)
	require.Len(t, AuthConfig{Token: "t0ken"}.NATSOptions(), 1)
	require.Len(t, AuthConfig{CredsFile: "/etc/nats/svc.creds"}.NATSOptions(), 1)

	opts := nats.GetDefaultOptions()
	for _, o := range (AuthConfig{User: "svc", Password: "secret"}).NATSOptions() {
		require.NoError(t, o(&opts))
	}
	require.Equal(t, "svc", opts.User)
	require.Equal(t, "secret", opts.Password)

	opts = nats.GetDefaultOptions()
	for _, o := range (AuthConfig{Token: "t0ken"}).NATSOptions() {
		require.NoError(t, o(&opts))
	}
	require.Equal(t, "t0ken", opts.Token)
}

func TestRetryConfig(t *testing.T) {
	r := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxRetries: 5, MaxDelay: time.Second}

	require.Equal(t, 100*time.Millisecond, r.Delay(0))
	require.Equal(t, 100*time.Millisecond, r.Delay(1))
	require.Equal(t, 200*time.Millisecond, r.Delay(2))
	require.Equal(t, 800*time.Millisecond, r.Delay(4))
	require.Equal(t, time.Second, r.Delay(5))
	require.Equal(t, time.Second, r.Delay(50))

	require.Len(t, r.NATSOptions(), 3)
}

// TestConfig_YAML demonstrates that time.Duration works directly with YAML unmarshaling.
func TestConfig_YAML(t *testing.T) {
	yamlConfig := `
instanceId: node-7
workInterval: 10s
leaseTtl: 20s
heartbeatInterval: 3s
memberTtl: 9s
stuckLeadershipTimeout: 1m
retry:
  baseDelay: 250ms
  maxRetries: 10
  maxDelay: 5s
kvBuckets:
  registryBucket: my-registry
auth:
  user: svc
  password: secret
`

	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(yamlConfig), &cfg))

	require.Equal(t, "node-7", cfg.InstanceID)
	require.Equal(t, 10*time.Second, cfg.WorkInterval)
	require.Equal(t, 20*time.Second, cfg.LeaseTTL)
	require.Equal(t, 3*time.Second, cfg.HeartbeatInterval)
	require.Equal(t, 9*time.Second, cfg.MemberTTL)
	require.Equal(t, time.Minute, cfg.StuckLeadershipTimeout)
	require.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	require.Equal(t, 10, cfg.Retry.MaxRetries)
	require.Equal(t, "my-registry", cfg.KVBuckets.RegistryBucket)
	require.Equal(t, AuthConfig{User: "svc", Password: "secret"}, cfg.Auth)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := filepath.Join(dir, "partial.yaml")
		require.NoError(t, os.WriteFile(path, []byte("workInterval: 5s\nheartbeatInterval: 1s\n"), 0o600))

		cfg, err := LoadConfigFile(path)
		require.NoError(t, err)
		require.Equal(t, 5*time.Second, cfg.WorkInterval)
		require.Equal(t, time.Second, cfg.HeartbeatInterval)
		require.Equal(t, 6*time.Second, cfg.MemberTTL, "defaults are loaded before the file")
		require.Equal(t, "fairlead-registry", cfg.KVBuckets.RegistryBucket)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("memberTtl: 1s\n"), 0o600))

		_, err := LoadConfigFile(path)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("workInterval: [\n"), 0o600))

		_, err := LoadConfigFile(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfigFile(filepath.Join(dir, "absent.yaml"))
		require.Error(t, err)
	})
}
