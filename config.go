package fairlead

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/fairlead/types"
)

// RetryConfig is the coordination client's connection retry policy:
// exponential backoff from BaseDelay, capped at MaxDelay, for at most
// MaxRetries consecutive attempts.
type RetryConfig struct {
	// BaseDelay is the first reconnect delay.
	BaseDelay time.Duration `yaml:"baseDelay"`

	// MaxRetries bounds consecutive reconnect attempts. -1 retries forever.
	MaxRetries int `yaml:"maxRetries"`

	// MaxDelay caps the backoff.
	MaxDelay time.Duration `yaml:"maxDelay"`
}

// Delay returns the backoff before reconnect attempt n (1-based).
//
// Parameters:
//   - attempt: Attempt number, starting at 1
//
// Returns:
//   - time.Duration: BaseDelay * 2^(attempt-1), capped at MaxDelay
func (r RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := r.BaseDelay
	for i := 1; i < attempt && delay < r.MaxDelay; i++ {
		delay *= 2
	}
	if r.MaxDelay > 0 && delay > r.MaxDelay {
		delay = r.MaxDelay
	}

	return delay
}

// NATSOptions turns the policy into connection options.
//
// Example:
//
//	opts := append(cfg.Retry.NATSOptions(), nats.Name("fairlead"))
//	nc, err := nats.Connect(url, opts...)
func (r RetryConfig) NATSOptions() []nats.Option {
	return []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(r.MaxRetries),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return r.Delay(attempts)
		}),
	}
}

// AuthConfig holds the credentials used to connect to a secured NATS
// cluster. At most one method may be set.
type AuthConfig struct {
	// User and Password authenticate with a username and password.
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Token authenticates with a bearer token.
	Token string `yaml:"token"`

	// CredsFile is the path of a JWT user credentials file.
	CredsFile string `yaml:"credsFile"`
}

// NATSOptions turns the configured credentials into connection options.
//
// Returns:
//   - []nats.Option: Empty when no credentials are configured
func (a AuthConfig) NATSOptions() []nats.Option {
	var opts []nats.Option
	switch {
	case a.CredsFile != "":
		opts = append(opts, nats.UserCredentials(a.CredsFile))
	case a.Token != "":
		opts = append(opts, nats.Token(a.Token))
	case a.User != "":
		opts = append(opts, nats.UserInfo(a.User, a.Password))
	}

	return opts
}

func (a AuthConfig) validate() error {
	methods := 0
	if a.User != "" {
		methods++
	}
	if a.Token != "" {
		methods++
	}
	if a.CredsFile != "" {
		methods++
	}

	switch {
	case methods > 1:
		return invalid("Auth: user, token and credsFile are mutually exclusive")
	case a.Password != "" && a.User == "":
		return invalid("Auth: password requires user")
	}

	return nil
}

// KVBucketConfig names the NATS JetStream KV buckets.
type KVBucketConfig struct {
	// IdentityBucket holds claimed instance IDs (TTL = InstanceIDTTL).
	IdentityBucket string `yaml:"identityBucket"`

	// ElectionBucket holds one lease per task (TTL = LeaseTTL).
	ElectionBucket string `yaml:"electionBucket"`

	// MembersBucket holds "<task>.<instance>" registrations (TTL = MemberTTL).
	MembersBucket string `yaml:"membersBucket"`

	// RegistryBucket holds the task registry (no TTL).
	RegistryBucket string `yaml:"registryBucket"`
}

// Config is the configuration for the Coordinator.
//
// All duration fields accept standard Go duration strings like "30s", "5m", "1h".
type Config struct {
	// InstanceID is this instance's identity in the fleet. When empty a stable
	// ID "<InstanceIDPrefix>-<n>" is claimed from the identity bucket.
	InstanceID string `yaml:"instanceId"`

	// InstanceIDPrefix, InstanceIDMin and InstanceIDMax define the claim pool.
	InstanceIDPrefix string `yaml:"instanceIdPrefix"`
	InstanceIDMin    int    `yaml:"instanceIdMin"`
	InstanceIDMax    int    `yaml:"instanceIdMax"`

	// InstanceIDTTL is how long an unrenewed ID claim survives.
	// Must be >= MemberTTL.
	InstanceIDTTL time.Duration `yaml:"instanceIdTtl"`

	// WorkInterval is the pause between two runs of a task's work function.
	WorkInterval time.Duration `yaml:"workInterval"`

	// LeaseTTL is how long a crashed leader keeps its task locked.
	// Leases are renewed every LeaseTTL/3.
	LeaseTTL time.Duration `yaml:"leaseTtl"`

	// ElectionPollInterval is the fallback acquisition interval when a lease
	// expired without a delete marker.
	ElectionPollInterval time.Duration `yaml:"electionPollInterval"`

	// RequeueDelay is the base pause before a contender re-enters the election
	// after relinquishing.
	RequeueDelay time.Duration `yaml:"requeueDelay"`

	// AcquireRate and AcquireBurst bound lease acquisition attempts per instance.
	AcquireRate  float64 `yaml:"acquireRate"`
	AcquireBurst int     `yaml:"acquireBurst"`

	// HeartbeatInterval is how often membership registrations are refreshed.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	// MemberTTL is how long a crashed instance stays registered.
	// Must be >= 2*HeartbeatInterval.
	MemberTTL time.Duration `yaml:"memberTtl"`

	// ReconcileInterval is how often membership watches rescan the bucket to
	// observe TTL-expired members.
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`

	// StuckLeadershipTimeout bounds the wait for a revoked execution to
	// signal completion before a stuck leadership fault is reported.
	StuckLeadershipTimeout time.Duration `yaml:"stuckLeadershipTimeout"`

	// OperationTimeout bounds each KV call.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// StartupTimeout bounds Start.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// ShutdownTimeout bounds Stop when the caller's context has no deadline.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// Retry is the connection retry policy used by the CLI.
	Retry RetryConfig `yaml:"retry"`

	// KVBuckets names the coordination buckets.
	KVBuckets KVBucketConfig `yaml:"kvBuckets"`

	// Auth holds the NATS credentials used by the CLI.
	Auth AuthConfig `yaml:"auth"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		InstanceIDPrefix:       "node",
		InstanceIDMin:          0,
		InstanceIDMax:          99,
		InstanceIDTTL:          30 * time.Second,
		WorkInterval:           30 * time.Second,
		LeaseTTL:               15 * time.Second,
		ElectionPollInterval:   time.Second,
		RequeueDelay:           100 * time.Millisecond,
		AcquireRate:            50,
		AcquireBurst:           10,
		HeartbeatInterval:      2 * time.Second,
		MemberTTL:              6 * time.Second,
		ReconcileInterval:      3 * time.Second,
		StuckLeadershipTimeout: 90 * time.Second,
		OperationTimeout:       5 * time.Second,
		StartupTimeout:         30 * time.Second,
		ShutdownTimeout:        30 * time.Second,
		Retry: RetryConfig{
			BaseDelay:  500 * time.Millisecond,
			MaxRetries: 60,
			MaxDelay:   10 * time.Second,
		},
		KVBuckets: KVBucketConfig{
			IdentityBucket: "fairlead-identity",
			ElectionBucket: "fairlead-election",
			MembersBucket:  "fairlead-members",
			RegistryBucket: "fairlead-registry",
		},
	}
}

// SetDefaults fills in zero-valued fields with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	d := DefaultConfig()

	setString(&cfg.InstanceIDPrefix, d.InstanceIDPrefix)
	if cfg.InstanceIDMax == 0 {
		cfg.InstanceIDMax = d.InstanceIDMax
	}
	setDuration(&cfg.InstanceIDTTL, d.InstanceIDTTL)
	setDuration(&cfg.WorkInterval, d.WorkInterval)
	setDuration(&cfg.LeaseTTL, d.LeaseTTL)
	setDuration(&cfg.ElectionPollInterval, d.ElectionPollInterval)
	setDuration(&cfg.RequeueDelay, d.RequeueDelay)
	if cfg.AcquireRate == 0 {
		cfg.AcquireRate = d.AcquireRate
	}
	if cfg.AcquireBurst == 0 {
		cfg.AcquireBurst = d.AcquireBurst
	}
	setDuration(&cfg.HeartbeatInterval, d.HeartbeatInterval)
	if cfg.MemberTTL == 0 {
		cfg.MemberTTL = 3 * cfg.HeartbeatInterval
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = cfg.MemberTTL / 2
	}
	if cfg.StuckLeadershipTimeout == 0 {
		cfg.StuckLeadershipTimeout = 3 * cfg.WorkInterval
	}
	setDuration(&cfg.OperationTimeout, d.OperationTimeout)
	setDuration(&cfg.StartupTimeout, d.StartupTimeout)
	setDuration(&cfg.ShutdownTimeout, d.ShutdownTimeout)
	setDuration(&cfg.Retry.BaseDelay, d.Retry.BaseDelay)
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = d.Retry.MaxRetries
	}
	setDuration(&cfg.Retry.MaxDelay, d.Retry.MaxDelay)
	setString(&cfg.KVBuckets.IdentityBucket, d.KVBuckets.IdentityBucket)
	setString(&cfg.KVBuckets.ElectionBucket, d.KVBuckets.ElectionBucket)
	setString(&cfg.KVBuckets.MembersBucket, d.KVBuckets.MembersBucket)
	setString(&cfg.KVBuckets.RegistryBucket, d.KVBuckets.RegistryBucket)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

// Validate checks configuration constraints.
//
// Hard Validation Rules:
//   - InstanceID, when set, is a valid key token; otherwise the claim pool is non-empty
//   - WorkInterval, LeaseTTL, OperationTimeout and StuckLeadershipTimeout > 0
//   - MemberTTL >= 2 * HeartbeatInterval (allow one missed heartbeat)
//   - InstanceIDTTL >= MemberTTL (identity must outlive registrations)
//   - 0 < ReconcileInterval <= MemberTTL
//   - Retry.BaseDelay > 0, Retry.MaxDelay >= Retry.BaseDelay
//   - Auth sets at most one credential method; Password requires User
//   - Bucket names are set and distinct
//
// Returns:
//   - error: ErrInvalidConfig wrapped with the violated rule, nil if valid
func (cfg *Config) Validate() error {
	if cfg.InstanceID != "" {
		if !types.ValidateIdentifier(cfg.InstanceID) {
			return invalid("InstanceID %q is not a valid key token", cfg.InstanceID)
		}
	} else {
		if !types.ValidateIdentifier(cfg.InstanceIDPrefix) {
			return invalid("InstanceIDPrefix %q is not a valid key token", cfg.InstanceIDPrefix)
		}
		if cfg.InstanceIDMin < 0 || cfg.InstanceIDMax < cfg.InstanceIDMin {
			return invalid("instance ID pool [%d, %d] is empty", cfg.InstanceIDMin, cfg.InstanceIDMax)
		}
	}

	switch {
	case cfg.WorkInterval <= 0:
		return invalid("WorkInterval must be > 0, got %v", cfg.WorkInterval)
	case cfg.LeaseTTL <= 0:
		return invalid("LeaseTTL must be > 0, got %v", cfg.LeaseTTL)
	case cfg.OperationTimeout <= 0:
		return invalid("OperationTimeout must be > 0, got %v", cfg.OperationTimeout)
	case cfg.StuckLeadershipTimeout <= 0:
		return invalid("StuckLeadershipTimeout must be > 0, got %v", cfg.StuckLeadershipTimeout)
	case cfg.HeartbeatInterval <= 0:
		return invalid("HeartbeatInterval must be > 0, got %v", cfg.HeartbeatInterval)
	}

	if cfg.MemberTTL < 2*cfg.HeartbeatInterval {
		return invalid("MemberTTL (%v) must be >= 2*HeartbeatInterval (%v) to allow one missed heartbeat",
			cfg.MemberTTL, cfg.HeartbeatInterval)
	}
	if cfg.InstanceID == "" && cfg.InstanceIDTTL < cfg.MemberTTL {
		return invalid("InstanceIDTTL (%v) must be >= MemberTTL (%v)", cfg.InstanceIDTTL, cfg.MemberTTL)
	}
	if cfg.ReconcileInterval <= 0 || cfg.ReconcileInterval > cfg.MemberTTL {
		return invalid("ReconcileInterval (%v) must be in (0, MemberTTL=%v]", cfg.ReconcileInterval, cfg.MemberTTL)
	}

	if cfg.Retry.BaseDelay <= 0 {
		return invalid("Retry.BaseDelay must be > 0, got %v", cfg.Retry.BaseDelay)
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return invalid("Retry.MaxDelay (%v) must be >= Retry.BaseDelay (%v)", cfg.Retry.MaxDelay, cfg.Retry.BaseDelay)
	}

	if err := cfg.Auth.validate(); err != nil {
		return err
	}

	buckets := []string{
		cfg.KVBuckets.IdentityBucket,
		cfg.KVBuckets.ElectionBucket,
		cfg.KVBuckets.MembersBucket,
		cfg.KVBuckets.RegistryBucket,
	}
	seen := make(map[string]struct{}, len(buckets))
	for _, b := range buckets {
		if b == "" {
			return invalid("KV bucket names must be set")
		}
		if _, dup := seen[b]; dup {
			return invalid("KV bucket %q is used twice", b)
		}
		seen[b] = struct{}{}
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// ValidateWithWarnings logs warnings for valid but risky values.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	if cfg.StuckLeadershipTimeout < cfg.WorkInterval {
		logger.Warn(
			"StuckLeadershipTimeout is shorter than WorkInterval; cooperative stops may be reported as stuck",
			"stuckLeadershipTimeout", cfg.StuckLeadershipTimeout,
			"workInterval", cfg.WorkInterval,
		)
	}

	if cfg.LeaseTTL < 3*cfg.OperationTimeout {
		logger.Warn(
			"LeaseTTL is short relative to OperationTimeout; a slow renewal may lose leadership",
			"leaseTTL", cfg.LeaseTTL,
			"operationTimeout", cfg.OperationTimeout,
			"recommended", 3*cfg.OperationTimeout,
		)
	}

	if cfg.InstanceID == "" && cfg.InstanceIDTTL < 2*cfg.MemberTTL {
		logger.Warn(
			"InstanceIDTTL is below recommended minimum",
			"instanceIDTTL", cfg.InstanceIDTTL,
			"memberTTL", cfg.MemberTTL,
			"recommended", 2*cfg.MemberTTL,
		)
	}
}

// TestConfig returns a configuration with fast timings for tests.
//
// Example:
//
//	cfg := fairlead.TestConfig()
//	cfg.InstanceID = "node-a"
//	coord, err := fairlead.NewCoordinator(&cfg, nc, src, work)
func TestConfig() Config {
	cfg := DefaultConfig()

	cfg.InstanceIDTTL = 5 * time.Second
	cfg.WorkInterval = 50 * time.Millisecond
	cfg.LeaseTTL = 2 * time.Second
	cfg.ElectionPollInterval = 100 * time.Millisecond
	cfg.RequeueDelay = 20 * time.Millisecond
	cfg.HeartbeatInterval = 300 * time.Millisecond
	cfg.MemberTTL = time.Second
	cfg.ReconcileInterval = 200 * time.Millisecond
	cfg.StuckLeadershipTimeout = 2 * time.Second
	cfg.OperationTimeout = 2 * time.Second
	cfg.StartupTimeout = 10 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second

	return cfg
}

// LoadConfigFile reads a YAML configuration file on top of DefaultConfig.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - Config: Loaded configuration with defaults applied and validated
//   - error: Read, parse or validation error
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	SetDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
