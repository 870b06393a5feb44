package fairlead

// Option configures a Coordinator with optional dependencies.
type Option func(*coordinatorOptions)

// coordinatorOptions holds optional Coordinator configuration.
type coordinatorOptions struct {
	elector    Elector
	membership Membership
	hooks      *Hooks
	metrics    MetricsCollector
	logger     Logger
}

// WithCoordination supplies the whole Coordination Service, so no NATS
// connection is needed.
//
// Parameters:
//   - elector: Leader election capability
//   - membership: Ephemeral membership capability
//
// Returns:
//   - Option: Functional option for NewCoordinator
//
// Example:
//
//	lc := fltest.NewLocalCoordination(t)
//	coord, err := fairlead.NewCoordinator(&cfg, nil, src, work,
//	    fairlead.WithCoordination(lc.Elector("node-a"), lc.Membership()))
func WithCoordination(elector Elector, membership Membership) Option {
	return func(o *coordinatorOptions) {
		o.elector = elector
		o.membership = membership
	}
}

// WithElector replaces the NATS KV elector.
func WithElector(elector Elector) Option {
	return func(o *coordinatorOptions) {
		o.elector = elector
	}
}

// WithMembership replaces the NATS KV membership service.
func WithMembership(membership Membership) Option {
	return func(o *coordinatorOptions) {
		o.membership = membership
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewCoordinator
//
// Example:
//
//	hooks := &fairlead.Hooks{
//	    OnTaskStopped: func(ctx context.Context, task fairlead.Task, reason fairlead.StopReason) error {
//	        log.Printf("%s stopped: %s", task.ID, reason)
//	        return nil
//	    },
//	}
//	coord, err := fairlead.NewCoordinator(&cfg, nc, src, work, fairlead.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *coordinatorOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Example:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "fairlead")
//	coord, err := fairlead.NewCoordinator(&cfg, nc, src, work, fairlead.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *coordinatorOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewCoordinator
func WithLogger(logger Logger) Option {
	return func(o *coordinatorOptions) {
		o.logger = logger
	}
}
