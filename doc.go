// Package fairlead distributes a fixed set of named tasks across a dynamically
// sized fleet of service instances.
//
// Every task has its own leader election, so exactly one instance executes a
// task at a time. An instance only accepts a task while it holds fewer than
// its fair share, ceil(tasks/instances), and when an instance joins, the
// others release their surplus so ownership converges to an even spread.
//
// # Quick Start
//
//	cfg := fairlead.DefaultConfig()
//	cfg.WorkInterval = 10 * time.Second
//
//	src := source.NewStaticIDs("billing", "reports", "cleanup")
//	coord, err := fairlead.NewCoordinator(&cfg, natsConn, src,
//	    func(ctx context.Context, task fairlead.Task) error {
//	        return process(ctx, task.ID)
//	    })
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := coord.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer coord.Stop(context.Background())
//
// # Decision Rules
//
// With T tasks, S live instances and W tasks executed locally:
//
//	share   = ceil(T / S)
//	abandon = share <= W   (checked when leadership is granted)
//	release = share <  W   (checked when an instance joins)
//
// Both checks and every change of W happen under one process-wide lock, so
// concurrent grants never push an instance past its share.
//
// # Lifecycle
//
// The coordinator moves through:
//
//	Init → Starting → Running → Stopping → Stopped
//
// Each task's contender moves through:
//
//	Idle → Contending → Evaluating → Executing → Releasing → Contending
//
// # Coordination Service
//
// By default coordination runs on NATS JetStream KV: one lease key per task,
// one membership key per task and instance, and an optional identity pool
// for stable instance IDs. Any other service can be plugged in through
// WithCoordination by implementing Elector and Membership.
//
// # Work Semantics
//
// The WorkFunc runs once per WorkInterval while the task is executed. Stop
// requests are cooperative and observed between intervals. A returned error or
// panic ends the execution and hands leadership back so the task is
// re-contended.
package fairlead
