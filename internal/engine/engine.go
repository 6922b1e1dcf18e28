package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"chankeeper/internal/gateway"
	"chankeeper/internal/schedule"
	"chankeeper/internal/storage"
	logx "chankeeper/pkg/logx"
)

type Config struct {
	Enabled bool
	// Interval is the polling tick period. Transitions fire on the first
	// tick at or after their due time, so Interval bounds the firing jitter.
	Interval time.Duration
	// Grace extends the create window beyond one interval: a create still
	// fires when now is within Interval+Grace after the daily trigger.
	// Past that, the day's create is considered missed and suppressed to
	// avoid duplicate channels.
	Grace time.Duration
	// Workers caps concurrent rule evaluations within one tick.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Grace < 0 {
		c.Grace = 0
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Notifier is told about channels the engine created so announcements can
// be fanned out. Implementations must not block on the whole fanout.
type Notifier interface {
	ChannelCreated(ctx context.Context, rule schedule.Rule, channelID string)
}

// Engine owns the tick loop and the per-rule state machine.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	store *storage.Store
	gw    gateway.Gateway
	notif Notifier
	log   logx.Logger

	c      *cron.Cron
	runCtx context.Context
}

func New(cfg Config, store *storage.Store, gw gateway.Gateway, notif Notifier, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg.withDefaults(), store: store, gw: gw, notif: notif, log: log}
}

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Enabled
}

// Start begins the tick loop. The DelayIfStillRunning chain guarantees the
// single-flight tick discipline: an overrunning tick postpones, never
// parallelizes, the next one.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.c != nil {
		return
	}
	e.runCtx = ctx
	e.c = cron.New(cron.WithChain(cron.DelayIfStillRunning(cronLog{e.log})))
	spec := fmt.Sprintf("@every %s", e.cfg.Interval)
	if _, err := e.c.AddFunc(spec, e.tick); err != nil {
		// Only reachable with a broken interval; surface loudly and stay stopped.
		e.log.Error("tick registration failed", logx.String("spec", spec), logx.Err(err))
		e.c = nil
		return
	}
	e.c.Start()
	e.log.Info("engine started",
		logx.Duration("interval", e.cfg.Interval),
		logx.Duration("grace", e.cfg.Grace),
		logx.Int("workers", e.cfg.Workers))
}

// Stop halts the tick loop, letting an in-flight tick finish (bounded by ctx).
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	c := e.c
	e.c = nil
	e.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// Abandoned ticks are safe: state transitions are idempotent and
		// re-derived from the store on the next start.
	}
	e.log.Info("engine stopped")
}

// Apply updates tunables at runtime. An interval change restarts the loop.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	oldInterval := e.cfg.Interval
	running := e.c != nil
	ctx := e.runCtx
	e.cfg = cfg
	e.mu.Unlock()

	if running && cfg.Interval != oldInterval {
		e.log.Info("tick interval changed; restarting loop",
			logx.Duration("old", oldInterval), logx.Duration("new", cfg.Interval))
		e.Stop(context.Background())
		e.Start(ctx)
	}
}

func (e *Engine) tick() {
	e.mu.Lock()
	ctx := e.runCtx
	e.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	_ = e.RunTick(ctx, time.Now().UTC())
}

// RunTick performs one evaluation pass of all rules against now. It is the
// embedding entry point; the background loop calls it once per interval.
// The returned error is non-nil only when the rule listing itself failed
// (the whole tick aborts and is retried after the next interval).
func (e *Engine) RunTick(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	runID := uuid.NewString()[:8]
	log := e.log.With(logx.String("run", runID))

	rules, err := e.store.ListRules(ctx)
	if err != nil {
		log.Error("rule listing failed; tick aborted", logx.Err(err))
		return err
	}
	if len(rules) == 0 {
		return nil
	}
	log.Debug("tick", logx.Time("now", now), logx.Int("rules", len(rules)))

	// Rules are unique per key, so dispatching one goroutine per rule keeps
	// all operations on a key strictly sequential.
	sem := make(chan struct{}, cfg.Workers)
	var wg sync.WaitGroup
	for _, r := range rules {
		r := r
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.evalRule(ctx, log, cfg, r, now)
		}()
	}
	wg.Wait()
	return nil
}

// evalRule derives the rule's due transition(s) and executes them. Errors
// are contained here so one bad rule never blocks its siblings.
func (e *Engine) evalRule(ctx context.Context, log logx.Logger, cfg Config, r schedule.Rule, now time.Time) {
	log = log.With(logx.String("rule", r.Key().String()))

	loc, err := r.Location()
	if err != nil {
		log.Warn("rule skipped: unresolvable timezone", logx.String("tz", r.Timezone), logx.Err(err))
		return
	}

	inst, open, err := e.store.OpenInstance(ctx, r.Key())
	if err != nil {
		log.Error("rule skipped: instance lookup failed", logx.Err(err))
		return
	}

	if !open {
		trigger := r.At.On(now.In(loc))
		since := now.Sub(trigger)
		window := cfg.Interval + cfg.Grace
		switch {
		case since < 0:
			// Not due yet today.
		case since < window:
			e.executeCreate(ctx, log, r, now)
		case since < window+cfg.Interval:
			// Log the miss once (roughly one tick) instead of every pass.
			log.Warn("create window missed for today",
				logx.Time("trigger", trigger), logx.Duration("late_by", since))
		}
		return
	}

	age := now.Sub(inst.CreatedAt)
	if r.LockAfter > 0 && !inst.Locked && age >= r.LockAfter {
		// Lock is applied before delete even when both deadlines have
		// passed within the same tick.
		e.executeLock(ctx, log, r, inst)
	}
	if age >= r.DeleteAfter {
		e.executeDelete(ctx, log, r, inst)
	}
}

// cronLog adapts logx to the cron.Logger interface used by the
// DelayIfStillRunning wrapper.
type cronLog struct{ log logx.Logger }

func (c cronLog) Info(msg string, kv ...interface{}) {
	c.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (c cronLog) Error(err error, msg string, kv ...interface{}) {
	c.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
