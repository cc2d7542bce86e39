// Package runner orchestrates scheduled reconciliation runs. Each scope
// runs at most once per business date across all engine instances; a redis
// lock arbitrates between processes and singleflight collapses duplicate
// triggers within one process.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cleargate/reconengine/internal/breaks"
	"github.com/cleargate/reconengine/internal/matching"
	"github.com/cleargate/reconengine/internal/model"
	"github.com/cleargate/reconengine/internal/store"
	"github.com/cleargate/reconengine/internal/tolerance"
)

// ErrRunInProgress reports that another process holds the run lock for the
// same scope and date.
var ErrRunInProgress = fmt.Errorf("reconciliation run already in progress")

// lockTTL bounds how long a crashed process can hold a run lock.
const lockTTL = 2 * time.Hour

// Schedule holds the cron expressions for recurring work.
type Schedule struct {
	TradeRun   string `mapstructure:"trade_run"`
	AgingSweep string `mapstructure:"aging_sweep"`
}

// Runner drives matching runs and aging sweeps on a schedule or on demand.
type Runner struct {
	engine  *matching.Engine
	manager *breaks.Manager
	matches *store.MatchRepo
	tol     *tolerance.Resolver
	rdb     *redis.Client
	logger  *zap.Logger
	cron    *cron.Cron
	group   singleflight.Group
}

// NewRunner constructs a runner. rdb may be nil for single-process
// deployments; the redis lock is then skipped.
func NewRunner(engine *matching.Engine, manager *breaks.Manager, matches *store.MatchRepo, tol *tolerance.Resolver, rdb *redis.Client, logger *zap.Logger) *Runner {
	return &Runner{
		engine:  engine,
		manager: manager,
		matches: matches,
		tol:     tol,
		rdb:     rdb,
		logger:  logger,
		cron:    cron.New(),
	}
}

// RunTradeReconciliation executes one trade matching run for the date,
// loading inputs from the store and persisting the results. Concurrent
// triggers for the same date collapse into one execution.
func (r *Runner) RunTradeReconciliation(ctx context.Context, date time.Time) (*model.RunSummary, error) {
	key := runKey(model.ScopeTrade, date)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		release, err := r.acquireLock(ctx, key)
		if err != nil {
			return nil, err
		}
		defer release()
		return r.runTrades(ctx, date)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.RunSummary), nil
}

func (r *Runner) runTrades(ctx context.Context, date time.Time) (*model.RunSummary, error) {
	var trades []*model.Trade
	var confs []*model.Confirmation

	// Load both sides in parallel.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		trades, err = r.matches.TradesForDate(gctx, date)
		return err
	})
	g.Go(func() error {
		var err error
		confs, err = r.matches.ConfirmationsForDate(gctx, date)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load run inputs: %w", err)
	}

	run, err := r.engine.MatchTrades(ctx, trades, confs, r.tol.Resolve(model.ScopeTrade))
	if err != nil {
		return nil, err
	}
	if err := r.matches.SaveResults(ctx, run.Results); err != nil {
		return nil, err
	}
	r.logger.Info("trade reconciliation run complete",
		zap.String("run_id", run.RunID.String()),
		zap.String("date", date.Format("2006-01-02")),
		zap.Int("trades", run.Summary.Trades),
		zap.Int("matched", run.Summary.Matched),
		zap.Int("unmatched", run.Summary.Unmatched))
	return &run.Summary, nil
}

// RunAgingSweep recomputes break ages and fires SLA alerts.
func (r *Runner) RunAgingSweep(ctx context.Context) (int, error) {
	alerts, err := r.manager.SweepAging(ctx)
	if err != nil {
		return 0, err
	}
	r.logger.Info("aging sweep complete", zap.Int("alerts", alerts))
	return alerts, nil
}

// Start registers the cron entries and begins the scheduler.
func (r *Runner) Start(sched Schedule) error {
	if sched.TradeRun != "" {
		if _, err := r.cron.AddFunc(sched.TradeRun, func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
			defer cancel()
			if _, err := r.RunTradeReconciliation(ctx, time.Now().UTC()); err != nil {
				r.logger.Error("scheduled trade run failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("register trade run schedule: %w", err)
		}
	}
	if sched.AgingSweep != "" {
		if _, err := r.cron.AddFunc(sched.AgingSweep, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
			defer cancel()
			if _, err := r.RunAgingSweep(ctx); err != nil {
				r.logger.Error("scheduled aging sweep failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("register aging sweep schedule: %w", err)
		}
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for in-flight jobs.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}

// acquireLock takes the cross-process run lock for a scope and date.
// Returns ErrRunInProgress when another process holds it.
func (r *Runner) acquireLock(ctx context.Context, key string) (func(), error) {
	if r.rdb == nil {
		return func() {}, nil
	}
	ok, err := r.rdb.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, key)
	}
	return func() {
		if err := r.rdb.Del(context.Background(), key).Err(); err != nil {
			r.logger.Warn("release run lock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func runKey(scope model.BreakScope, date time.Time) string {
	return fmt.Sprintf("recon:run:%s:%s", scope, date.Format("2006-01-02"))
}
