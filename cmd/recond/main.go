// recond is the reconciliation and settlement engine daemon. It runs the
// scheduled matching and aging jobs, consumes clearing status updates, and
// exposes a small ops HTTP surface for health, metrics, and manual
// triggers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cleargate/reconengine/internal/adapter"
	"github.com/cleargate/reconengine/internal/breaks"
	"github.com/cleargate/reconengine/internal/config"
	"github.com/cleargate/reconengine/internal/matching"
	"github.com/cleargate/reconengine/internal/model"
	"github.com/cleargate/reconengine/internal/reconcile"
	"github.com/cleargate/reconengine/internal/report"
	"github.com/cleargate/reconengine/internal/runner"
	"github.com/cleargate/reconengine/internal/settlement"
	"github.com/cleargate/reconengine/internal/store"
	"github.com/cleargate/reconengine/internal/tolerance"
	"github.com/cleargate/reconengine/pkg/logger"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := os.Getenv("RECON_CONFIG")
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("recond exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return err
		}
	}

	tol := tolerance.NewResolver()
	if cfg.Tolerances != "" {
		if err := tol.LoadProfiles(cfg.Tolerances); err != nil {
			return err
		}
	}

	breakRepo := store.NewBreakRepo(db)
	matchRepo := store.NewMatchRepo(db)
	instructionRepo := store.NewInstructionRepo(db)
	snapRepo := store.NewSnapshotRepo(db)

	notifier := adapter.NewLogNotifier(log)
	manager := breaks.NewManager(breakRepo, notifier, log)

	thresholds := matching.Thresholds{
		AutoMatch: cfg.Matching.AutoMatch,
		Partial:   cfg.Matching.Partial,
		Fuzzy:     cfg.Matching.Fuzzy,
	}
	engine := matching.NewEngine(matching.NewScorer(), thresholds, manager, notifier, log)

	lifecycle := settlement.NewLifecycleManager(instructionRepo, instructionRepo, adapter.NewMemoryLedger(), manager, log)

	aggregator := report.NewAggregator(&reportSource{breaks: breakRepo, matches: matchRepo, instructions: instructionRepo}, log)

	deps := &opsDeps{
		manager:    manager,
		lifecycle:  lifecycle,
		aggregator: aggregator,
		csv:        adapter.NewCSVSource(),
		matches:    matchRepo,
		snapshots:  snapRepo,
		positions:  reconcile.NewPositionReconciler(manager, tol, log),
		cash:       reconcile.NewCashReconciler(manager, tol, log),
		logger:     log,
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	if len(cfg.Kafka.Brokers) > 0 {
		clearing := adapter.NewKafkaClearingAdapter(cfg.Kafka, log)
		defer clearing.Close()
		go func() {
			err := clearing.ConsumeStatusUpdates(rootCtx, func(ctx context.Context, update adapter.StatusUpdate) error {
				return applyStatusUpdate(ctx, lifecycle, update)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("clearing consumer stopped", zap.Error(err))
			}
		}()
	}

	rn := runner.NewRunner(engine, manager, matchRepo, tol, rdb, log)
	if err := rn.Start(cfg.Schedule); err != nil {
		return err
	}
	defer rn.Stop()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: opsRouter(rn, deps),
	}
	go func() {
		log.Info("ops server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ops server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")
	cancelRoot()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// applyStatusUpdate maps a clearing callback onto a lifecycle transition.
func applyStatusUpdate(ctx context.Context, lifecycle *settlement.LifecycleManager, update adapter.StatusUpdate) error {
	actor := "clearing:" + update.Reference
	var next model.SettlementState
	switch model.StateKind(update.State) {
	case model.StateInstructed:
		next = model.Instructed{InstructionRef: update.Reference, InstructedAt: update.OccurredAt}
	case model.StateMatched:
		next = model.Matched{MatchRef: update.Reference, MatchedAt: update.OccurredAt}
	case model.StateAffirmed:
		next = model.Affirmed{AffirmationRef: update.Reference, AffirmedAt: update.OccurredAt}
	case model.StateSettled:
		next = model.Settled{SettlementRef: update.Reference, SettledOn: update.OccurredAt}
	case model.StateFailed:
		next = model.Failed{Reason: update.Reason, Code: "CLEARING", FailedAt: update.OccurredAt}
	default:
		return fmt.Errorf("unmapped clearing state %q", update.State)
	}
	_, err := lifecycle.Transition(ctx, update.InstructionID, next, actor)
	return err
}

// reportSource adapts the repositories to the aggregator's read interface.
type reportSource struct {
	breaks       *store.BreakRepo
	matches      *store.MatchRepo
	instructions *store.InstructionRepo
}

func (s *reportSource) MatchResultsForRun(ctx context.Context, runID string) ([]*model.MatchResult, error) {
	return s.matches.MatchResultsForRun(ctx, runID)
}

func (s *reportSource) BreaksDetectedBetween(ctx context.Context, from, to time.Time) ([]*model.ReconciliationBreak, error) {
	return s.breaks.BreaksDetectedBetween(ctx, from, to)
}

func (s *reportSource) InstructionsSettlingBetween(ctx context.Context, from, to time.Time) ([]*model.SettlementInstruction, error) {
	return s.instructions.InstructionsSettlingBetween(ctx, from, to)
}

// opsDeps carries the collaborators behind the ops HTTP surface.
type opsDeps struct {
	manager    *breaks.Manager
	lifecycle  *settlement.LifecycleManager
	aggregator *report.Aggregator
	csv        *adapter.CSVSource
	matches    *store.MatchRepo
	snapshots  *store.SnapshotRepo
	positions  *reconcile.PositionReconciler
	cash       *reconcile.CashReconciler
	logger     *zap.Logger
}

func opsRouter(rn *runner.Runner, deps *opsDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	manager := deps.manager
	lifecycle := deps.lifecycle
	aggregator := deps.aggregator
	log := deps.logger

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/runs/trades", func(c *gin.Context) {
		date := time.Now().UTC()
		if d := c.Query("date"); d != "" {
			parsed, err := time.Parse("2006-01-02", d)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
			date = parsed
		}
		summary, err := rn.RunTradeReconciliation(c.Request.Context(), date)
		if err != nil {
			if errors.Is(err, runner.ErrRunInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			log.Error("manual trade run failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	r.POST("/runs/aging-sweep", func(c *gin.Context) {
		alerts, err := rn.RunAgingSweep(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": alerts})
	})

	r.GET("/breaks/:id", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid break id"})
			return
		}
		brk, err := manager.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, breaks.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, brk)
	})

	r.POST("/instructions/:id/settle", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instruction id"})
			return
		}
		actor := c.DefaultQuery("actor", "ops")
		si, err := lifecycle.Get(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if si.Type.HasCashLeg() {
			si, err = lifecycle.ProcessDVP(c.Request.Context(), id, actor)
		} else {
			si, err = lifecycle.ProcessFOP(c.Request.Context(), id, actor)
		}
		if err != nil {
			writeLifecycleError(c, err)
			return
		}
		c.JSON(http.StatusOK, si)
	})

	r.POST("/instructions/:id/cancel", func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instruction id"})
			return
		}
		si, err := lifecycle.Cancel(c.Request.Context(), id, c.DefaultQuery("actor", "ops"), c.Query("reason"))
		if err != nil {
			writeLifecycleError(c, err)
			return
		}
		c.JSON(http.StatusOK, si)
	})

	r.POST("/ingest/trades", func(c *gin.Context) {
		file := c.Query("file")
		if file == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file query parameter required"})
			return
		}
		trades, err := deps.csv.FetchTrades(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := deps.matches.SaveTrades(c.Request.Context(), trades); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"loaded": len(trades)})
	})

	r.POST("/ingest/confirmations", func(c *gin.Context) {
		file := c.Query("file")
		if file == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file query parameter required"})
			return
		}
		confs, err := deps.csv.FetchConfirmations(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := deps.matches.SaveConfirmations(c.Request.Context(), confs); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"loaded": len(confs)})
	})

	r.POST("/ingest/positions", func(c *gin.Context) {
		var snap model.PositionSnapshot
		if err := c.ShouldBindJSON(&snap); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if snap.ID == uuid.Nil {
			snap.ID = uuid.New()
		}
		if err := deps.snapshots.SavePositionSnapshot(c.Request.Context(), &snap); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": snap.ID})
	})

	r.POST("/ingest/cash", func(c *gin.Context) {
		var bal model.CashBalance
		if err := c.ShouldBindJSON(&bal); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if bal.ID == uuid.Nil {
			bal.ID = uuid.New()
		}
		if err := deps.snapshots.SaveCashBalance(c.Request.Context(), &bal); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": bal.ID})
	})

	r.POST("/runs/positions", func(c *gin.Context) {
		account := c.Query("account")
		if account == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account query parameter required"})
			return
		}
		source := model.ConfirmationSource(c.DefaultQuery("source", string(model.SourceCustodian)))
		asOf := time.Now().UTC()
		ctx := c.Request.Context()

		internal, err := deps.snapshots.LatestPositionSnapshot(ctx, account, model.SourceInternal, asOf)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		external, err := deps.snapshots.LatestPositionSnapshot(ctx, account, source, asOf)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		out, err := deps.positions.Reconcile(ctx, internal, external)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"breaks": len(out)})
	})

	r.POST("/runs/cash", func(c *gin.Context) {
		account := c.Query("account")
		currency := c.Query("currency")
		if account == "" || currency == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account and currency query parameters required"})
			return
		}
		source := model.ConfirmationSource(c.DefaultQuery("source", string(model.SourceCustodian)))
		asOf := time.Now().UTC()
		ctx := c.Request.Context()

		internal, err := deps.snapshots.LatestCashBalance(ctx, account, currency, model.SourceInternal, asOf)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		external, err := deps.snapshots.LatestCashBalance(ctx, account, currency, source, asOf)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		out, err := deps.cash.Reconcile(ctx, internal, external)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"breaks": len(out)})
	})

	r.POST("/runs/nostro", func(c *gin.Context) {
		account := c.Query("account")
		currency := c.Query("currency")
		if account == "" || currency == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account and currency query parameters required"})
			return
		}
		asOf := time.Now().UTC()
		ctx := c.Request.Context()

		ledger, err := deps.snapshots.LatestCashBalance(ctx, account, currency, model.SourceInternal, asOf)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		statement, err := deps.snapshots.LatestNostroStatement(ctx, account, asOf)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		out, err := deps.cash.ReconcileNostro(ctx, ledger, statement)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"breaks": len(out)})
	})

	r.GET("/reports/breaks", func(c *gin.Context) {
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -30)
		rep, err := aggregator.BreakReport(c.Request.Context(), from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rep)
	})

	r.GET("/reports/settlement", func(c *gin.Context) {
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -30)
		rep, err := aggregator.SettlementReport(c.Request.Context(), from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rep)
	})

	return r
}

func writeLifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, settlement.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, settlement.ErrTerminalState), errors.Is(err, settlement.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, settlement.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
