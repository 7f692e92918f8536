// Package bootstrap assembles the engine from configuration and owns the
// component lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"options_engine/internal/alert"
	"options_engine/internal/broker"
	"options_engine/internal/broker/kite"
	"options_engine/internal/broker/sim"
	"options_engine/internal/clock"
	"options_engine/internal/condition"
	"options_engine/internal/config"
	"options_engine/internal/core"
	"options_engine/internal/events"
	"options_engine/internal/infrastructure/health"
	"options_engine/internal/infrastructure/metrics"
	"options_engine/internal/logging"
	"options_engine/internal/margin"
	"options_engine/internal/order"
	"options_engine/internal/position"
	"options_engine/internal/session"
	"options_engine/internal/subscription"
	"options_engine/internal/tickdata"
	"options_engine/pkg/concurrency"
	"options_engine/pkg/retry"
	"options_engine/pkg/telemetry"
)

const (
	serviceName = "options_engine"

	// marginTTL bounds how stale the cached available-margin figure may be.
	marginTTL = 30 * time.Second
	// marginBuffer is the headroom fraction withheld from available margin
	// before admitting an order.
	marginBuffer = 0.05

	sessionPollInterval = 5 * time.Second
	shutdownGrace       = 10 * time.Second
)

// App wires every component from configuration. Construction is side-effect
// free apart from opening the local SQLite stores; network activity starts
// in Run.
type App struct {
	cfg    *config.Config
	logger core.ILogger
	mode   core.TradingMode

	telemetry *telemetry.Telemetry
	eventPool *concurrency.WorkerPool
	condPool  *concurrency.WorkerPool

	Bus      *events.Bus
	Calendar *clock.Calendar

	Store       *order.Store
	Router      *order.Router
	Amendments  *order.AmendmentMachine
	KillSwitch  *order.KillSwitch
	FillTracker *order.FillTracker
	Positions   *position.Book
	Margin      *margin.Service

	Subscriptions core.ISubscriptionManager
	Sessions      *session.Coordinator
	Conditions    *condition.Engine
	Recorder      *tickdata.Recorder
	Alerts        *alert.Manager
	Gateway       core.IBrokerGateway

	queue        *order.PriorityQueue
	consumer     *order.Consumer
	timeouts     *order.TimeoutMonitor
	binder       *feedBinder
	sessionStore *session.SQLiteStore
	history      *condition.HistoryStore
	healthMon    *health.Monitor
	metricsSrv   *metrics.Server

	liveUpdates *order.UpdateHandler

	streamMu sync.Mutex
	stream   *kite.Stream
}

// NewApp builds the full component graph for the configured trading mode.
func NewApp(cfg *config.Config) (*App, error) {
	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	logging.SetGlobalLogger(logger)

	tel, err := telemetry.Setup(serviceName)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	calendar, err := clock.NewCalendar(cfg.Broker.Timezone)
	if err != nil {
		return nil, fmt.Errorf("calendar init failed: %w", err)
	}

	a := &App{
		cfg:       cfg,
		logger:    logger.WithField("component", "app"),
		mode:      core.TradingMode(cfg.Mode()),
		telemetry: tel,
		Calendar:  calendar,
	}

	a.eventPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "events",
		MaxWorkers:  cfg.Concurrency.EventPoolSize,
		MaxCapacity: cfg.Concurrency.EventPoolBuffer,
	}, logger)
	a.condPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "conditions",
		MaxWorkers:  cfg.Concurrency.ConditionPoolSize,
		MaxCapacity: cfg.Concurrency.ConditionPoolBuffer,
	}, logger)
	a.Bus = events.NewBus(a.eventPool, logger)

	a.Store = order.NewStore()
	a.queue = order.NewPriorityQueue()
	a.Positions = position.NewBook(logger)

	if err := a.buildGateways(logger); err != nil {
		return nil, err
	}

	a.Margin = margin.NewService(a.Gateway, marginTTL, logger)
	checker := margin.NewHeadroomChecker(a.Margin, decimal.NewFromFloat(marginBuffer), logger)

	dedup := order.NewIdempotencyStore(cfg.IdempotencyWindow())
	a.Router = order.NewRouter(dedup, checker, a.queue, a.Bus, logger)
	a.consumer = order.NewConsumer(a.queue, a.Store, a.Gateway, a.Bus, logger)
	a.Amendments = order.NewAmendmentMachine(a.Store, a.Gateway, a.Bus, logger)
	a.timeouts = order.NewTimeoutMonitor(a.Store, a.Gateway, calendar, a.Bus, order.TimeoutPolicy{
		Market:   time.Duration(cfg.Order.TimeoutMarketSeconds) * time.Second,
		Limit:    time.Duration(cfg.Order.TimeoutLimitSeconds) * time.Second,
		Interval: time.Duration(cfg.Order.MonitorIntervalSecs) * time.Second,
	}, logger)
	a.FillTracker = order.NewFillTracker(a.Bus, logger)
	a.KillSwitch = order.NewKillSwitch(a.Router, a.Store, a.Gateway, a.Positions, a.Bus, logger)

	a.binder = newFeedBinder(subscription.NewManager(cfg.Subscription.MaxInstruments, logger), logger)
	a.Subscriptions = a.binder

	a.history, err = condition.NewHistoryStore(cfg.Condition.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("condition history init failed: %w", err)
	}
	a.Conditions = condition.NewEngine(a.Bus, a.history, a.conditionAction, logger)
	a.Bus.SubscribeTicks(func(e core.TickEvent) {
		update := core.IndicatorUpdate{
			InstrumentToken: e.Tick.InstrumentToken,
			Indicator:       "ltp",
			Value:           e.Tick.LastPriceDecimal(),
			At:              e.Tick.Timestamp,
		}
		// Rule evaluation runs on its own pool so a slow rule action
		// cannot back up tick fan-out.
		if err := a.condPool.Submit(func() { a.Conditions.OnIndicatorUpdate(update) }); err != nil {
			a.Conditions.OnIndicatorUpdate(update)
		}
	})

	if a.mode != core.ModePaper {
		a.Recorder = tickdata.NewRecorder(tickdata.RecorderConfig{
			Directory:          cfg.Recorder.Directory,
			FlushThreshold:     cfg.Recorder.FlushThreshold,
			FlushInterval:      time.Duration(cfg.Recorder.FlushIntervalMs) * time.Millisecond,
			CompressAfterClose: cfg.Recorder.CompressAfterClose,
		}, calendar, a.Bus, logger)
	}

	a.Alerts = alert.NewManager(logger)
	a.Alerts.AddChannel(alert.NewSlackChannel(os.Getenv("SLACK_WEBHOOK_URL")))
	a.Alerts.AddChannel(alert.NewTelegramChannel(os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID")))
	alert.NewBridge(a.Alerts, a.Bus)

	a.healthMon = health.NewMonitor(logger)
	a.healthMon.Register("order_queue", func() error { return nil })
	if a.Sessions != nil {
		a.healthMon.Register("session", func() error {
			if !a.Sessions.IsAuthenticated() {
				return fmt.Errorf("no active broker session")
			}
			return nil
		})
	}
	if cfg.Telemetry.EnableMetrics {
		a.metricsSrv = metrics.NewServer(cfg.Telemetry.MetricsPort, a.healthMon, logger)
	}

	return a, nil
}

// buildGateways constructs the live and simulated execution paths and
// selects the active one for the trading mode.
func (a *App) buildGateways(logger core.ILogger) error {
	cfg := a.cfg

	var live core.IBrokerGateway
	if a.mode != core.ModePaper {
		store, err := session.NewSQLiteStore(cfg.Session.StorePath)
		if err != nil {
			return fmt.Errorf("session store init failed: %w", err)
		}
		a.sessionStore = store

		auth := kite.NewAuthenticator(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Broker.APISecret,
			kite.EnvTokenProvider{Var: "KITE_REQUEST_TOKEN"}, a.Calendar, logger)
		a.Sessions = session.NewCoordinator(store, auth, a.Calendar, retry.Policy{
			MaxAttempts:    cfg.Session.StartupAttempts,
			InitialBackoff: time.Duration(cfg.Session.StartupBackoff) * time.Second,
			MaxBackoff:     time.Duration(cfg.Session.MaxBackoff) * time.Second,
		}, logger)

		client := kite.NewClient(cfg.Broker.BaseURL, cfg.Broker.APIKey, a.Sessions, logger)
		live = kite.NewGateway(client, logger)
	}

	var simGW core.IBrokerGateway
	if a.mode != core.ModeLive {
		simUpdates := order.NewUpdateHandler(a.Store, a.Bus, nil, "sim", logger)
		book := sim.NewOrderBook(int64(cfg.Simulator.SlippageBps), simUpdates.Handle, logger)
		a.Bus.SubscribeTicks(func(e core.TickEvent) { book.OnTick(e.Tick) })
		sim.NewVirtualPositionBook(a.Positions, a.Bus, "sim")
		simGW = sim.NewGateway(book, a.Positions, decimal.NewFromInt(cfg.Simulator.VirtualCash), logger)
	}

	gw, err := broker.Select(a.mode, live, simGW)
	if err != nil {
		return err
	}
	a.Gateway = gw

	// Live fills reconcile the position book against the broker; simulated
	// fills flow through the virtual position book instead.
	var reconciler order.Reconciler
	if a.mode == core.ModeLive {
		reconciler = position.NewReconciler(a.Positions, gw, logger)
	}
	if a.mode != core.ModePaper {
		a.liveUpdates = order.NewUpdateHandler(a.Store, a.Bus, reconciler, "live", logger)
	}
	return nil
}

func (a *App) conditionAction(ctx context.Context, rule *condition.Rule, value decimal.Decimal) {
	a.logger.Info("Condition action fired",
		"rule_id", rule.ID,
		"action", rule.Action,
		"value", value.String())
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// down in reverse order.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting engine", "mode", string(a.mode))

	if a.Sessions != nil {
		if err := a.Sessions.Start(ctx); err != nil {
			return fmt.Errorf("session coordinator start failed: %w", err)
		}
	}
	if err := a.consumer.Start(ctx); err != nil {
		return err
	}
	if err := a.timeouts.Start(ctx); err != nil {
		return err
	}
	if err := a.Conditions.Start(ctx); err != nil {
		return err
	}
	if a.Recorder != nil && a.cfg.Recorder.AutoStart {
		if err := a.Recorder.Start(ctx); err != nil {
			return err
		}
	}
	if a.metricsSrv != nil {
		a.metricsSrv.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.Sessions != nil {
		g.Go(func() error {
			a.startLiveFeed(gctx)
			return nil
		})
	}

	<-gctx.Done()
	a.logger.Info("Shutdown signal received")
	err := g.Wait()
	a.shutdown()
	return err
}

// startLiveFeed waits for a broker session, then opens the streaming feed
// and binds the subscription manager to it. Degraded mode (no session yet)
// retries on a fixed cadence.
func (a *App) startLiveFeed(ctx context.Context) {
	ticker := time.NewTicker(sessionPollInterval)
	defer ticker.Stop()

	for {
		token, err := a.Sessions.EnsureSession(ctx)
		if err == nil {
			stream := kite.NewStream(a.cfg.Broker.StreamURL, a.cfg.Broker.APIKey, token,
				a.Bus, a.liveUpdates.Handle, a.logger)
			a.streamMu.Lock()
			a.stream = stream
			a.streamMu.Unlock()

			stream.Start()
			a.binder.Attach(stream)
			a.logger.Info("Market-data feed attached")
			return
		}
		a.logger.Warn("Feed start deferred, no broker session", "error", err.Error())

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) shutdown() {
	a.streamMu.Lock()
	stream := a.stream
	a.streamMu.Unlock()
	if stream != nil {
		stream.Stop()
	}

	if a.Recorder != nil {
		if err := a.Recorder.Stop(); err != nil {
			a.logger.Error("Recorder stop failed", "error", err.Error())
		}
	}
	if err := a.Conditions.Stop(); err != nil {
		a.logger.Error("Condition engine stop failed", "error", err.Error())
	}
	if err := a.timeouts.Stop(); err != nil {
		a.logger.Error("Timeout monitor stop failed", "error", err.Error())
	}
	if err := a.consumer.Stop(); err != nil {
		a.logger.Error("Consumer stop failed", "error", err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Stop(shutdownCtx); err != nil {
			a.logger.Error("Metrics server stop failed", "error", err.Error())
		}
	}

	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Error("Condition history close failed", "error", err.Error())
		}
	}
	if a.sessionStore != nil {
		if err := a.sessionStore.Close(); err != nil {
			a.logger.Error("Session store close failed", "error", err.Error())
		}
	}

	a.eventPool.Stop()
	a.condPool.Stop()
	if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Telemetry shutdown failed", "error", err.Error())
	}
	a.logger.Info("Engine stopped")
}
