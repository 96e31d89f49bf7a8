package app

import (
	"context"
	"fmt"
	"time"

	"github.com/vperret/gridpilot/config"
	"github.com/vperret/gridpilot/core/backtest"
	"github.com/vperret/gridpilot/core/command"
	"github.com/vperret/gridpilot/core/forecast"
	"github.com/vperret/gridpilot/core/gridwatch"
	coremetrics "github.com/vperret/gridpilot/core/metrics"
	coremon "github.com/vperret/gridpilot/core/monitoring"
	"github.com/vperret/gridpilot/core/plan"
	"github.com/vperret/gridpilot/core/reliability"
	"github.com/vperret/gridpilot/core/scheduler"
	"github.com/vperret/gridpilot/core/split"
	"github.com/vperret/gridpilot/infra/audit"
	"github.com/vperret/gridpilot/infra/logger"
	"github.com/vperret/gridpilot/infra/metrics"
	"github.com/vperret/gridpilot/infra/monitoring"
	"github.com/vperret/gridpilot/infra/mqtt"
	"github.com/vperret/gridpilot/infra/store"
	"github.com/vperret/gridpilot/internal/eventbus"
)

// Service wires the scheduler to its adapters, sinks and stores.
type Service struct {
	cfg *config.Config
	log logger.Logger

	scheduler *scheduler.Scheduler
	tuner     *backtest.Manager
	events    *eventbus.Events
	adapters  []*mqtt.Adapter
	notifier  *mqtt.Notifier
	sink      coremetrics.Sink
	auditor   *audit.Writer
	store     *store.SQLiteStore
	monitor   coremon.Monitor
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	log := logger.New("service")

	monitor, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}

	db, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	var sinks []coremetrics.Sink
	sinks = append(sinks, store.NewSetpointSink(db, logger.New("store")))
	if cfg.Metrics.PromAddr != "" {
		sink, err := metrics.NewPromSink(nil)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.Influx.URL != "" {
		sinks = append(sinks, metrics.NewInfluxSinkWithFallback(cfg.Metrics.Influx))
	}
	var sink coremetrics.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else {
		sink = metrics.NewMultiSink(sinks...)
	}

	var adapters []*mqtt.Adapter
	var schedAdapters []command.Adapter
	for _, invCfg := range cfg.Inverters {
		mqttCfg := cfg.MQTT
		mqttCfg.ClientID = fmt.Sprintf("%s-%s", cfg.MQTT.ClientID, invCfg.InverterID)
		a, err := mqtt.NewAdapter(invCfg, mqttCfg)
		if err != nil {
			return nil, fmt.Errorf("inverter %s: %w", invCfg.InverterID, err)
		}
		adapters = append(adapters, a)
		schedAdapters = append(schedAdapters, a)
	}

	notifier, err := mqtt.NewNotifier(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("mqtt notifier: %w", err)
	}

	auditor := audit.NewWriter(cfg.Audit)
	events := eventbus.NewEvents()

	floor := reliability.NewCalculator(cfg.Reliability, logger.New("reliability"))
	restoreTunables(floor, db, log)

	tuner := backtest.NewManager(cfg.Backtest, floor, logger.New("backtest"))
	if err := restoreOutcomes(tuner, db, cfg.Backtest); err != nil {
		log.Warnf("restore outcomes: %v", err)
	}
	tuner.OnRecord(func(o backtest.DayOutcome) {
		if err := db.SaveOutcome(o); err != nil {
			log.Errorf("save outcome: %v", err)
		}
		if st, ok := floor.Snapshot(); ok {
			if err := db.SaveSnapshot(st); err != nil {
				log.Errorf("save reliability snapshot: %v", err)
			}
		}
	})
	tuner.OnAdopt(func(t reliability.Tunables) {
		if err := db.SetValue("base_buffer_pct", t.BaseBufferPct, "auto-tuner"); err != nil {
			log.Errorf("persist base_buffer_pct: %v", err)
		}
		if err := db.SetValue("max_cushion_pct", t.MaxCushionPct, "auto-tuner"); err != nil {
			log.Errorf("persist max_cushion_pct: %v", err)
		}
		auditor.Record("tunables_adopted", t)
	})

	profiler := forecast.NewTelemetryProfiler()
	sched := scheduler.New(cfg.Scheduler, scheduler.Deps{
		Detector:   gridwatch.New(cfg.GridWatch, logger.New("gridwatch")),
		Floor:      floor,
		Builder:    plan.NewBuilder(cfg.Plan, logger.New("plan")),
		Splitter:   split.New(cfg.Split),
		Dispatcher: command.NewDispatcher(cfg.Command, logger.New("dispatch")),
		Forecast:   forecast.NewAggregator(cfg.Forecast, forecast.OpenMeteoProvider(cfg.Forecast), profiler),
		Tuner:      tuner,
		Adapters:   schedAdapters,
		Sink:       sink,
		Events:     events,
		Monitor:    monitor,
		Audit:      auditor,
		LoadObs:    profiler,
		Log:        logger.New("scheduler"),
	})

	return &Service{
		cfg:       cfg,
		log:       log,
		scheduler: sched,
		tuner:     tuner,
		events:    events,
		adapters:  adapters,
		notifier:  notifier,
		sink:      sink,
		auditor:   auditor,
		store:     db,
		monitor:   monitor,
	}, nil
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Metrics.PromAddr != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PromAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	go s.notifier.Run(ctx, s.events)
	go s.tuner.Run(ctx)
	go s.persistEvents(ctx)

	s.log.Infof("gridpilot starting with %d inverters", len(s.adapters))
	s.scheduler.Run(ctx)
	return nil
}

// TickOnce runs a single scheduling pass, for the one-shot CLI mode.
func (s *Service) TickOnce(ctx context.Context) bool {
	return s.scheduler.Tick(ctx, time.Now())
}

// Events exposes the scheduler's event buses to external observers.
func (s *Service) Events() *eventbus.Events { return s.events }

// persistEvents mirrors bus events into the store so decisions survive
// restarts.
func (s *Service) persistEvents(ctx context.Context) {
	guard := s.events.Guardrail.Subscribe()
	defer s.events.Guardrail.Unsubscribe(guard)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-guard:
			if !ok {
				return
			}
			s.auditor.Record("guardrail", e)
		}
	}
}

// Close releases all resources.
func (s *Service) Close() error {
	for _, a := range s.adapters {
		a.Close()
	}
	s.events.Close()
	s.monitor.Flush()
	if err := s.sink.Close(); err != nil {
		s.log.Errorf("sink close: %v", err)
	}
	if err := s.auditor.Close(); err != nil {
		s.log.Errorf("audit close: %v", err)
	}
	return s.store.Close()
}

// restoreTunables applies persisted Auto-Tuner parameters over the config
// defaults.
func restoreTunables(floor *reliability.Calculator, db *store.SQLiteStore, log logger.Logger) {
	tun := floor.Tunables()
	changed := false
	if v, src, ok, err := db.Value("base_buffer_pct"); err == nil && ok {
		log.Infof("restoring base_buffer_pct=%.1f (%s)", v, src)
		tun.BaseBufferPct = v
		changed = true
	}
	if v, src, ok, err := db.Value("max_cushion_pct"); err == nil && ok {
		log.Infof("restoring max_cushion_pct=%.1f (%s)", v, src)
		tun.MaxCushionPct = v
		changed = true
	}
	if changed {
		floor.SetTunables(tun)
	}
}

// restoreOutcomes reloads the trailing outcome history after a restart.
func restoreOutcomes(tuner *backtest.Manager, db *store.SQLiteStore, cfg backtest.Config) error {
	cfg.SetDefaults()
	outcomes, err := db.RecentOutcomes(cfg.TrailingDays)
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		tuner.Record(o)
	}
	return nil
}
