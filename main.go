package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	apihttp "robot-fleet-cloud/internal/api/http"
	"robot-fleet-cloud/internal/audit"
	"robot-fleet-cloud/internal/auth"
	commandsapp "robot-fleet-cloud/internal/commands/application"
	commandsevents "robot-fleet-cloud/internal/commands/application/events"
	commandsrepo "robot-fleet-cloud/internal/commands/infrastructure/postgres"
	commandshttp "robot-fleet-cloud/internal/commands/interfaces/http"
	"robot-fleet-cloud/internal/dispatch"
	"robot-fleet-cloud/internal/eventing"
	"robot-fleet-cloud/internal/eventing/eventbus"
	eventingrepo "robot-fleet-cloud/internal/eventing/infrastructure/postgres"
	fleet "robot-fleet-cloud/internal/fleet/domain"
	"robot-fleet-cloud/internal/fleet/keys"
	"robot-fleet-cloud/internal/observability/metrics"
	telemetryapp "robot-fleet-cloud/internal/telemetry/application"
	telemetryrepo "robot-fleet-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "robot-fleet-cloud/internal/telemetry/interfaces/http"
	"robot-fleet-cloud/internal/telemetry/sim"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	robotChecker := auth.NewRobotChecker(db)
	auditRepo := audit.NewRepository(db)

	material, err := keys.Load(cfg.KeysConfig)
	if err != nil {
		logger.Fatalf("keys error: %v", err)
	}
	if len(material.TrustedKeys) == 0 {
		logger.Printf("WARNING: no trusted keys configured, signature verification disabled")
	}

	idempotencyStore := commandsrepo.NewIdempotencyStore(db, cfg.IdempotencyRetention)
	commandRepo := commandsrepo.NewCommandRepository(db)
	dlqStore := commandsrepo.NewDLQStore(db)
	haltStore := commandsrepo.NewHaltStore(db)

	haltGate := dispatch.NewHaltGate()
	engine, err := dispatch.NewEngine(dispatch.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		CommandTimeout: cfg.CommandTimeout,
		CanaryFraction: cfg.CanaryFraction,
		NumZones:       cfg.NumZones,
	}, idempotencyStore, haltGate, material.TrustedKeys)
	if err != nil {
		logger.Fatalf("engine error: %v", err)
	}

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(commandsevents.CommandIssued{})
	registry.Register(commandsevents.CommandAccepted{})
	registry.Register(commandsevents.CommandRejected{})
	registry.Register(commandsevents.CommandRetryScheduled{})
	registry.Register(commandsevents.CommandDeadLettered{})
	registry.Register(commandsevents.CommandCompleted{})
	registry.Register(commandsevents.HaltIssued{})
	registry.Register(commandsevents.HaltResumed{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	eventDLQStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, eventDLQStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, cfg.FleetID, baseBus)

	commandService, err := commandsapp.NewService(commandRepo, dlqStore, haltStore, engine, publisher, commandsapp.Config{
		CanaryFraction: cfg.CanaryFraction,
		NumZones:       cfg.NumZones,
		CommandTimeout: cfg.CommandTimeout,
		SigningKey:     material.ControlPrivateKey,
		Source:         cfg.CommandSource,
	})
	if err != nil {
		logger.Fatalf("command service error: %v", err)
	}
	if err := commandService.RestoreHalts(context.Background()); err != nil {
		logger.Fatalf("halt restore error: %v", err)
	}

	stateRepo := telemetryrepo.NewRobotStateRepository(db)
	aggregator, err := telemetryapp.NewStateAggregator(stateRepo, haltGate, cfg.FleetID)
	if err != nil {
		logger.Fatalf("telemetry aggregator error: %v", err)
	}

	// Cooldown commands accepted for live execution turn on active cooling
	// for the robot.
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[commandsevents.CommandAccepted](), "telemetry.cooldown", func(ctx context.Context, event any) error {
		evt, ok := event.(commandsevents.CommandAccepted)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		if evt.DryRun {
			return nil
		}
		record, err := commandService.Find(ctx, evt.CommandID)
		if err != nil || record == nil {
			return err
		}
		if record.Command.Action != fleet.ActionCooldown {
			return nil
		}
		until := float64(time.Now().UTC().UnixNano())/float64(time.Second) + float64(record.Command.Params.DurationSec)
		return aggregator.ApplyCooldown(ctx, evt.RobotID, until)
	}, processedStore)

	eventing.Subscribe(baseBus, eventbus.EventTypeOf[commandsevents.CommandDeadLettered](), "commands.dlq.log", func(ctx context.Context, event any) error {
		evt, ok := event.(commandsevents.CommandDeadLettered)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("command dead-lettered: id=%s robot=%d reason=%s", evt.CommandID, evt.RobotID, evt.Reason)
		return nil
	}, processedStore)
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[commandsevents.HaltIssued](), "halts.log", func(ctx context.Context, event any) error {
		evt, ok := event.(commandsevents.HaltIssued)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		logger.Printf("emergency halt: zone=%d reason=%s", evt.Zone, evt.Reason)
		return nil
	}, processedStore)

	commandHandler, err := commandshttp.NewHandler(commandService, robotChecker, auditRepo)
	if err != nil {
		logger.Fatalf("command handler error: %v", err)
	}
	haltHandler, err := commandshttp.NewHaltHandler(commandService, auditRepo)
	if err != nil {
		logger.Fatalf("halt handler error: %v", err)
	}
	resumeHandler, err := commandshttp.NewResumeHandler(commandService, auditRepo)
	if err != nil {
		logger.Fatalf("resume handler error: %v", err)
	}
	deliveryHandler, err := commandshttp.NewDeliveryHandler(commandService)
	if err != nil {
		logger.Fatalf("delivery handler error: %v", err)
	}
	failureHandler, err := commandshttp.NewFailureHandler(commandService)
	if err != nil {
		logger.Fatalf("failure handler error: %v", err)
	}
	completionHandler, err := commandshttp.NewCompletionHandler(commandService)
	if err != nil {
		logger.Fatalf("completion handler error: %v", err)
	}
	dlqHandler, err := commandshttp.NewDLQHandler(dlqStore, commandService, cfg.FleetID, auditRepo)
	if err != nil {
		logger.Fatalf("dlq handler error: %v", err)
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(aggregator, logger)
	if err != nil {
		logger.Fatalf("telemetry ingest handler error: %v", err)
	}
	stateHandler, err := telemetryhttp.NewStateHandler(aggregator)
	if err != nil {
		logger.Fatalf("state handler error: %v", err)
	}

	go retentionLoop(context.Background(), logger, idempotencyStore, dlqStore, cfg.DLQRetention)
	go dispatchLoop(context.Background(), logger, dispatcher)
	if cfg.SimRobots > 0 {
		gen := sim.NewGenerator(cfg.SimSeed, cfg.NumZones)
		go simulateLoop(context.Background(), logger, gen, aggregator, haltGate, cfg.SimRobots, cfg.NumZones, cfg.SimInterval)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/commands", commandHandler)
	mux.Handle("/api/v1/deliveries", deliveryHandler)
	mux.Handle("/api/v1/failures", failureHandler)
	mux.Handle("/api/v1/completions", completionHandler)
	mux.Handle("/api/v1/halt", haltHandler)
	mux.Handle("/api/v1/resume", resumeHandler)
	mux.Handle("/api/v1/dlq", dlqHandler)
	mux.HandleFunc("/api/v1/exports/dlq.xlsx", dlqHandler.ExportXLSX)
	mux.HandleFunc("/api/v1/exports/dlq.pdf", dlqHandler.ExportPDF)
	mux.Handle("/api/v1/exports/commands.csv", apihttp.NewExportCommandsCSVHandler(db))
	mux.Handle("/api/v1/stats", apihttp.NewStatsHandler(db))
	mux.Handle("/api/v1/telemetry", ingestHandler)
	mux.Handle("/api/v1/robots/state", stateHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

// retentionLoop prunes expired idempotency records and purges old DLQ
// entries on an hourly cadence.
func retentionLoop(ctx context.Context, logger *log.Logger, idem *commandsrepo.IdempotencyStore, dlq *commandsrepo.DLQStore, dlqRetention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			now := tick.UTC()
			if pruned, err := idem.Prune(ctx, now); err != nil {
				logger.Printf("idempotency prune error: %v", err)
			} else if pruned > 0 {
				logger.Printf("idempotency prune: removed %d records", pruned)
			}
			if dlqRetention > 0 {
				if purged, err := dlq.Purge(ctx, now.Add(-dlqRetention)); err != nil {
					logger.Printf("dlq purge error: %v", err)
				} else if purged > 0 {
					logger.Printf("dlq purge: removed %d entries", purged)
				}
			}
		}
	}
}

// dispatchLoop re-drives outbox records that failed inline dispatch.
func dispatchLoop(ctx context.Context, logger *log.Logger, dispatcher *eventing.Dispatcher) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := dispatcher.Dispatch(ctx, 100); err != nil {
				logger.Printf("outbox dispatch error: %v", err)
			}
		}
	}
}

// simulateLoop drives the telemetry generator for a synthetic fleet.
func simulateLoop(ctx context.Context, logger *log.Logger, gen *sim.Generator, aggregator *telemetryapp.StateAggregator, halts *dispatch.HaltGate, robots, numZones int, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			dt := tick.Sub(last).Seconds()
			last = tick
			now := float64(tick.UTC().UnixNano()) / float64(time.Second)
			for robotID := 1; robotID <= robots; robotID++ {
				gen.SetHalted(robotID, halts.IsHalted(fleet.ZoneFor(robotID, numZones)))
				report := gen.Next(robotID, dt, now)
				if err := aggregator.Ingest(ctx, report); err != nil {
					logger.Printf("sim ingest error: robot %d: %v", robotID, err)
					continue
				}
				metrics.IncTelemetrySent()
			}
		}
	}
}

type config struct {
	DatabaseURL          string
	HTTPAddr             string
	FleetID              string
	KeysConfig           string
	CommandSource        string
	MaxRetries           int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	CommandTimeout       time.Duration
	CanaryFraction       float64
	NumZones             int
	IdempotencyRetention time.Duration
	DLQRetention         time.Duration
	JWTSecret            string
	SimRobots            int
	SimInterval          time.Duration
	SimSeed              int64
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:          getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:             getenvDefault("HTTP_ADDR", ":8080"),
		FleetID:              getenvDefault("FLEET_ID", "fleet-demo"),
		KeysConfig:           getenvDefault("KEYS_CONFIG", ""),
		CommandSource:        getenvDefault("COMMAND_SOURCE", "control"),
		MaxRetries:           getenvIntDefault("MAX_RETRIES", 5),
		InitialBackoff:       getenvDuration("INITIAL_BACKOFF", time.Second),
		MaxBackoff:           getenvDuration("MAX_BACKOFF", 0),
		CommandTimeout:       getenvDuration("COMMAND_TIMEOUT", 600*time.Second),
		CanaryFraction:       getenvFloatDefault("CANARY_FRACTION", 0.1),
		NumZones:             getenvIntDefault("NUM_ZONES", 10),
		IdempotencyRetention: getenvDuration("IDEMPOTENCY_RETENTION", 7*24*time.Hour),
		DLQRetention:         getenvDuration("DLQ_RETENTION", 24*time.Hour),
		JWTSecret:            getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		SimRobots:            getenvIntDefault("SIM_ROBOTS", 0),
		SimInterval:          getenvDuration("SIM_INTERVAL", time.Second),
		SimSeed:              int64(getenvIntDefault("SIM_SEED", 42)),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
