package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statusdeck/streamgate/internal/bridge"
	"github.com/statusdeck/streamgate/internal/config"
	"github.com/statusdeck/streamgate/internal/connection"
	"github.com/statusdeck/streamgate/internal/database"
	"github.com/statusdeck/streamgate/internal/gateway"
	"github.com/statusdeck/streamgate/internal/metrics"
	"github.com/statusdeck/streamgate/internal/router"
	"github.com/statusdeck/streamgate/internal/version"
	"github.com/statusdeck/streamgate/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging; the level follows the config and can be
	// changed by a reload.
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level.Set(logLevel(cfg.Instance.LogLevel))

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"endpoints", len(cfg.Endpoints),
		"database", cfg.Database.Enabled,
		"bridge", cfg.Bridge.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database and start the event writer when persistence is
	// enabled.
	var pool *pgxpool.Pool
	var eventWriter *writer.EventWriter
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)

		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		logger.Info("database connected")

		eventWriter = writer.NewEventWriter(writer.WriterConfig{
			BatchSize:        cfg.Database.Batch.Size,
			FlushInterval:    cfg.Database.Batch.FlushInterval,
			QueueCapacity:    cfg.Database.Batch.QueueCapacity,
			QueueMaxCapacity: cfg.Database.Batch.QueueMaxCapacity,
		}, pool, logger)
		if err := eventWriter.Start(ctx); err != nil {
			logger.Error("failed to start event writer", "error", err)
			os.Exit(1)
		}
	}

	// Start the Redis bridge when enabled.
	var br *bridge.Bridge
	if cfg.Bridge.Enabled {
		br = bridge.NewBridge(bridge.Config{
			Addr:          cfg.Bridge.Addr,
			Password:      cfg.Bridge.Password,
			DB:            cfg.Bridge.DB,
			ChannelPrefix: cfg.Bridge.ChannelPrefix,
			InstanceID:    cfg.Instance.ID,
		}, logger)
		if err := br.Start(ctx); err != nil {
			logger.Error("failed to start redis bridge", "error", err)
			os.Exit(1)
		}
	}

	// Connection registry and event router
	registry := connection.New(connection.WithLogger(logger))
	rtr := router.NewRouter(registry, logger)

	// Gateway service forwards routed events to whichever sinks are up.
	var sinks []gateway.Sink
	if eventWriter != nil {
		sinks = append(sinks, eventWriter)
	}
	if br != nil {
		sinks = append(sinks, br)
	}

	svc := gateway.NewService(gateway.Config{
		InstanceID: cfg.Instance.ID,
	}, rtr, sinks, logger)

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start gateway service", "error", err)
		os.Exit(1)
	}
	svc.Apply(cfg.Endpoints)

	// Metrics
	collector := metrics.NewCollector(cfg.Instance.ID, logger)
	registerMetrics(collector, registry, rtr, svc, eventWriter, br)

	// Health and metrics server
	healthServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: createHealthHandler(pool, registry, svc, br, collector),
	}
	go func() {
		logger.Info("starting http server", "addr", cfg.Server.Addr)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	// Watch the config file; endpoint changes and the log level apply
	// live, everything else needs a restart.
	go func() {
		err := config.Watch(ctx, *configPath, logger, func(next *config.GatewayConfig) {
			level.Set(logLevel(next.Instance.LogLevel))
			svc.Apply(next.Endpoints)
		})
		if err != nil {
			logger.Error("config watcher stopped", "error", err)
		}
	}()

	logger.Info("gateway running",
		"instance_id", cfg.Instance.ID,
		"health_url", "http://localhost"+cfg.Server.Addr+"/health",
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop inflow first, then drain the sinks.
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Warn("gateway service stop", "error", err)
	}
	if eventWriter != nil {
		if err := eventWriter.Stop(shutdownCtx); err != nil {
			logger.Warn("event writer stop", "error", err)
		}
	}
	if br != nil {
		if err := br.Stop(); err != nil {
			logger.Warn("redis bridge stop", "error", err)
		}
	}
	healthServer.Shutdown(shutdownCtx)

	logger.Info("gateway stopped")
}

// logLevel maps a config log level onto slog. Validation already
// rejected anything outside the enum.
func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// registerMetrics wires each component's counters into the collector.
func registerMetrics(
	collector *metrics.Collector,
	registry connection.Registry,
	rtr router.Router,
	svc *gateway.Service,
	eventWriter *writer.EventWriter,
	br *bridge.Bridge,
) {
	collector.Register("connections", func() map[string]float64 {
		s := registry.Stats()
		return map[string]float64{
			"entries":             float64(s.Entries),
			"subscribers":         float64(s.Subscribers),
			"open":                float64(s.OpenConnections),
			"messages_received":   float64(s.MessagesReceived),
			"messages_dispatched": float64(s.MessagesDispatched),
			"parse_errors":        float64(s.ParseErrors),
			"pings_received":      float64(s.PingsReceived),
			"pongs_sent":          float64(s.PongsSent),
			"reconnects_planned":  float64(s.ReconnectsPlanned),
			"callback_panics":     float64(s.CallbackPanics),
		}
	})

	collector.Register("router", func() map[string]float64 {
		s := rtr.Stats()
		return map[string]float64{
			"bindings":         float64(s.Bindings),
			"handlers":         float64(s.Handlers),
			"events_routed":    float64(s.EventsRouted),
			"events_unmatched": float64(s.EventsUnmatched),
			"handler_panics":   float64(s.HandlerPanics),
		}
	})

	collector.Register("gateway", func() map[string]float64 {
		s := svc.Stats()
		return map[string]float64{
			"endpoints":        float64(s.Endpoints),
			"events_forwarded": float64(s.EventsForwarded),
			"sink_drops":       float64(s.SinkDrops),
		}
	})

	if eventWriter != nil {
		collector.Register("writer", func() map[string]float64 {
			s := eventWriter.Stats()
			q := eventWriter.QueueStats()
			return map[string]float64{
				"received":       float64(s.Received),
				"written":        float64(s.Written),
				"conflicts":      float64(s.Conflicts),
				"errors":         float64(s.Errors),
				"dropped":        float64(s.Dropped),
				"flushes":        float64(s.Flushes),
				"queue_depth":    float64(q.Count),
				"queue_capacity": float64(q.Capacity),
				"queue_resizes":  float64(q.Resizes),
			}
		})
	}

	if br != nil {
		collector.Register("bridge", func() map[string]float64 {
			s := br.Stats()
			return map[string]float64{
				"published":   float64(s.Published),
				"errors":      float64(s.Errors),
				"dropped":     float64(s.Dropped),
				"queue_depth": float64(br.QueueLen()),
			}
		})
	}
}

// createHealthHandler creates the HTTP handler for health checks and
// metrics.
func createHealthHandler(
	pool *pgxpool.Pool,
	registry connection.Registry,
	svc *gateway.Service,
	br *bridge.Bridge,
	collector *metrics.Collector,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["database"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["database"] = "connected"
			}
		}

		// Check bridge
		if br != nil {
			stats := br.Stats()
			health.Components["bridge"] = map[string]interface{}{
				"published": stats.Published,
				"errors":    stats.Errors,
				"dropped":   stats.Dropped,
			}
		}

		// Check endpoints
		gwStats := svc.Stats()
		connStats := registry.Stats()
		health.Components["gateway"] = map[string]interface{}{
			"endpoints":        gwStats.Endpoints,
			"open_connections": connStats.OpenConnections,
			"events_forwarded": gwStats.EventsForwarded,
		}
		if health.Status == "healthy" && gwStats.Endpoints > 0 && connStats.OpenConnections == 0 {
			health.Status = "degraded"
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle("/metrics", collector.Handler())

	return mux
}
