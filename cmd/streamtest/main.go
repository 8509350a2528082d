// streamtest connects to a WebSocket endpoint and streams received events
// to the console. With -events it routes only the named types; without it,
// every raw envelope is dumped.
//
// Usage:
//
//	go run ./cmd/streamtest -url wss://alerts.example.com/ws
//	go run ./cmd/streamtest -url wss://alerts.example.com/ws -events deploy.started,alert.fired
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/statusdeck/streamgate/internal/connection"
	"github.com/statusdeck/streamgate/internal/router"
)

func main() {
	url := flag.String("url", "", "WebSocket URL to connect to (required)")
	events := flag.String("events", "", "comma-separated event types to route; empty dumps all envelopes")
	verbose := flag.Bool("verbose", false, "print full indented JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *url == "" {
		fmt.Fprintln(os.Stderr, "usage: streamtest -url wss://host/path [-events a,b,c] [-verbose]")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	registry := connection.New(connection.WithLogger(logger))

	var offs []func()
	if *events == "" {
		// Raw mode: subscribe at the connection layer and dump every frame.
		logger.Info("raw mode: dumping all envelopes", "url", *url)
		unsubscribe := registry.Subscribe(*url, connection.Subscriber{
			OnOpen:  func() { logger.Info("connection open") },
			OnClose: func() { logger.Warn("connection closed") },
			OnError: func(err error) { logger.Error("connection error", "error", err) },
			OnMessage: func(env connection.Envelope) {
				printEvent(env.Type, env.Value(), *verbose)
			},
			OnMaxRetriesExhausted: func() {
				logger.Error("reconnect attempts exhausted")
				cancel()
			},
		}, connection.DefaultConfig())
		offs = append(offs, unsubscribe)
	} else {
		// Routed mode: register a handler per requested event type.
		rtr := router.NewRouter(registry, logger)
		rtr.Configure(*url, connection.DefaultConfig())

		types := strings.Split(*events, ",")
		for _, et := range types {
			et = strings.TrimSpace(et)
			if et == "" {
				continue
			}
			et := et
			off := rtr.On(*url, et, func(payload json.RawMessage) {
				printEvent(et, payload, *verbose)
			})
			offs = append(offs, off)
		}
		logger.Info("routed mode", "url", *url, "events", len(offs))
	}

	// Log connection state transitions
	go watchState(ctx, registry, *url, logger)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := registry.Stats()
				logger.Info("stats",
					"open", s.OpenConnections,
					"messages_received", s.MessagesReceived,
					"messages_dispatched", s.MessagesDispatched,
					"parse_errors", s.ParseErrors,
					"pings_received", s.PingsReceived,
					"pongs_sent", s.PongsSent,
					"reconnects_planned", s.ReconnectsPlanned,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	for _, off := range offs {
		off()
	}
	registry.Reset()

	logger.Info("shutdown complete")
}

// printEvent writes one event to stdout.
func printEvent(eventType string, payload json.RawMessage, verbose bool) {
	if eventType == "" {
		eventType = "untyped"
	}
	if verbose && len(payload) > 0 {
		var buf map[string]interface{}
		if err := json.Unmarshal(payload, &buf); err == nil {
			data, _ := json.MarshalIndent(buf, "", "  ")
			fmt.Printf("[%s]\n%s\n", eventType, data)
			return
		}
	}
	fmt.Printf("[%s] %s\n", eventType, payload)
}

// watchState polls the connection state and logs transitions.
func watchState(ctx context.Context, registry connection.Registry, url string, logger *slog.Logger) {
	var last connection.State
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := registry.State(url)
			if st.Connected != last.Connected || st.ReconnectCount != last.ReconnectCount {
				logger.Info("state change",
					"connected", st.Connected,
					"reconnects", st.ReconnectCount,
					"exhausted", st.ExhaustedRetries,
					"connection_id", st.ConnectionID,
				)
			}
			last = st
		}
	}
}
