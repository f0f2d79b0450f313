package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pitchconnect/realtime/internal/audit"
	"github.com/pitchconnect/realtime/internal/ban"
	"github.com/pitchconnect/realtime/internal/bridge"
	"github.com/pitchconnect/realtime/internal/history"
	"github.com/pitchconnect/realtime/internal/hub"
	"github.com/pitchconnect/realtime/internal/identity"
	"github.com/pitchconnect/realtime/internal/metrics"
	"github.com/pitchconnect/realtime/internal/moderation"
	"github.com/pitchconnect/realtime/internal/presence"
	"github.com/pitchconnect/realtime/internal/pubsub"
	"github.com/pitchconnect/realtime/internal/ratelimit"
	"github.com/pitchconnect/realtime/internal/rooms"
	"github.com/pitchconnect/realtime/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	metricsAddr := ":9100"
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		metricsAddr = v
	}

	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "rt-1"
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	verifier, err := identity.NewVerifier(redisAddr)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	historyStore := history.NewStore(verifier.Client(), 0)
	verifier.SetBans(ban.NewStore(verifier.Client()))

	// --- Rate limiting ---
	limiter, err := ratelimit.NewLimiter(ratelimit.DefaultConfigs())
	if err != nil {
		log.Fatalf("failed to build rate limiter: %v", err)
	}
	janitor := ratelimit.NewJanitor(limiter, time.Minute)

	// --- Core state ---
	registry := rooms.NewRegistry()
	presenceStore := presence.NewStore()
	bus := pubsub.NewBus()

	manager := hub.NewManager(verifier, limiter, registry, presenceStore, bus)
	manager.SetCommentSink(historyStore)
	manager.SetFilter(moderation.NewFilter())

	// --- Audit (optional) ---
	var recorder *audit.Recorder
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		recorder, err = audit.Open(dsn)
		if err != nil {
			log.Fatalf("failed to open audit store: %v", err)
		}
		manager.SetOnConnect(func(c *hub.Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			recorder.Record(ctx, audit.Event{
				Type:         audit.EventConnect,
				ConnectionID: c.ID,
				UserID:       c.Identity.UserID,
			})
		})
		manager.SetOnDisconnect(func(connID, userID, reason string) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			recorder.Record(ctx, audit.Event{
				Type:         audit.EventDisconnect,
				ConnectionID: connID,
				UserID:       userID,
				Reason:       reason,
			})
		})
	}

	// --- NATS bridge ---
	bridgeConfig := bridge.DefaultConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		bridgeConfig.URL = v
	}
	bridgeConfig.Name = "realtime-" + serverName
	mesh, err := bridge.New(bridgeConfig, serverName, manager, bus)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	if err := mesh.Start(); err != nil {
		log.Fatalf("failed to start bridge: %v", err)
	}

	// --- Background loops ---
	janitor.Start()
	monitor := hub.NewMonitor(manager, hub.DefaultMonitorConfig())
	monitor.Start()

	server := ws.NewServer(config, manager, limiter)
	if recorder != nil {
		server.SetOnReject(func(remoteIP, reason string) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			recorder.Record(ctx, audit.Event{
				Type:     audit.EventRejected,
				RemoteIP: remoteIP,
				Reason:   reason,
			})
		})
	}

	log.Printf("Realtime server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  metrics_addr:    %s", metricsAddr)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", bridgeConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)

	// Metrics endpoint on its own listener so the load balancer never
	// routes scrapes to the client-facing port.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		monitor.Stop()
		janitor.Stop()
		mesh.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if recorder != nil {
			if err := recorder.Close(); err != nil {
				log.Printf("audit close error: %v", err)
			}
		}
		if err := verifier.Close(); err != nil {
			log.Printf("identity store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
