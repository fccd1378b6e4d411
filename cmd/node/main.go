package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/synnergy-bridge/economy-bridge/core"
	"github.com/synnergy-bridge/economy-bridge/node/httpapi"
	"github.com/synnergy-bridge/economy-bridge/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "node"}
	root.AddCommand(serveCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run a game node: subscribe to commands, mutate balances, broadcast updates",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logrus.StandardLogger()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.WithError(err).Fatal("node: load config")
	}
	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.NewString()
	}
	if err := cfg.RequireNodeConfig(); err != nil {
		log.WithError(err).Fatal("node: invalid config")
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
	})
	defer redisClient.Close()

	ledgerStore := core.NewRedisLedgerStore(redisClient, log)
	registry := core.NewRegistry(cfg.Node.ID, ledgerStore, log)

	transport := core.NewHTTPTransport(core.TransportConfig{
		BaseURL:         cfg.Transport.BaseURL,
		BaseDelay:       time.Duration(cfg.Transport.BaseDelayMS) * time.Millisecond,
		MaxRetries:      cfg.Transport.MaxRetries,
		RequestDeadline: time.Duration(cfg.Transport.RequestDeadlineSeconds) * time.Second,
	}, nil, log)

	metricsReg := prometheus.DefaultRegisterer
	metrics := core.NewMetrics(metricsReg)

	broadcaster := core.NewBroadcaster(transport, metrics, log)
	auditClient := core.NewAuditClient(core.AuditClientConfig{
		BaseURL:  cfg.Audit.BaseURL,
		Secret:   []byte(cfg.Audit.Secret),
		NodeID:   cfg.Node.ID,
		Deadline: time.Duration(cfg.Audit.DeadlineSeconds) * time.Second,
	}, nil, metrics, log)

	dispatcher := core.NewDispatcher(registry, ledgerStore, broadcaster, auditClient, metrics, log, core.DispatcherConfig{
		RingCapacity: cfg.Store.RingCapacity,
		MaxRetries:   cfg.Store.MaxRetries,
	})

	watchdog := core.NewWatchdog(registry, broadcaster, core.DefaultWatchdogInterval, log)
	dispatcher.SetWatchdog(watchdog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := transport.Subscribe(ctx, core.CommandsTopic)
	go dispatcher.Run(ctx, inbound)
	go watchdog.Run(ctx, transport)
	go heartbeatLoop(ctx, registry, cfg.Store.LeaseTTLSeconds)

	apiController := httpapi.NewController(registry, log)
	router := mux.NewRouter()
	httpapi.Register(router, apiController, log)

	listenAddr := cfg.Node.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8090"
	}
	srv := &http.Server{Addr: listenAddr, Handler: router}
	go func() {
		log.WithField("addr", listenAddr).Info("node: debug/health surface listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("node: http server failed")
		}
	}()

	waitForShutdown(log)
	cancel()
	watchdog.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	registry.Shutdown(shutdownCtx)
	srv.Shutdown(shutdownCtx)
	return nil
}

// heartbeatLoop renews every resident session's lease at one third the TTL,
// matching the cadence guidance in core.Registry.Heartbeat's doc comment.
func heartbeatLoop(ctx context.Context, registry *core.Registry, leaseTTLSeconds int) {
	if leaseTTLSeconds <= 0 {
		leaseTTLSeconds = int(core.DefaultLeaseTTL.Seconds())
	}
	interval := time.Duration(leaseTTLSeconds) * time.Second / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Heartbeat(ctx)
		}
	}
}

func waitForShutdown(log *logrus.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("node: shutdown signal received")
}
