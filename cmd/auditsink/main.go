package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/synnergy-bridge/economy-bridge/auditsink/controllers"
	"github.com/synnergy-bridge/economy-bridge/auditsink/routes"
	"github.com/synnergy-bridge/economy-bridge/auditsink/services"
	"github.com/synnergy-bridge/economy-bridge/auditsink/store"
	"github.com/synnergy-bridge/economy-bridge/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "auditsink"}
	root.AddCommand(serveCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the audit sink service: verify, dedupe, and persist audit deliveries",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logrus.StandardLogger()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.WithError(err).Fatal("auditsink: load config")
	}
	if err := cfg.RequireAuditSinkConfig(); err != nil {
		log.WithError(err).Fatal("auditsink: invalid config")
	}
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Audit.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("auditsink: connect to database")
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, store.Schema); err != nil {
		log.WithError(err).Fatal("auditsink: apply schema")
	}

	backingStore := store.NewPostgresStore(pool)
	svc := services.NewAuditService(backingStore, []byte(cfg.Audit.Secret), log)
	ctrl := controllers.NewAuditController(svc)

	router := mux.NewRouter()
	routes.Register(router, ctrl, log)

	srv := &http.Server{Addr: cfg.Audit.ListenAddr, Handler: router}
	go func() {
		log.WithField("addr", cfg.Audit.ListenAddr).Info("auditsink: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("auditsink: http server failed")
		}
	}()

	waitForShutdown(log)
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	return nil
}

func waitForShutdown(log *logrus.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("auditsink: shutdown signal received")
}
