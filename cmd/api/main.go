package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lineage/arbitration"
	"lineage/auth"
	"lineage/config"
	"lineage/db"
	"lineage/ledger"
	"lineage/revenue"
	"lineage/voting"
	"lineage/work"
)

func newLogger(level string) (*zap.Logger, error) {
	atom := zap.NewAtomicLevel()
	if err := atom.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = atom
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "initialize logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	workSvc := work.NewService(pool, work.NewRepository(pool)).WithMaxChainDepth(cfg.MaxChainDepth)
	ledgerSvc := ledger.NewService(pool, ledger.NewRepository(pool))
	revenueSvc := revenue.NewService(pool, revenue.NewRepository(pool), workSvc, ledgerSvc, cfg.PlatformAddress).
		WithFeeRate(cfg.FeeRateBps)
	votingSvc := voting.NewService(pool, voting.NewRepository(pool), workSvc, ledgerSvc)
	classifier := arbitration.NewHTTPClassifier(cfg.ClassifierBaseURL, cfg.ClassifierTimeout)
	arbitrationSvc := arbitration.NewService(arbitration.NewRepository(pool), workSvc, ledgerSvc, classifier)

	server := &Server{
		log:                log,
		authService:        authSvc,
		workService:        workSvc,
		revenueService:     revenueSvc,
		votingService:      votingSvc,
		arbitrationService: arbitrationSvc,
		ledgerService:      ledgerSvc,
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("serve", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}
