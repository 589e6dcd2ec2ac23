package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"loanflow/audit"
	"loanflow/config"
	"loanflow/db"
	"loanflow/identity"
	"loanflow/loan"
	"loanflow/payment"
	"loanflow/user"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("bootstrap config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("bootstrap logger: %v", err)
	}
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	users := user.NewService(user.NewRepository(pool))
	sessions := identity.NewService(pool, identity.NewRepository(pool), identity.Config{
		JWTSecret:  cfg.JWTSecret,
		OTPTTL:     cfg.OTPTTL,
		OTPLength:  cfg.OTPLength,
		SessionTTL: cfg.SessionTTL,
	})
	recorder := audit.NewRecorder(pool, audit.NewRepository(pool), logger)
	loanRepo := loan.NewRepository(pool)
	loans := loan.NewService(pool, loanRepo)
	payments := payment.NewService(pool, payment.NewRepository(pool), loanRepo)

	// Transport is wired by the embedding deployment; the engine itself only
	// exposes these services.
	logger.Info("loanflow engine ready",
		zap.Bool("users", users != nil),
		zap.Bool("identity", sessions != nil),
		zap.Bool("audit", recorder != nil),
		zap.Bool("loans", loans != nil),
		zap.Bool("payments", payments != nil),
	)
}
