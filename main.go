package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/api"
	"binance-futures-bot/internal/binance"
	"binance-futures-bot/internal/bot"
	"binance-futures-bot/internal/logging"
	"binance-futures-bot/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Output:     "stdout",
		JSONFormat: cfg.Logging.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.API.CredentialsSource == config.CredentialsSourceVault {
		vaultClient, err := vault.NewClient(cfg.Vault)
		if err != nil {
			logger.Error("Failed to create vault client", "error", err)
			os.Exit(1)
		}
		creds, err := vaultClient.FetchCredentials(ctx)
		if err != nil {
			logger.Error("Failed to fetch credentials from vault", "error", err)
			os.Exit(1)
		}
		cfg.API.Key = creds.APIKey
		cfg.API.Secret = creds.SecretKey
		logger.Info("Credentials loaded from vault", "path", cfg.Vault.SecretPath)
	}

	client := binance.NewFuturesClient(cfg.API.Key, cfg.API.Secret, cfg.API.BaseURL, cfg.API.RecvWindow)

	runtime, err := bot.New(cfg, client)
	if err != nil {
		logger.Error("Failed to build runtime", "error", err)
		os.Exit(1)
	}

	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(cfg, runtime)
		server.Start()
	}

	runErr := runtime.Run(ctx)

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		server.Stop(shutdownCtx)
		cancel()
	}

	if runErr != nil {
		logger.Error("Bot exited with fatal error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("Bot exited cleanly")
}
