// check-balance prints the account's available balance per asset and
// the outstanding loss-recovery amount from the ledger file.
package main

import (
	"fmt"
	"os"

	"binance-futures-bot/config"
	"binance-futures-bot/internal/binance"
	"binance-futures-bot/internal/ledger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	client := binance.NewFuturesClient(cfg.API.Key, cfg.API.Secret, cfg.API.BaseURL, cfg.API.RecvWindow)
	balances, err := client.GetBalances()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to fetch balances: %v\n", err)
		os.Exit(1)
	}

	for _, balance := range balances {
		if balance.Balance == 0 && balance.AvailableBalance == 0 {
			continue
		}
		fmt.Printf("%-8s balance=%.8f available=%.8f\n",
			balance.Asset, balance.Balance, balance.AvailableBalance)
	}

	state, err := ledger.New(cfg.Ledger.Path).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read ledger: %v\n", err)
		os.Exit(1)
	}
	if state.RecoveryAmount != 0 || state.BalanceMax != 0 {
		fmt.Printf("ledger: recovery_amount=%.8f balance_max=%.8f updated=%s\n",
			state.RecoveryAmount, state.BalanceMax, state.Timestamp.Format("2006-01-02 15:04:05"))
	}
}
