// update-balance-max records the current available quote balance as the
// ledger's high-water mark when it exceeds the stored one.
package main

import (
	"fmt"
	"os"
	"strings"

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

	asset := quoteAssetOf(cfg.Symbol)
	client := binance.NewFuturesClient(cfg.API.Key, cfg.API.Secret, cfg.API.BaseURL, cfg.API.RecvWindow)
	balance, err := client.GetAvailableBalance(asset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to fetch %s balance: %v\n", asset, err)
		os.Exit(1)
	}

	state, err := ledger.New(cfg.Ledger.Path).UpdateBalanceMax(balance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to update ledger: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s balance=%.8f balance_max=%.8f\n", asset, balance, state.BalanceMax)
}

func quoteAssetOf(symbol string) string {
	symbol = strings.ToUpper(symbol)
	for _, quote := range []string{"USDT", "USDC", "BUSD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return quote
		}
	}
	return "USDT"
}
