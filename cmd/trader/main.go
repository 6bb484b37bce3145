package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/wilsonhou/matchcore/internal/autotrader"
	"github.com/wilsonhou/matchcore/internal/common"
)

var configPath string

// traderConfig is the auto-trader's own connection configuration: which
// exchange to dial, and the team credentials to log in with.
type traderConfig struct {
	Execution struct {
		Host string `json:"Host"`
		Port int    `json:"Port"`
	} `json:"Execution"`
	Information struct {
		ListenAddress string `json:"ListenAddress"`
		Port          int    `json:"Port"`
	} `json:"Information"`
	TeamName string `json:"TeamName"`
	Secret   string `json:"Secret"`
}

func main() {
	cobra.OnInitialize(func() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	})

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "trader.json", "Path to the auto-trader configuration file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "trader connects a reference auto-trader to a running exchange",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func run() error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read trader config: %w", err)
	}

	var cfg traderConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse trader config: %w", err)
	}

	handler := &loggingTrader{name: cfg.TeamName}

	execAddr := fmt.Sprintf("%s:%d", cfg.Execution.Host, cfg.Execution.Port)
	infoAddr := fmt.Sprintf("%s:%d", cfg.Information.ListenAddress, cfg.Information.Port)

	client, err := autotrader.Dial(execAddr, infoAddr, cfg.TeamName, cfg.Secret, handler)
	if err != nil {
		return fmt.Errorf("connect to exchange: %w", err)
	}
	defer client.Close()

	log.Info().Str("team", cfg.TeamName).Str("execution", execAddr).Msg("connected to exchange")
	select {}
}

// loggingTrader is a reference strategy that places no orders; it exists to
// demonstrate the Handler contract and to give a real connected client for
// exercising the exchange end to end.
type loggingTrader struct {
	name string
}

func (t *loggingTrader) OnError(clientOrderID uint32, message string) {
	log.Error().Uint32("client_order_id", clientOrderID).Str("message", message).Msg("order error")
}

func (t *loggingTrader) OnOrderStatus(clientOrderID, fillVolume, remainingVolume uint32, fees int32) {
	log.Info().Uint32("client_order_id", clientOrderID).Uint32("fill_volume", fillVolume).
		Uint32("remaining_volume", remainingVolume).Int32("fees", fees).Msg("order status")
}

func (t *loggingTrader) OnPositionChange(futurePosition, etfPosition int32) {
	log.Info().Int32("future_position", futurePosition).Int32("etf_position", etfPosition).Msg("position change")
}

func (t *loggingTrader) OnOrderBookUpdate(instrument common.Instrument, sequenceNumber uint32,
	askPrices, askVolumes, bidPrices, bidVolumes [common.TopLevelCount]uint32) {
	log.Debug().Str("instrument", instrument.String()).Uint32("sequence_number", sequenceNumber).
		Msg("order book update")
}

func (t *loggingTrader) OnTradeTicks(instrument common.Instrument, prices, volumes []uint32) {
	log.Debug().Str("instrument", instrument.String()).Int("ticks", len(prices)).Msg("trade ticks")
}
