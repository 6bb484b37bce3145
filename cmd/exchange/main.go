package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/wilsonhou/matchcore/internal/config"
	"github.com/wilsonhou/matchcore/internal/controller"
	"github.com/wilsonhou/matchcore/internal/execchannel"
	"github.com/wilsonhou/matchcore/internal/infochannel"
	"github.com/wilsonhou/matchcore/internal/matchevents"
	"github.com/wilsonhou/matchcore/internal/marketevents"
)

var (
	configPath string
	verbose    bool
)

func main() {
	cobra.OnInitialize(func() {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
	})

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to the exchange configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "exchange",
	Short: "exchange runs a simulated matching engine match",
	Long:  "exchange runs one match of the FUTURE/ETF matching engine against connected auto-traders.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func run(parentCtx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	marketDataFile, err := os.Open(cfg.Engine.MarketDataFile)
	if err != nil {
		return fmt.Errorf("open market data file: %w", err)
	}
	defer marketDataFile.Close()

	if stat, err := marketDataFile.Stat(); err == nil {
		log.Info().Str("file", cfg.Engine.MarketDataFile).Str("size", humanize.Bytes(uint64(stat.Size()))).
			Msg("loaded market data replay")
	}

	matchEventsFile, err := os.Create(cfg.Engine.MatchEventsFile)
	if err != nil {
		return fmt.Errorf("create match events file: %w", err)
	}
	defer matchEventsFile.Close()

	matchEvents := matchevents.NewRecorder(matchEventsFile)

	info, err := infochannel.New(fmt.Sprintf(":0"), fmt.Sprintf("%s:%d", cfg.Information.Host, cfg.Information.Port))
	if err != nil {
		return fmt.Errorf("open information channel: %w", err)
	}
	defer info.Close()

	ctrl := controller.New(
		controller.InstrumentConfig{TickSize: cfg.TickSizeCents(), EtfClamp: cfg.Instrument.EtfClamp},
		controller.LimitsConfig{
			PositionLimit:            cfg.Limits.PositionLimit,
			ActiveOrderCountLimit:    cfg.Limits.ActiveOrderCountLimit,
			ActiveVolumeLimit:        cfg.Limits.ActiveVolumeLimit,
			MessageFrequencyInterval: cfg.Limits.MessageFrequencyInterval / cfg.Engine.Speed,
			MessageFrequencyLimit:    cfg.Limits.MessageFrequencyLimit,
		},
		controller.EngineConfig{Speed: cfg.Engine.Speed, TickInterval: cfg.Engine.TickInterval},
		cfg.Traders,
		nil, // marketEvents set below once the books exist
		matchEvents,
		info,
		cfg.Fees.Maker,
		cfg.Fees.Taker,
	)

	pump, err := marketevents.NewPump(marketDataFile, ctrl, ctrl.FutureBook(), ctrl.EtfBook())
	if err != nil {
		return fmt.Errorf("start market events pump: %w", err)
	}
	ctrl.SetMarketEvents(pump)

	server := execchannel.NewServer(cfg.Execution.ListenAddress, cfg.Execution.Port, ctrl, pump,
		cfg.Limits.MessageFrequencyInterval, cfg.Limits.MessageFrequencyLimit)

	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt)
	defer cancel()

	log.Info().Str("config", configPath).Msg("starting match")
	return ctrl.Run(ctx, server)
}
