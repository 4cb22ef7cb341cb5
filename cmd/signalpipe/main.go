package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/signalpipe/internal/config"
	"github.com/sawpanic/signalpipe/internal/metrics"
	"github.com/sawpanic/signalpipe/internal/notifier"
	"github.com/sawpanic/signalpipe/internal/pipeline"
	"github.com/sawpanic/signalpipe/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "signalpipe",
	Short: "Multi-analyzer candle fusion signal pipeline",
	Long: `signalpipe ingests exchange kline streams, aggregates closed candles
per symbol/timeframe, runs the Wyckoff, Elliott, RSI, and MACD analyzers
over each close, and fuses their outputs into tiered trade signals.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the streaming pipeline and run until interrupted",
	RunE:  runRun,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fetch startup history for every configured key and exit",
	RunE:  runBackfill,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the fuser's emitted-signal count and the configured key count as JSON",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.AddCommand(runCmd, backfillCmd, statusCmd)
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("signalpipe exited with error")
		os.Exit(1)
	}
}

func setLevel(cfg config.Config) {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func build(ctx context.Context) (*pipeline.Pipeline, *sqlx.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	setLevel(cfg)

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.Postgres.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	}

	st := store.New(db, cfg.Postgres.QueryTimeout)
	notif := notifier.NewRateLimited(notifier.NoopNotifier{}, 1, 5, 5*time.Second, log.Logger)
	reg := metrics.New(prometheus.DefaultRegisterer)

	p, err := pipeline.New(cfg, st, notif, reg, log.Logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("build pipeline: %w", err)
	}
	return p, db, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, db, err := build(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := p.Warmup(ctx); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}

	log.Info().Msg("starting stream")
	runErr := p.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	return runErr
}

func runBackfill(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	p, db, err := build(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := p.Warmup(ctx); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	log.Info().Msg("backfill complete")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	p, db, err := build(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	st := p.Status()
	fmt.Printf(`{"emitted":%d,"keys":%d}`+"\n", st.Emitted, len(st.Keys))
	return nil
}
