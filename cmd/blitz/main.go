package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alejandrodnm/blitzrace/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	mode := flag.String("mode", "node", "node | keeper | status")
	trigger := flag.String("trigger", "", "submit one call and exit: "+opList())
	horse := flag.String("horse", "", "horse for placeBet (BTC|ETH|MONAD|DOGE or 0-3)")
	amount := flag.String("amount", "", "amount for placeBet/deposit")
	round := flag.Uint64("round", 0, "round id for claimWinnings (default: current)")
	address := flag.String("address", "", "caller address (overrides keeper.address)")
	once := flag.Bool("once", false, "keeper: run one cycle and exit")
	table := flag.Bool("table", false, "print full status table (default: compact 1-line)")
	history := flag.Int("history", 0, "status: also print the last N rounds (node storage)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	if *address != "" {
		cfg.Keeper.Address = *address
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *trigger != "" {
		err = runTrigger(ctx, cfg, triggerArgs{op: *trigger, horse: *horse, amount: *amount, round: *round})
	} else {
		switch *mode {
		case "node":
			err = runNode(ctx, cfg)
		case "keeper":
			err = runKeeper(ctx, cfg, *once, *table)
		case "status":
			err = runStatus(ctx, cfg, *table, *history)
		default:
			slog.Error("unknown mode", "mode", *mode)
			os.Exit(2)
		}
	}
	if err != nil {
		slog.Error("blitz exited with error", "mode", *mode, "err", err)
		closeLog()
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) func() {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     14, // días
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closeFn
}
