package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alejandrodnm/blitzrace/config"
	"github.com/alejandrodnm/blitzrace/internal/adapters/events"
	"github.com/alejandrodnm/blitzrace/internal/adapters/httpapi"
	"github.com/alejandrodnm/blitzrace/internal/adapters/metrics"
	"github.com/alejandrodnm/blitzrace/internal/adapters/notify"
	"github.com/alejandrodnm/blitzrace/internal/adapters/storage"
	"github.com/alejandrodnm/blitzrace/internal/automation"
	"github.com/alejandrodnm/blitzrace/internal/contract"
	"github.com/alejandrodnm/blitzrace/internal/keeper"
	"github.com/alejandrodnm/blitzrace/internal/ledger"
	"github.com/alejandrodnm/blitzrace/internal/ports"
)

// runNode levanta el ledger con su API, métricas, sinks de eventos,
// keepers embebidos y el registry de upkeep.
func runNode(ctx context.Context, cfg *config.Config) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	game, err := cfg.GameConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	l := ledger.New(cfg.LedgerConfig(), contract.New(game), ledger.SystemClock{}, store, m)
	replayed, err := l.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	restoredSeq := l.Seq()

	slog.Info("blitz node starting",
		"listen", cfg.Ledger.Listen,
		"dsn", cfg.Storage.DSN,
		"replayed", replayed,
		"seq", l.Seq(),
		"embedded_keepers", cfg.Keeper.Embedded,
		"automation", cfg.Automation.Enabled,
	)

	ledgerDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(ledgerDone)
		if err := l.Run(ctx); err != nil {
			slog.Error("ledger exited with error", "err", err)
		}
	}()

	api := &http.Server{
		Addr:              cfg.Ledger.Listen,
		Handler:           httpapi.NewAPI(l, store, cfg.Ledger.AllowDeposit).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	apiErr := make(chan error, 1)
	go func() {
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErr <- err
		}
	}()

	var metricsSrv *http.Server
	if cfg.Metrics.Listen != "" {
		health := func(context.Context) error {
			select {
			case <-ledgerDone:
				return errors.New("ledger stopped")
			default:
				return nil
			}
		}
		metricsSrv = metrics.StartServer(cfg.Metrics.Listen, reg, health)
		slog.Info("metrics server listening", "addr", cfg.Metrics.Listen)
	}

	if sinks := eventSinks(cfg.Events); len(sinks) > 0 {
		// lo confirmado desde el arranque se recupera del journal tras cada resuscripción
		fwd := events.NewForwarder(l, sinks...).WithLog(store, restoredSeq)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer fwd.Close()
			_ = fwd.Run(ctx)
		}()
	}

	var status ports.StatusNotifier = notify.NewConsole(game, false)
	for i := 0; i < cfg.Keeper.Embedded; i++ {
		k := keeper.New(cfg.KeeperConfig(fmt.Sprintf("keeper-%d", i+1)), game, l, status, m)
		status = nil // sólo el primero imprime estado
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("keeper exited with error", "keeper", k.Name(), "err", err)
			}
		}()
	}

	if cfg.Automation.Enabled {
		r := automation.New(cfg.AutomationConfig(), l, m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("automation registry exited with error", "err", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportGauges(ctx, l, m)
	}()

	select {
	case <-ctx.Done():
	case err = <-apiErr:
		slog.Error("ledger API failed", "addr", cfg.Ledger.Listen, "err", err)
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = api.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	wg.Wait()
	if err != nil {
		return err
	}

	slog.Info("blitz node stopped cleanly", "seq", l.Seq())
	return nil
}

// eventSinks crea los sinks configurados.
func eventSinks(cfg config.EventsConfig) []ports.EventSink {
	var sinks []ports.EventSink
	if cfg.RedisAddr != "" {
		sinks = append(sinks, events.NewRedisSink(cfg.RedisAddr, cfg.RedisChannel))
	}
	if len(cfg.KafkaBrokers) > 0 {
		sinks = append(sinks, events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	for _, s := range sinks {
		slog.Info("event sink enabled", "sink", s.Name())
	}
	return sinks
}

// reportGauges publica la foto del ledger en las métricas cada segundo.
func reportGauges(ctx context.Context, l *ledger.Ledger, m *metrics.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		st := l.State()
		escrow, _ := st.Escrow().Float64()
		treasury, _ := st.Treasury().Float64()
		m.SetLedger(l.Seq(), st.Current(), escrow, treasury)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
