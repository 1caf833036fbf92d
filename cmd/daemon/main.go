// Command daemon is the unattended equity-trading daemon entrypoint: it
// wires the durable store (C1), the grid manager (C3), the position monitor
// (C4), and the order lifecycle manager (C5) together, then runs the
// monitor/sweep loops until told to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ducminhle1904/crypto-dca-bot/internal/broker"
	"github.com/ducminhle1904/crypto-dca-bot/internal/config"
	"github.com/ducminhle1904/crypto-dca-bot/internal/grid"
	"github.com/ducminhle1904/crypto-dca-bot/internal/logger"
	"github.com/ducminhle1904/crypto-dca-bot/internal/marketdata"
	"github.com/ducminhle1904/crypto-dca-bot/internal/metrics"
	"github.com/ducminhle1904/crypto-dca-bot/internal/monitor"
	"github.com/ducminhle1904/crypto-dca-bot/internal/notifications"
	"github.com/ducminhle1904/crypto-dca-bot/internal/orders"
	"github.com/ducminhle1904/crypto-dca-bot/internal/store"
)

func main() {
	var (
		envFile    = flag.String("env", ".env", "environment file path")
		configPath = flag.String("config", "", "trading-parameters JSON file")
		dbPath     = flag.String("db", "daemon.db", "durable state store path")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile, *configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.NewLoggerWithDebug("daemon", cfg.LogLevel == "debug")
	if err != nil {
		log.Fatalf("failed to open logger: %v", err)
	}
	defer lg.Close()

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}

	printStartupTable(cfg, *dbPath)

	// The only broker/market-data adapters this repo carries end-to-end are
	// the simulation ones (§6.1/§6.2) — a live adapter plugs into the same
	// broker.Broker / marketdata.Provider interfaces without touching
	// anything below this line.
	br := broker.NewSimulationBroker(cfg.PositionUnit * 10)
	feed := marketdata.NewCachedBarsProvider(marketdata.NewSimulationFeed(), 5*time.Minute)

	gridMgr := grid.NewManager(st, st, br, cfg, lg)
	if err := gridMgr.RecoverAtStartup(); err != nil {
		lg.Error("grid recovery failed: %v", err)
	}

	ordersMgr := orders.NewManager(st, br, feed, gridMgr, cfg, lg, cfg.Broker.Account)
	startupCtx, startupCancel := context.WithTimeout(context.Background(), cfg.MonitorCallTimeout)
	if err := ordersMgr.Reconcile(startupCtx); err != nil {
		lg.Error("startup position reconciliation failed: %v", err)
	}
	startupCancel()
	monitorEngine := monitor.NewEngine(st, feed, gridMgr, ordersMgr, cfg, lg)
	if token, chatID := os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"); token != "" && chatID != "" {
		monitorEngine.SetNotifier(notifications.NewTelegramNotifier(token, chatID))
	}

	health := metrics.NewHealthChecker()
	health.SetConnected(true)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Error("metrics/health server stopped: %v", err)
		}
	}()

	wg.Add(1)
	go runMonitorLoop(ctx, &wg, st, monitorEngine, health, cfg, lg)

	wg.Add(1)
	go runSweepLoop(ctx, &wg, ordersMgr, cfg, lg)

	wg.Add(1)
	go runBrokerSelfCheck(ctx, &wg, br, health, cfg, lg)

	wg.Add(1)
	go runReconcileLoop(ctx, &wg, ordersMgr, cfg, lg)

	lg.Info("daemon started, simulation_mode=%v", cfg.SimulationMode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("\nshutdown signal received, draining...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = httpServer.Shutdown(shutdownCtx)
	shutdownCancel()

	cancel()
	wg.Wait()

	if err := st.Close(); err != nil {
		lg.Error("store close failed: %v", err)
	}
	fmt.Println("daemon stopped")
}

// runMonitorLoop ticks every open position on MonitorLoopInterval, per
// §4.4's per-tick contract — the monitor owns only the decision; C5 and C3
// own submission.
func runMonitorLoop(ctx context.Context, wg *sync.WaitGroup, st *store.Store, eng *monitor.Engine, health *metrics.HealthChecker, cfg *config.Config, lg *logger.Logger) {
	defer wg.Done()
	ticker := time.NewTicker(cfg.MonitorLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			positions, err := st.ListOpenPositions()
			if err != nil {
				lg.Error("list open positions: %v", err)
				continue
			}
			for _, pos := range positions {
				if _, err := eng.Tick(ctx, pos.StockCode); err != nil {
					lg.Error("monitor tick for %s: %v", pos.StockCode, err)
					continue
				}
				health.UpdateTick(time.Now())
			}
		}
	}
}

// runBrokerSelfCheck pings broker connectivity on ThreadCheckInterval,
// independent of the market-data circuit breaker — a broker query_account
// round trip failing doesn't trip C4's breaker (that only watches
// market-data), but it does mean the daemon can't submit orders, so the
// health probe must reflect it.
func runBrokerSelfCheck(ctx context.Context, wg *sync.WaitGroup, br broker.Broker, health *metrics.HealthChecker, cfg *config.Config, lg *logger.Logger) {
	defer wg.Done()
	ticker := time.NewTicker(cfg.ThreadCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			callCtx, cancel := context.WithTimeout(ctx, cfg.MonitorCallTimeout)
			_, err := br.QueryAccount(callCtx, cfg.Broker.Account)
			cancel()
			if err != nil {
				lg.Warning("broker self-check failed: %v", err)
				health.SetConnected(false)
				continue
			}
			health.SetConnected(true)
		}
	}
}

// runReconcileLoop re-runs the broker-position reconciliation on
// PositionSyncInterval, the same cadence as the order-timeout sweep (§5):
// both are slow-path correctness passes over state the fast path (fills,
// monitor ticks) is expected to keep current between runs.
func runReconcileLoop(ctx context.Context, wg *sync.WaitGroup, ordersMgr *orders.Manager, cfg *config.Config, lg *logger.Logger) {
	defer wg.Done()
	ticker := time.NewTicker(cfg.PositionSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			callCtx, cancel := context.WithTimeout(ctx, cfg.MonitorCallTimeout)
			if err := ordersMgr.Reconcile(callCtx); err != nil {
				lg.Error("periodic position reconciliation failed: %v", err)
			}
			cancel()
		}
	}
}

// runSweepLoop drives C5's timeout slow path on PositionSyncInterval.
func runSweepLoop(ctx context.Context, wg *sync.WaitGroup, ordersMgr *orders.Manager, cfg *config.Config, lg *logger.Logger) {
	defer wg.Done()
	ticker := time.NewTicker(cfg.PositionSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ordersMgr.SweepTimeouts(ctx)
		}
	}
}

func printStartupTable(cfg *config.Config, dbPath string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("DAEMON INITIALIZATION")
	t.SetStyle(table.StyleRounded)

	mode := "LIVE"
	if cfg.SimulationMode {
		mode = "SIMULATION"
	}

	t.AppendRows([]table.Row{
		{"Mode", mode},
		{"Store", dbPath},
		{"Dynamic stop-profit", cfg.EnableDynamicStopProfit},
		{"Grid trading", cfg.EnableGridTrading},
		{"Stop-loss add-position", cfg.EnableStopLossBuy},
		{"Monitor interval", cfg.MonitorLoopInterval},
		{"Metrics/health port", cfg.Monitoring.PrometheusPort},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, WidthMin: 22, WidthMax: 22, Align: text.AlignLeft},
		{Number: 2, WidthMin: 20, WidthMax: 40, Align: text.AlignLeft},
	})
	t.Render()
	fmt.Println()
}
