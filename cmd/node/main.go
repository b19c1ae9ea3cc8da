package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openpredict/rangebook/params"
	"github.com/openpredict/rangebook/pkg/api"
	"github.com/openpredict/rangebook/pkg/engine"
	"github.com/openpredict/rangebook/pkg/metrics"
	"github.com/openpredict/rangebook/pkg/storage"
	"github.com/openpredict/rangebook/pkg/util"
	"github.com/openpredict/rangebook/pkg/venue"
)

func main() {
	// Load config from .env file and environment variables.
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Storage ----
	store, err := storage.Open(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// ---- Venues ----
	registry := venue.NewRegistry()
	var dev *venue.DevPool
	if cfg.DevPool.Enabled {
		dev = venue.NewDevPool()
		pool := common.HexToAddress(cfg.DevPool.Pool)
		err := dev.AddPool(pool,
			common.HexToAddress(cfg.DevPool.Base),
			common.HexToAddress(cfg.DevPool.Quote),
			cfg.DevPool.Spacing, cfg.DevPool.Price)
		if err != nil {
			sugar.Fatalw("devpool_init_failed", "err", err)
		}
		if err := registry.Register(pool, dev); err != nil {
			sugar.Fatalw("devpool_register_failed", "err", err)
		}
		sugar.Infow("devpool_registered", "pool", pool.Hex(),
			"spacing", cfg.DevPool.Spacing, "price", cfg.DevPool.Price)
	}
	if len(registry.Pools()) == 0 {
		sugar.Fatal("no venues configured")
	}

	// ---- Engine ----
	engCfg := engine.Config{
		ExecBudget:        cfg.Engine.ExecBudget,
		FeeBps:            cfg.Engine.FeeBps,
		FeeRecipient:      common.HexToAddress(cfg.Engine.FeeRecipient),
		FallbackRecipient: common.HexToAddress(cfg.Engine.FallbackRecipient),
		DefaultMinOrder:   cfg.Engine.DefaultMinOrder,
	}
	if len(cfg.Engine.MinOrderSizes) > 0 {
		engCfg.MinOrderSize = make(map[common.Address]int64, len(cfg.Engine.MinOrderSizes))
		for addr, min := range cfg.Engine.MinOrderSizes {
			engCfg.MinOrderSize[common.HexToAddress(addr)] = min
		}
	}
	if len(cfg.Engine.AllowedPools) > 0 {
		engCfg.AllowedVenues = make(map[common.Address]bool, len(cfg.Engine.AllowedPools))
		for _, p := range cfg.Engine.AllowedPools {
			engCfg.AllowedVenues[common.HexToAddress(p)] = true
		}
	}

	eng, err := engine.New(engCfg, registry, store, sugar)
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}

	promReg := prometheus.NewRegistry()
	eng.SetMetrics(metrics.New(promReg))

	if dev != nil {
		dev.OnMove(func(pool common.Address, from, to int64) {
			if err := eng.OnPriceMove(pool, from, to); err != nil {
				sugar.Errorw("price_move_failed", "pool", pool.Hex(),
					"from", from, "to", to, "err", err)
			}
		})
	}

	// ---- API Server ----
	var operators []common.Address
	for _, op := range cfg.API.Operators {
		operators = append(operators, common.HexToAddress(op))
	}
	if len(operators) == 0 {
		sugar.Warn("no operators configured; resolution endpoints will reject everything")
	}

	server := api.NewServer(eng, registry, dev, api.Config{
		Operators:      operators,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Metrics: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{
			Registry: promReg,
		}),
	}, sugar)
	eng.SetEventSink(server.BroadcastEvent)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("node_starting",
		"api_addr", cfg.Node.APIAddr,
		"exec_budget", cfg.Engine.ExecBudget,
		"fee_bps", cfg.Engine.FeeBps,
		"operators", len(operators))

	go func() {
		if err := server.Start(cfg.Node.APIAddr); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting_down")
}
