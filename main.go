package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/cppla/countdownstack/config"
	"github.com/cppla/countdownstack/controllers"
	"github.com/cppla/countdownstack/jobs"
	"github.com/cppla/countdownstack/routes"
	"github.com/cppla/countdownstack/store"
	"github.com/cppla/countdownstack/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	logger, err := utils.InitLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	accessLog, err := utils.NewRollingFileLogger(cfg, cfg.GinPath)
	if err != nil {
		utils.Sugar.Warnf("gin access log disabled: %v", err)
		accessLog = nil
	}

	utils.InitRedis(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.Open(ctx, cfg)
	cancel()
	if err != nil {
		utils.Sugar.Fatalf("open %s store: %v", cfg.StoreDriver, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := jobs.NewMetrics(registry)

	suite, err := jobs.NewSuite(st, cfg, utils.NewViewDeduper(), logger, metrics)
	if err != nil {
		utils.Sugar.Fatalf("register jobs: %v", err)
	}
	suite.Aggregator.OnRunComplete = func(*jobs.AggregateReport) {
		controllers.InvalidateListCache(context.Background())
	}
	if cfg.JobsEnabled {
		suite.Scheduler.Start()
		for _, e := range suite.Scheduler.Entries() {
			logger.Info("job scheduled", zap.String("job", e.Name), zap.String("spec", e.Spec))
		}
	}

	r := routes.SetupRouter(routes.Deps{
		Config:    cfg,
		Store:     st,
		Jobs:      suite,
		Gatherer:  registry,
		AccessLog: accessLog,
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	err = utils.GraceServer(":"+cfg.AppPort, r,
		func(ctx context.Context) {
			if err := suite.Scheduler.Stop(ctx); err != nil {
				utils.Sugar.Warnf("scheduler stop: %v", err)
			}
		},
		func(ctx context.Context) {
			if err := st.Close(ctx); err != nil {
				utils.Sugar.Warnf("store close: %v", err)
			}
		},
	)
	if err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
