package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"outbreakcast/config"
	"outbreakcast/db"
	ohttp "outbreakcast/http"
	"outbreakcast/logging"
	"outbreakcast/monitoring"
	"outbreakcast/outbreak"
)

var cli struct {
	Config   string `help:"Path to a YAML config file." type:"path" env:"OUTBREAK_CONFIG"`
	Port     int    `help:"Override the HTTP port."`
	NoDB     bool   `name:"no-db" help:"Serve predictions without the case history database."`
	Schedule string `help:"Override the retraining cron schedule."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("outbreakcast"),
		kong.Description("Per-country outbreak prediction service."),
	)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cli.Port > 0 {
		cfg.HTTP.Port = cli.Port
	}
	if cli.Schedule != "" {
		cfg.Training.Schedule = cli.Schedule
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("outbreakcast failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Models
	store, err := outbreak.NewFileStore(cfg.Models.Dir)
	if err != nil {
		return err
	}
	predictor, err := outbreak.NewPredictor(store, cfg.PredictorConfig(), logger.Named("predictor"))
	if err != nil {
		return err
	}
	logger.Info("model store ready", zap.String("dir", store.Dir()), zap.Int("cache_size", cfg.Models.CacheSize))

	if cfg.Models.Watch {
		watcher, err := outbreak.NewModelWatcher(store.Dir(), predictor.Cache(), logger.Named("watcher"))
		if err != nil {
			return err
		}
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("model watcher stopped", zap.Error(err))
			}
		}()
	}

	// 2. Case history; prediction keeps working without it
	var source outbreak.HistorySource
	var cases *db.Store
	if !cli.NoDB {
		cases, err = openCaseStore(ctx, cfg.Database)
		if err != nil {
			logger.Warn("case history unavailable, training disabled",
				zap.String("driver", cfg.Database.Driver), zap.Error(err))
		} else {
			defer cases.Close()
			source = cases
		}
	}

	// 3. Training events
	hub := monitoring.NewWebSocketHub(logger.Named("ws"), cfg.HTTP.AllowedOrigins)
	go hub.Start()
	defer hub.Stop()

	runner := ohttp.NewTrainingRunner(source, store, predictor, ohttp.RunnerConfig{
		Trainer:            cfg.TrainerConfig(),
		InvalidateAfterRun: cfg.Training.InvalidateAfterRun,
	}, logger.Named("training"))
	runner.SetPublisher(hub)
	if cases != nil {
		runner.SetRecorder(cases)
	}
	if cfg.Training.Schedule != "" && runner.Available() {
		if err := runner.Schedule(cfg.Training.Schedule); err != nil {
			return err
		}
	}
	defer runner.Stop()

	// 4. HTTP
	api := ohttp.NewAPI(predictor, runner, hub, logger.Named("api"))
	server := ohttp.NewServer(ohttp.ServerConfig{
		Port:            cfg.HTTP.Port,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	}, api, logger.Named("http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	if err := server.Stop(); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
	return nil
}

func openCaseStore(ctx context.Context, cfg config.DatabaseConfig) (*db.Store, error) {
	store, err := db.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
