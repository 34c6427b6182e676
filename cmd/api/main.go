// Command api serves the route optimization HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"routeopt/internal/api"
	"routeopt/internal/buildinfo"
	"routeopt/internal/candidate"
	"routeopt/internal/config"
	"routeopt/internal/cost"
	"routeopt/internal/logging"
	"routeopt/internal/metrics"
	"routeopt/internal/network"
	"routeopt/internal/optimize"
	"routeopt/internal/prediction"
	"routeopt/internal/rank"
	"routeopt/internal/recommend"
	"routeopt/internal/store"
	"routeopt/internal/vehicle"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.RegisterDefault()
	log.Info("starting", zap.Any("build", buildinfo.Info()))

	deps := api.Deps{}
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// Store: Postgres when configured, else in-memory.
	var pg *store.Postgres
	if cfg.DatabaseURL != "" {
		var err error
		if pg, err = store.NewPostgres(ctx, cfg.DatabaseURL); err != nil {
			return err
		}
		closers = append(closers, func() { _ = pg.Close() })
		if cfg.DBMigrate {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		deps.Store = pg
	} else {
		deps.Store = store.NewMemory()
	}

	// Road network.
	src, err := networkSource(ctx, cfg, pg, &closers)
	if err != nil {
		return err
	}
	snapOpts := []network.Option{network.WithSnapRadius(cfg.Network.SnapRadiusKm)}
	snap, err := network.Build(ctx, src, snapOpts...)
	if err != nil {
		return fmt.Errorf("load network: %w", err)
	}
	deps.Network = network.NewModel(snap)
	deps.NetworkSource = src
	deps.SnapshotOptions = snapOpts
	metrics.NetworkSegments.Set(float64(snap.SegmentCount()))
	log.Info("network loaded", zap.String("source", snap.Source()), zap.Int("locations", len(snap.Locations())), zap.Int("segments", snap.SegmentCount()))

	// Vehicle table.
	table, err := vehicleTable(ctx, cfg, pg)
	if err != nil {
		return err
	}
	deps.Vehicles = vehicle.NewRegistry(table)
	if cfg.Network.Source == "postgres" && pg != nil {
		deps.LoadVehicles = pg.LoadVehicles
	}

	// Predictions.
	psrc, err := predictionSource(cfg, log, &closers)
	if err != nil {
		return err
	}
	deps.Predictions = prediction.NewAdapter(psrc, prediction.Options{
		MaxAge:          cfg.Prediction.MaxAge,
		MinConfidence:   cfg.Prediction.MinConfidence,
		Timeout:         cfg.Prediction.Timeout,
		RetryBackoff:    cfg.Prediction.RetryBackoff,
		BreakerFailures: cfg.Prediction.BreakerFailures,
		BreakerCooldown: cfg.Prediction.BreakerCooldown,
	}, log.Named("prediction"))

	// State events: Redis fans them out across replicas.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		closers = append(closers, func() { _ = rdb.Close() })
		deps.Broker = api.NewRedisBroker(rdb, log.Named("broker"))
	} else {
		deps.Broker = api.NewBroker()
	}

	deps.Service = optimize.New(optimize.Deps{
		Network:  deps.Network,
		Vehicles: deps.Vehicles,
		Generator: candidate.NewGenerator(candidate.Options{
			MaxSharedFraction: cfg.Engine.MaxSharedFraction,
			PenaltyFactor:     cfg.Engine.PenaltyFactor,
		}),
		Costs: cost.NewModel(cost.Prices{
			FuelPerLitre:     cfg.Cost.FuelPrice,
			DriverHourlyRate: cfg.Cost.DriverHourlyRate,
			RestDuration:     cfg.Cost.RestDuration,
			TollFees:         cfg.Cost.TollFees,
		}, log.Named("cost")),
		Predictions: deps.Predictions,
		Observer:    api.BrokerObserver{Broker: deps.Broker},
		Logger:      log.Named("optimize"),
	}, optimize.Config{
		RequestTimeout: cfg.Engine.RequestTimeout,
		MaxCandidates:  cfg.Engine.MaxCandidates,
		ScoringWorkers: cfg.Engine.ScoringWorkers,
		Weights:        rank.Weights{Cost: cfg.Ranking.CostWeight, Time: cfg.Ranking.TimeWeight, Risk: cfg.Ranking.RiskWeight},
		Recommend:      recommend.Options{AltCostThreshold: cfg.Recommend.AltCostThreshold, PeakMagnitude: cfg.Recommend.PeakMagnitude},
	})

	srv := api.NewServer(cfg, log, deps)
	if srv.Pub.Enabled() {
		worker := srv.NewWebhookWorker()
		go worker.Run(ctx)
		log.Info("webhook worker started", zap.Int("endpoints", len(cfg.Webhook.URLs)))
	}

	handler := chain(srv.Routes(),
		recoverer(log),
		requestLogger(log.Named("http")),
		instrument(),
		rateLimit(cfg.RateRPS, cfg.RateBurst),
		cors(cfg.AllowOrigins),
		tracing("routeopt-api"),
	)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", zap.String("addr", httpSrv.Addr), zap.String("auth_mode", cfg.Auth.Mode))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

func networkSource(ctx context.Context, cfg config.Config, pg *store.Postgres, closers *[]func()) (network.Source, error) {
	switch cfg.Network.Source {
	case "file":
		return network.FileSource{Path: cfg.Network.File}, nil
	case "postgres":
		if pg == nil {
			return nil, errors.New("network.source=postgres needs database_url")
		}
		return pg.NetworkSource(), nil
	case "neo4j":
		n, err := network.NewNeo4jSource(ctx, cfg.Network.Neo4jURL, cfg.Network.Neo4jUser, cfg.Network.Neo4jPass)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() { _ = n.Close(context.Background()) })
		return n, nil
	default:
		return network.Embedded(), nil
	}
}

func vehicleTable(ctx context.Context, cfg config.Config, pg *store.Postgres) (*vehicle.Table, error) {
	if cfg.Network.VehiclesFile != "" {
		return vehicle.LoadFile(cfg.Network.VehiclesFile)
	}
	if cfg.Network.Source == "postgres" && pg != nil {
		t, err := pg.LoadVehicles(ctx)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load vehicles: %w", err)
		}
	}
	return vehicle.Defaults(), nil
}

func predictionSource(cfg config.Config, log *zap.Logger, closers *[]func()) (prediction.Source, error) {
	pc := cfg.Prediction
	switch pc.Source {
	case "http":
		client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
		return prediction.NewHTTPSource(pc.URL, pc.RateRPS, client), nil
	case "redis":
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		*closers = append(*closers, func() { _ = rdb.Close() })
		return prediction.NewRedisSource(rdb), nil
	case "nats":
		nc, err := nats.Connect(pc.NATSURL, nats.Name("routeopt-api"))
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		feed, err := prediction.NewNATSFeed(nc, pc.NATSSubject, pc.MaxAge, log.Named("nats"))
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("nats subscribe: %w", err)
		}
		*closers = append(*closers, func() { _ = feed.Close(); nc.Close() })
		return feed, nil
	default:
		return prediction.NoopSource{}, nil
	}
}
