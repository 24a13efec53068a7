package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/signalsfoundry/saarathi/core"
	"github.com/signalsfoundry/saarathi/internal/audit"
	"github.com/signalsfoundry/saarathi/internal/config"
	"github.com/signalsfoundry/saarathi/internal/control"
	"github.com/signalsfoundry/saarathi/internal/events"
	"github.com/signalsfoundry/saarathi/internal/feed"
	"github.com/signalsfoundry/saarathi/internal/graphdb"
	"github.com/signalsfoundry/saarathi/internal/httpapi"
	"github.com/signalsfoundry/saarathi/internal/layouts"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/internal/observability"
	"github.com/signalsfoundry/saarathi/internal/planning"
	"github.com/signalsfoundry/saarathi/internal/poller"
	"github.com/signalsfoundry/saarathi/internal/rpc"
	"github.com/signalsfoundry/saarathi/internal/state"
	"github.com/signalsfoundry/saarathi/timectrl"
)

const shutdownTimeout = 5 * time.Second

func main() {
	envDir := flag.String("env-dir", ".", "Directory holding optional .env and .env.local files")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the planning gRPC server listens on (overrides GRPC_ADDR)")
	httpAddr := flag.String("http-addr", "", "TCP address the REST API listens on (overrides HTTP_ADDR)")
	flag.Parse()

	config.LoadDotEnv(*envDir)
	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Error(ctx, "failed to load configuration", logging.Err(err))
		os.Exit(1)
	}
	if *grpcAddr != "" {
		cfg.GRPCAddress = *grpcAddr
	}
	if *httpAddr != "" {
		cfg.HTTPAddress = *httpAddr
	}

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddress), logging.Err(err))
		os.Exit(1)
	}
	httpLis, err := net.Listen("tcp", cfg.HTTPAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.HTTPAddress), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg, log, grpcLis, httpLis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then shuts everything down.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, grpcLis, httpLis net.Listener) error {
	log = logging.OrNoop(log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return fmt.Errorf("init rpc metrics: %w", err)
	}
	plannerMetrics, err := observability.NewPlannerCollector(reg)
	if err != nil {
		return fmt.Errorf("init planner metrics: %w", err)
	}

	store, err := audit.Open(ctx, cfg.AuditDSN)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()
	auditLog := audit.NewLog(store, log, nil)

	resolver := &layouts.Resolver{Dir: cfg.LayoutDir, Log: log}
	if cfg.Neo4jURI != "" {
		graph, err := graphdb.Open(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase)
		if err != nil {
			log.Warn(ctx, "layout graph unavailable; using files and built-in layouts",
				logging.String("uri", cfg.Neo4jURI),
				logging.Err(err),
			)
		} else {
			defer graph.Close(context.Background())
			resolver.Graph = graph
		}
	}

	broker := events.NewBroker(log)
	st := state.NewStationState(log, state.WithMetricsRecorder(rpcMetrics))
	tc := timectrl.NewTimeController(timectrl.SystemClock{Location: cfg.Location()}, cfg.PollInterval)

	planner := planning.NewService(st, core.NewPlanner(core.DefaultConfig()),
		planning.WithTimeout(cfg.PlanTimeout),
		planning.WithMetrics(plannerMetrics),
		planning.WithAudit(auditLog),
		planning.WithLogger(log),
		planning.WithClock(tc.Now),
		planning.OnPlan(func(_ context.Context, p *core.Plan) {
			broker.Publish(control.TopicPlan, p)
		}),
	)

	normalizer := feed.Normalizer{DefaultLength: cfg.DefaultLength}
	var ctl *control.Controller
	poll := poller.New(newSource(cfg), st, tc,
		poller.WithMetrics(plannerMetrics),
		poller.WithAudit(auditLog),
		poller.WithNormalizer(normalizer),
		poller.WithLogger(log),
		poller.OnRefresh(func(context.Context, state.Board) {
			if view, err := ctl.Board(); err == nil {
				broker.Publish(control.TopicBoard, view)
			}
		}),
	)
	ctl = control.New(control.Deps{
		State:      st,
		Planning:   planner,
		Layouts:    resolver,
		Refresher:  poll,
		Audit:      auditLog,
		Events:     broker,
		Log:        log,
		Now:        tc.Now,
		Normalizer: normalizer,
	})

	if _, err := ctl.SelectStation(ctx, cfg.Station); err != nil {
		return fmt.Errorf("select station %s: %w", cfg.Station, err)
	}

	grpcServer, health := rpc.NewGRPCServer(ctl, rpc.ServerOptions{Log: log, Metrics: rpcMetrics})
	httpServer := &http.Server{
		Handler: httpapi.NewRouter(httpapi.Options{
			Controller:     ctl,
			Events:         broker,
			Metrics:        rpcMetrics,
			MetricsHandler: rpcMetrics.Handler(),
			AllowedOrigins: cfg.AllowedOrigins,
			Log:            log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()

	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := poll.Run(pollCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn(ctx, "feed poller exited", logging.Err(err))
		}
	}()
	go func() {
		defer wg.Done()
		log.Info(ctx, "starting planning gRPC server", logging.String("addr", grpcLis.Addr().String()))
		if err := grpcServer.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		log.Info(ctx, "starting REST API", logging.String("addr", httpLis.Addr().String()))
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	log.Info(context.Background(), "shutting down planning server")
	health.Shutdown()
	cancelPoll()
	broker.Close()
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn(context.Background(), "http shutdown", logging.Err(err))
	}
	wg.Wait()
	return serveErr
}

// newSource picks the live feed named in the configuration.
func newSource(cfg *config.Config) feed.Source {
	client := &http.Client{Timeout: cfg.RequestTimeout}
	switch cfg.FeedSource {
	case config.FeedRailRadar:
		return feed.NewRailRadarSource(cfg.RailRadarURL, cfg.RailRadarKey, client)
	case config.FeedGTFSRT:
		return feed.NewGTFSRTSource(cfg.GTFSRTURL, client, cfg.Location())
	}
	return feed.NewStaticSource()
}
