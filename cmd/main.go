package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angeloszaimis/reverse-proxy/config"
	"github.com/angeloszaimis/reverse-proxy/internal/forward"
	"github.com/angeloszaimis/reverse-proxy/internal/handler"
	"github.com/angeloszaimis/reverse-proxy/internal/healthcheck"
	"github.com/angeloszaimis/reverse-proxy/internal/httpserver"
	"github.com/angeloszaimis/reverse-proxy/internal/metrics"
	"github.com/angeloszaimis/reverse-proxy/internal/registry"
	"github.com/angeloszaimis/reverse-proxy/internal/resolver"
	"github.com/angeloszaimis/reverse-proxy/internal/route"
	"github.com/angeloszaimis/reverse-proxy/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg, err := buildRegistry(cfg)
	if err != nil {
		log.Error("Invalid backend configuration", slog.Any("err", err))
		os.Exit(1)
	}

	routes, err := buildRoutes(cfg)
	if err != nil {
		log.Error("Invalid route configuration", slog.Any("err", err))
		os.Exit(1)
	}

	// Route validation is load-time only: an ambiguous table or a
	// redirect cycle refuses to start the process.
	table, err := route.Build(routes, reg)
	if err != nil {
		log.Error("Route table rejected", slog.Any("err", err))
		os.Exit(1)
	}

	resolverCfg, proxyDefaults, err := parseTimeouts(cfg)
	if err != nil {
		log.Error("Invalid timeout configuration", slog.Any("err", err))
		os.Exit(1)
	}

	res := resolver.New(reg, resolverCfg, log)

	collector := metrics.NewCollector(1024, log)
	collector.Start(ctx)

	var monitor *healthcheck.Monitor
	if cfg.HealthCheck.Enabled {
		interval, err := time.ParseDuration(cfg.HealthCheck.Interval)
		if err != nil {
			log.Error("Invalid health check interval", slog.Any("err", err))
			os.Exit(1)
		}
		monitor = healthcheck.NewMonitor(reg, interval, log, collector)
		monitor.Start(ctx)
	}

	dispatcher := handler.NewDispatcher(log, table, res, forward.NewFactory(), proxyDefaults, collector)

	mux := setupRouter(dispatcher, collector, res, monitor)

	srv, err := httpserver.New(cfg.Server.Address, mux)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("Proxy started",
		slog.String("address", cfg.Server.Address),
		slog.Int("backends", len(cfg.Backends)),
		slog.Int("routes", len(table.Routes())))

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting proxy", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New()

	for _, bc := range cfg.Backends {
		var ttl time.Duration
		if bc.TTL != "" {
			var err error
			ttl, err = time.ParseDuration(bc.TTL)
			if err != nil {
				return nil, err
			}
		}

		err := reg.Register(registry.Backend{
			Name:       bc.Name,
			Hostname:   bc.Hostname,
			Port:       bc.Port,
			HealthPath: bc.HealthPath,
			TTL:        ttl,
		})
		if err != nil {
			return nil, err
		}
	}

	return reg, nil
}

func buildRoutes(cfg *config.Config) ([]route.Route, error) {
	routes := make([]route.Route, 0, len(cfg.Routes))

	for _, rc := range cfg.Routes {
		r := route.Route{
			Prefix:      rc.Prefix,
			Kind:        route.Kind(rc.Kind),
			Priority:    rc.Priority,
			Backend:     rc.Backend,
			StripPrefix: rc.StripPrefix,
			Target:      rc.Target,
			Status:      rc.Status,
			Dir:         rc.Dir,
		}

		if rc.ConnectTimeout != "" {
			d, err := time.ParseDuration(rc.ConnectTimeout)
			if err != nil {
				return nil, err
			}
			r.ConnectTimeout = d
		}
		if rc.ResponseTimeout != "" {
			d, err := time.ParseDuration(rc.ResponseTimeout)
			if err != nil {
				return nil, err
			}
			r.ResponseTimeout = d
		}

		routes = append(routes, r)
	}

	return routes, nil
}

func parseTimeouts(cfg *config.Config) (resolver.Config, handler.Defaults, error) {
	ttl, err := time.ParseDuration(cfg.Resolver.TTL)
	if err != nil {
		return resolver.Config{}, handler.Defaults{}, err
	}
	resolveTimeout, err := time.ParseDuration(cfg.Resolver.Timeout)
	if err != nil {
		return resolver.Config{}, handler.Defaults{}, err
	}
	connect, err := time.ParseDuration(cfg.Proxy.ConnectTimeout)
	if err != nil {
		return resolver.Config{}, handler.Defaults{}, err
	}
	response, err := time.ParseDuration(cfg.Proxy.ResponseTimeout)
	if err != nil {
		return resolver.Config{}, handler.Defaults{}, err
	}

	resolverCfg := resolver.Config{
		DefaultTTL: ttl,
		Timeout:    resolveTimeout,
	}
	defaults := handler.Defaults{
		ConnectTimeout:  connect,
		ResponseTimeout: response,
		MaxBodyBytes:    cfg.Proxy.MaxBodyBytes,
	}
	return resolverCfg, defaults, nil
}
