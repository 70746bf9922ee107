package main

import (
	"net/http"

	"github.com/angeloszaimis/reverse-proxy/internal/handler"
	"github.com/angeloszaimis/reverse-proxy/internal/healthcheck"
	"github.com/angeloszaimis/reverse-proxy/internal/metrics"
	"github.com/angeloszaimis/reverse-proxy/internal/resolver"
)

func setupRouter(dispatcher *handler.Dispatcher, metricsCollector *metrics.Collector, res *resolver.Resolver, monitor *healthcheck.Monitor) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", dispatcher.ServeHTTP)
	mux.HandleFunc("/health", handler.Health(res, monitor))
	mux.HandleFunc("/metrics", metricsCollector.Handler())

	return mux
}
