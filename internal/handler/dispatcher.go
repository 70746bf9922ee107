package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/angeloszaimis/reverse-proxy/internal/forward"
	"github.com/angeloszaimis/reverse-proxy/internal/metrics"
	"github.com/angeloszaimis/reverse-proxy/internal/resolver"
	"github.com/angeloszaimis/reverse-proxy/internal/route"
)

// Defaults applies when a proxy route carries no timeout overrides.
// MaxBodyBytes caps incoming request bodies for proxy and static routes;
// zero means no limit.
type Defaults struct {
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	MaxBodyBytes    int64
}

// Dispatcher is the per-request entry point. It matches the path against
// the route table and serves the winning route: 404 on no match, a local
// file for static routes, a Location header for redirects, and a
// streamed upstream exchange for proxy routes with the backend address
// resolved at request time.
type Dispatcher struct {
	logger           *slog.Logger
	table            *route.Table
	resolver         *resolver.Resolver
	metricsCollector *metrics.Collector
	maxBodyBytes     int64

	proxies map[*route.Route]*httputil.ReverseProxy
	statics map[*route.Route]http.Handler
}

type addrKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func NewDispatcher(
	logger *slog.Logger,
	table *route.Table,
	res *resolver.Resolver,
	transports *forward.Factory,
	defaults Defaults,
	collector *metrics.Collector,
) *Dispatcher {
	d := &Dispatcher{
		logger:           logger,
		table:            table,
		resolver:         res,
		metricsCollector: collector,
		maxBodyBytes:     defaults.MaxBodyBytes,
		proxies:          make(map[*route.Route]*httputil.ReverseProxy),
		statics:          make(map[*route.Route]http.Handler),
	}

	pool := forward.NewBufferPool()

	for _, rt := range table.Routes() {
		switch rt.Kind {
		case route.KindProxy:
			connect := rt.ConnectTimeout
			if connect <= 0 {
				connect = defaults.ConnectTimeout
			}
			response := rt.ResponseTimeout
			if response <= 0 {
				response = defaults.ResponseTimeout
			}
			d.proxies[rt] = &httputil.ReverseProxy{
				Director:      d.director(rt),
				Transport:     transports.Get(connect, response),
				BufferPool:    pool,
				FlushInterval: 100 * time.Millisecond,
				ErrorHandler:  d.proxyError(rt),
				ErrorLog:      slog.NewLogLogger(logger.Handler(), slog.LevelError),
			}
		case route.KindStatic:
			prefix := strings.TrimSuffix(rt.Prefix, "/")
			d.statics[rt] = http.StripPrefix(prefix, http.FileServer(http.Dir(rt.Dir)))
		}
	}

	return d
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	matched := d.table.Match(r.URL.Path)
	if matched == nil {
		d.logger.Info("No route for path",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("from", extractClientIP(r)))
		d.emitEvent(metrics.MetricEvent{
			Type:      metrics.EventRequestReceived,
			Timestamp: time.Now(),
			Route:     metrics.RouteUnmatched,
		})
		http.NotFound(w, r)
		return
	}

	d.emitEvent(metrics.MetricEvent{
		Type:      metrics.EventRequestReceived,
		Timestamp: time.Now(),
		Route:     matched.Prefix,
	})

	switch matched.Kind {
	case route.KindStatic:
		if !d.limitBody(w, r, matched) {
			return
		}
		d.statics[matched].ServeHTTP(w, r)

	case route.KindRedirect:
		d.serveRedirect(w, r, matched)

	case route.KindProxy:
		if !d.limitBody(w, r, matched) {
			return
		}
		d.serveProxy(w, r, matched)
	}
}

// limitBody enforces the configured request body cap. Declared oversized
// bodies are refused outright; chunked bodies are cut off by a byte-counting
// reader once they cross the limit mid-stream.
func (d *Dispatcher) limitBody(w http.ResponseWriter, r *http.Request, rt *route.Route) bool {
	if d.maxBodyBytes <= 0 {
		return true
	}

	if r.ContentLength > d.maxBodyBytes {
		d.logger.Info("Request body too large",
			slog.String("route", rt.Prefix),
			slog.String("path", r.URL.Path),
			slog.Int64("content_length", r.ContentLength),
			slog.Int64("limit", d.maxBodyBytes))
		http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
		return false
	}

	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, d.maxBodyBytes)
	}
	return true
}

// serveRedirect answers with the rule's target plus the path remainder.
// The result is never re-matched against the table in the same request;
// following it is the client's job.
func (d *Dispatcher) serveRedirect(w http.ResponseWriter, r *http.Request, rt *route.Route) {
	location := rt.RedirectLocation(r.URL.Path)
	if r.URL.RawQuery != "" {
		location += "?" + r.URL.RawQuery
	}

	d.logger.Info("Redirecting",
		slog.String("path", r.URL.Path),
		slog.String("location", location),
		slog.Int("status", rt.Status))

	d.emitEvent(metrics.MetricEvent{
		Type:       metrics.EventRedirectIssued,
		Timestamp:  time.Now(),
		Route:      rt.Prefix,
		StatusCode: rt.Status,
	})

	http.Redirect(w, r, location, rt.Status)
}

func (d *Dispatcher) serveProxy(w http.ResponseWriter, r *http.Request, rt *route.Route) {
	addr, err := d.resolver.Resolve(r.Context(), rt.Backend)
	if err != nil {
		d.logger.Error("Backend resolution failed",
			slog.String("route", rt.Prefix),
			slog.String("backend", rt.Backend),
			slog.String("error", err.Error()))
		d.emitEvent(metrics.MetricEvent{
			Type:      metrics.EventResolutionFailed,
			Timestamp: time.Now(),
			Route:     rt.Prefix,
			Backend:   rt.Backend,
		})
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	d.logger.Info("Forwarding to backend",
		slog.String("from", extractClientIP(r)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("route", rt.Prefix),
		slog.String("backend", rt.Backend),
		slog.String("address", addr))

	start := time.Now()
	wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

	ctx := context.WithValue(r.Context(), addrKey{}, addr)
	d.proxies[rt].ServeHTTP(wrapped, r.WithContext(ctx))

	d.emitEvent(metrics.MetricEvent{
		Type:       metrics.EventProxyCompleted,
		Timestamp:  time.Now(),
		Route:      rt.Prefix,
		Backend:    rt.Backend,
		Duration:   time.Since(start),
		StatusCode: wrapped.statusCode,
	})
}

// director points the outbound request at the address resolved for this
// request and injects the forwarding headers. Headers not set here pass
// through untouched; X-Forwarded-For is appended by ReverseProxy itself.
func (d *Dispatcher) director(rt *route.Route) func(*http.Request) {
	return func(req *http.Request) {
		addr, _ := req.Context().Value(addrKey{}).(string)

		scheme := "http"
		if req.TLS != nil {
			scheme = "https"
		}

		req.Header.Set("X-Forwarded-Host", req.Host)
		req.Header.Set("X-Forwarded-Proto", scheme)
		if ip := extractClientIP(req); ip != "" {
			req.Header.Set("X-Real-IP", ip)
		}

		req.URL.Scheme = "http"
		req.URL.Host = addr
		if rt.StripPrefix {
			req.URL.Path = rt.RewritePath(req.URL.Path)
			req.URL.RawPath = ""
		}
	}
}

// proxyError maps transport failures onto gateway statuses: a dial
// failure means the backend was unreachable (502), a timeout after
// connecting means it was too slow (504). Nothing is retried; partially
// streamed responses surface as a terminated connection.
func (d *Dispatcher) proxyError(rt *route.Route) func(http.ResponseWriter, *http.Request, error) {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, context.Canceled) {
			d.logger.Info("Client disconnected mid-request",
				slog.String("route", rt.Prefix),
				slog.String("backend", rt.Backend))
			return
		}

		status := http.StatusBadGateway
		var opErr *net.OpError
		isDial := errors.As(err, &opErr) && opErr.Op == "dial"

		var netErr net.Error
		if !isDial && errors.As(err, &netErr) && netErr.Timeout() {
			status = http.StatusGatewayTimeout
		}

		// A chunked body crossing the configured cap mid-stream.
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}

		d.logger.Error("Proxy request failed",
			slog.String("route", rt.Prefix),
			slog.String("backend", rt.Backend),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()))

		w.WriteHeader(status)
	}
}

func (d *Dispatcher) emitEvent(event metrics.MetricEvent) {
	if d.metricsCollector == nil {
		return
	}
	d.metricsCollector.Emit(event)
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
