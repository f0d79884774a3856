// Package api implements the HTTP query and stats interface.
//
// Endpoints:
//
//	POST /         execute a query document, stream CSV rows
//	GET  /stats    point-in-time free-space and counter document
//	GET  /metrics  Prometheus metrics
//	GET  /healthz  liveness probe
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carouseldb/carousel/internal/logging"
	"github.com/carouseldb/carousel/internal/storage"
	"github.com/carouseldb/carousel/internal/telemetry"
)

// API serves the HTTP query/stats interface.
type API struct {
	svc    *storage.Service
	listen string
	server *http.Server
	ln     net.Listener
	log    *slog.Logger
}

// New creates the API server. Engine collectors are registered on a
// private Prometheus registry so repeated construction in tests never
// double-registers.
func New(listen string, svc *storage.Service) *API {
	a := &API{
		svc:    svc,
		listen: listen,
		log:    logging.Component("api"),
	}

	registry := prometheus.NewRegistry()
	telemetry.Register(registry, svc, svc.VolumeCount())

	router := httprouter.New()
	router.HandlerFunc("POST", "/", a.queryHandler)
	router.HandlerFunc("GET", "/stats", a.statsHandler)
	router.HandlerFunc("GET", "/healthz", a.healthHandler)
	router.Handler("GET", "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	a.server = &http.Server{
		Addr:    listen,
		Handler: router,
	}
	return a
}

// Handler returns the underlying HTTP handler, for tests.
func (a *API) Handler() http.Handler {
	return a.server.Handler
}

// Start begins serving in a background goroutine.
func (a *API) Start() error {
	ln, err := net.Listen("tcp", a.listen)
	if err != nil {
		return err
	}
	a.ln = ln
	a.log.Info("http listener started", "addr", ln.Addr().String())

	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.log.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address.
func (a *API) Addr() net.Addr {
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// Stop shuts the server down, waiting for in-flight requests up to the
// context deadline.
func (a *API) Stop(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
