package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultListen is the default address of the metrics endpoint.
const DefaultListen = "127.0.0.1:8989"

// Config holds the prometheus exporter options.
//
//nolint:ll
type Config struct {
	Enable bool   `long:"enable" description:"Export metrics over HTTP for prometheus to scrape"`
	Listen string `long:"listen" description:"The address the /metrics endpoint listens on"`
}

// DefaultConfig returns the exporter defaults.
func DefaultConfig() Config {
	return Config{
		Listen: DefaultListen,
	}
}

// Exporter serves the metrics of a gatherer on /metrics.
type Exporter struct {
	cfg      Config
	gatherer prometheus.Gatherer

	started sync.Once
	stopped sync.Once

	listener net.Listener
	server   *http.Server
}

// NewExporter creates an exporter for gatherer.
func NewExporter(cfg Config, gatherer prometheus.Gatherer) *Exporter {
	return &Exporter{
		cfg:      cfg,
		gatherer: gatherer,
	}
}

// Start begins serving. It is a no-op when the exporter is disabled.
func (e *Exporter) Start() error {
	if !e.cfg.Enable {
		return nil
	}

	var startErr error
	e.started.Do(func() {
		listener, err := net.Listen("tcp", e.cfg.Listen)
		if err != nil {
			startErr = err
			return
		}
		e.listener = listener

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(
			e.gatherer, promhttp.HandlerOpts{},
		))
		e.server = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		log.Infof("Prometheus exporter started on %v/metrics",
			listener.Addr())

		go func() {
			err := e.server.Serve(listener)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Prometheus exporter stopped: %v",
					err)
			}
		}()
	})

	return startErr
}

// Addr returns the address the exporter listens on, or nil when it is not
// running.
func (e *Exporter) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}

	return e.listener.Addr()
}

// Stop shuts the endpoint down.
func (e *Exporter) Stop() error {
	var stopErr error
	e.stopped.Do(func() {
		if e.server == nil {
			return
		}

		ctx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()

		stopErr = e.server.Shutdown(ctx)
	})

	return stopErr
}
