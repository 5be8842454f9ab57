package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultPath is where the exporter serves metrics.
const DefaultPath = "/metrics"

// Handler returns the HTTP handler exposing Registry in Prometheus text
// exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Exporter serves Registry over HTTP while a run is in progress.
type Exporter struct {
	srv *http.Server
	ln  net.Listener

	done chan struct{}
	err  error // set before done is closed
}

// Serve starts an exporter on addr. The returned Exporter must be closed.
func Serve(addr string) (*Exporter, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, Handler())
	e := &Exporter{
		srv:  &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:   ln,
		done: make(chan struct{}),
	}
	go func() {
		defer close(e.done)
		if err := e.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			e.err = errors.Wrap(err, "metrics: serve")
		}
	}()
	return e, nil
}

// Addr returns the address the exporter listens on.
func (e *Exporter) Addr() string { return e.ln.Addr().String() }

// Close shuts the exporter down, waiting at most until ctx is done. It
// returns the error that stopped the server early, if any.
func (e *Exporter) Close(ctx context.Context) error {
	if err := e.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
