// Package httpserver builds the HTTP servers and runs them until the
// context is cancelled.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 120 * time.Second
)

// New builds an HTTP server. requestTimeout bounds reading the body and
// writing the response; zero leaves them unbounded.
func New(addr string, handler http.Handler, requestTimeout time.Duration) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	if requestTimeout > 0 {
		srv.ReadTimeout = requestTimeout
		// leave room for the error response after a handler times out
		srv.WriteTimeout = requestTimeout + 5*time.Second
	}
	return srv
}

// Run serves every server until ctx is cancelled or one of them fails, then
// shuts them all down within shutdownTimeout.
func Run(ctx context.Context, logger *slog.Logger, shutdownTimeout time.Duration, servers ...*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			logger.InfoContext(ctx, "http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		logger.InfoContext(shutdownCtx, "http servers stopped")
		return errors.Join(errs...)
	})
	return g.Wait()
}
