package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	goahttp "goa.design/goa/v3/http"
	httpmdlwr "goa.design/goa/v3/http/middleware"

	"poolguard/internal/auth"
	"poolguard/internal/middleware"
	"poolguard/internal/services"
)

// publicPaths are served without authentication
var publicPaths = []string{"/healthz", "/readyz", "/auth/login"}

// newHTTPHandler builds the mux serving the API, the streams and the event
// channel, wrapped with the request ID, auth and access log middlewares.
func newHTTPHandler(
	server *services.Server,
	video, snapshot, events http.Handler,
	authenticator *auth.Authenticator,
	logger *log.Logger,
	debug bool,
) http.Handler {
	// Build the service HTTP request multiplexer
	var mux goahttp.Muxer
	{
		mux = goahttp.NewMuxer()
	}

	server.Mount(mux)
	server.MountHandler(mux, "Video", "GET", "/video", video)
	server.MountHandler(mux, "Snapshot", "GET", "/snapshot", snapshot)
	server.MountHandler(mux, "Events", "GET", "/ws/events", events)

	for _, m := range server.Mounts {
		logger.Printf("HTTP %q mounted on %s %s", m.Method, m.Verb, m.Pattern)
	}

	// Wrap the multiplexer with additional middlewares. Middlewares mounted
	// here apply to all the endpoints.
	var handler http.Handler = mux
	{
		if debug {
			handler = httpmdlwr.Debug(mux, os.Stdout)(handler)
		}
		handler = middleware.AuthMiddleware(authenticator, publicPaths...)(handler)
		handler = middleware.AccessLog(logger)(handler)
		handler = httpmdlwr.RequestID()(handler)
	}
	return handler
}

// serveHTTP runs the HTTP server until ctx is done, then shuts it down
// gracefully with a 30s timeout. Request contexts derive from ctx so
// long-lived streams end when it is cancelled.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second * 60,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		logger.Printf("HTTP server listening on %q", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Printf("shutting down HTTP server at %q", addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stream handlers have already seen ctx cancelled; Shutdown waits for
	// them to return
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("failed to shutdown: %v", err)
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
