package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/httpapi"
)

// httpServer runs the inspection API.
type httpServer struct {
	srv  *http.Server
	ln   net.Listener
	log  logrus.FieldLogger
	done chan struct{}
}

// startHTTP listens on addr and serves the API in the background.
func startHTTP(addr string, h http.Handler, log logrus.FieldLogger) (*httpServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &httpServer{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln:   ln,
		log:  log,
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server stopped")
		}
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("http server listening")
	return s, nil
}

// addr returns the bound address.
func (s *httpServer) addr() string {
	return s.ln.Addr().String()
}

// shutdown stops accepting requests and waits for in-flight ones.
func (s *httpServer) shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}

// startServer starts the inspection API if it is enabled.
func (app *Application) startServer() error {
	cfg := app.Config().HTTP
	if !cfg.Enabled {
		return nil
	}
	mux := httpapi.NewMux(app, httpapi.Options{
		Metrics: app.metrics,
		Logger:  app.logger,
	})
	s, err := startHTTP(cfg.Addr, mux, app.logger.WithField("component", "http"))
	if err != nil {
		return NewComponentError("http", "listen", err)
	}
	app.server = s
	return nil
}

// HTTPAddr returns the address the inspection API is bound to, or "" if
// it is not running.
func (app *Application) HTTPAddr() string {
	if app.server == nil {
		return ""
	}
	return app.server.addr()
}
