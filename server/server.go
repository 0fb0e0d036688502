// Package server exposes a pin controller to the outside world: the binary
// session protocol for event-driven clients, and a small HTTP API for
// configuration and one-shot tooling.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/pinwire/pinwire/control"
	"github.com/pinwire/pinwire/store"
	"github.com/pinwire/pinwire/wire"
)

type Server struct {
	// Addr is the session protocol listen address.
	Addr string

	// HTTPAddr is the config API listen address.
	HTTPAddr string

	// Board names this device in server hellos and status responses.
	Board string

	Controller *control.Controller
	Store      store.Store
	Logger     *logrus.Logger
}

func (s *Server) router() *httprouter.Router {
	mux := httprouter.New()

	mux.HandlerFunc(http.MethodGet, "/status", s.getStatus)

	mux.HandlerFunc(http.MethodGet, "/config", s.getConfig)
	mux.HandlerFunc(http.MethodPut, "/config", s.putConfig)

	mux.HandlerFunc(http.MethodGet, "/pins", s.getPins)
	mux.HandlerFunc(http.MethodGet, "/pins/:pin", s.getPin)
	mux.HandlerFunc(http.MethodPut, "/pins/:pin", s.putPin)
	mux.HandlerFunc(http.MethodDelete, "/pins/:pin", s.deletePin)
	mux.HandlerFunc(http.MethodPut, "/pins/:pin/level", s.putPinLevel)

	mux.HandlerFunc(http.MethodGet, "/profiles", s.profiles)
	mux.HandlerFunc(http.MethodGet, "/profiles/:name", s.getProfile)
	mux.HandlerFunc(http.MethodPut, "/profiles/:name", s.putProfile)
	mux.HandlerFunc(http.MethodDelete, "/profiles/:name", s.deleteProfile)

	mux.HandlerFunc(http.MethodPost, "/rpc/apply", s.applyConfig)
	mux.HandlerFunc(http.MethodPost, "/rpc/applyProfile", s.applyProfile)
	mux.HandlerFunc(http.MethodPost, "/rpc/save", s.saveConfig)
	mux.HandlerFunc(http.MethodPost, "/rpc/reinitialize", s.reinitialize)

	return mux
}

func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.HTTPAddr,
		Handler:           s.router(),
		ReadTimeout:       time.Second * 15,
		ReadHeaderTimeout: time.Second * 15,
		IdleTimeout:       time.Second * 30,
		MaxHeaderBytes:    4096,
	}

	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("unable to listen on %q: %w", s.Addr, err)
	}
	defer listener.Close()

	httpErrs := make(chan error)
	go func() {
		s.Logger.WithField("addr", s.HTTPAddr).Info("serving http")
		httpErrs <- httpServer.ListenAndServe()
	}()

	acceptErrs := make(chan error)
	go func() {
		s.Logger.WithField("addr", s.Addr).Info("serving sessions")
		acceptErrs <- s.acceptLoop(ctx, listener)
	}()

	select {
	case err := <-httpErrs:
		return err
	case err := <-acceptErrs:
		httpServer.Shutdown(ctx)
		return err
	case <-ctx.Done():
		listener.Close()
		return httpServer.Shutdown(context.Background())
	}
}

// acceptLoop runs one session per accepted connection. Sessions die with
// their peers; the loop itself only stops when the listener does.
func (s *Server) acceptLoop(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		session := wire.NewSession(conn, s.Controller)
		session.Logger = s.Logger
		session.Board = s.Board

		go func() {
			if err := session.Serve(ctx); err != nil {
				s.Logger.WithField("session", session.ID).WithError(err).Warn("session ended")
			}
		}()
	}
}
