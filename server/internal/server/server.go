package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/AstarVienna/irdb/internal/usagelog"
	"github.com/AstarVienna/irdb/server/internal/config"
	"github.com/AstarVienna/irdb/server/internal/handlers"
	"github.com/AstarVienna/irdb/server/internal/middleware"
	"github.com/kardianos/service"
)

const shutdownTimeout = 10 * time.Second

// Server runs the usage log endpoint. It implements service.Interface so
// it can run in the foreground or under the system service manager.
type Server struct {
	cfg     *config.Config
	sink    *usagelog.FileSink
	httpSrv *http.Server
	logger  *log.Logger
	errc    chan error
}

// New wires the sink, handlers and middleware for cfg
func New(cfg *config.Config, logger *log.Logger) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	sink := usagelog.NewFileSink(cfg.LogFile)
	h := handlers.New(sink, loc)

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, h.LogPackageUse)
	mux.HandleFunc("/health", h.Health)

	handler := middleware.AccessLog(logger)(middleware.SecurityHeaders(mux))

	return &Server{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		httpSrv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins listening and serving in the background
func (s *Server) Start(svc service.Service) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.logger.Printf("Starting instpkgsvr on %s", ln.Addr())
	s.logger.Printf("Usage log: %s", s.sink.Path())

	s.errc = make(chan error, 1)
	go func() {
		err := s.httpSrv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Printf("Server failed: %v", err)
		}
		s.errc <- err
	}()
	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests
func (s *Server) Stop(svc service.Service) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if s.errc != nil {
		return <-s.errc
	}
	return nil
}
