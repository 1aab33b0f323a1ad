package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/WuChenDi/bitk/internal/log"
)

// Server wraps Handler with an http.Server for lifecycle management,
// grounded on the teacher's api.Server: the listener is created first so
// callers using an auto-assigned port (":0") can read the bound Port()
// before Start() blocks.
type Server struct {
	handler  *Handler
	server   *http.Server
	listener net.Listener
	port     int
}

// ServerConfig configures the HTTP/SSE boundary server.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer binds a listener at cfg.Addr and wraps handler's routes in an
// http.Server. WriteTimeout defaults to 0 (no timeout) since the SSE stream
// is long-lived.
func NewServer(cfg ServerConfig, handler *Handler) (*Server, error) {
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Addr, err)
	}

	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	return &Server{
		handler:  handler,
		listener: listener,
		port:     port,
		server: &http.Server{
			Handler:           handler.Routes(),
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
	}, nil
}

// Start blocks serving requests until the listener is closed or Stop is called.
func (s *Server) Start() error {
	log.Info(log.CatHTTP, "starting HTTP/SSE boundary", "addr", s.listener.Addr().String())
	return s.server.Serve(s.listener)
}

// Stop gracefully shuts down the server, waiting for in-flight SSE streams
// to observe ctx cancellation and close on their own.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatHTTP, "stopping HTTP/SSE boundary")
	return s.server.Shutdown(ctx)
}

// Port returns the actual bound port, useful when Addr used ":0".
func (s *Server) Port() int {
	return s.port
}
