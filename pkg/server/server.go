package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/valve"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terraformation/device-ingest/pkg/connection"
	"github.com/terraformation/device-ingest/pkg/stats"
)

const shutdownTimeout = 20 * time.Second

// Connection is the broker connection lifecycle the server drives.
type Connection interface {
	Start()
	Shutdown()
	State() connection.State
}

// Server runs the broker connection and an HTTP status endpoint until it
// receives SIGINT or SIGTERM.
type Server struct {
	Addr        string
	router      *chi.Mux
	conn        Connection
	counters    *stats.Counters
	reporter    *stats.Reporter
	useUnixSock bool

	// signal chan use for testing.
	testSignalCh chan os.Signal

	logger *zap.Logger
}

// New creates new server instance.
func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.router = chi.NewRouter()

	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}

	s.setupRoutes()
	s.useUnixSock = strings.HasPrefix(s.Addr, "unix://")
	s.Addr = strings.TrimPrefix(s.Addr, "unix://")

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Get("/status", s.Status)
	s.router.Get("/stats", s.Stats)
}

type statusResponse struct {
	State string `json:"state"`
}

// Status reports the broker connection state. It answers 503 unless connected.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	if err := valve.Lever(r.Context()).Open(); err != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer valve.Lever(r.Context()).Close()

	resp := statusResponse{State: "disabled"}
	code := http.StatusOK
	if s.conn != nil {
		state := s.conn.State()
		resp.State = state.String()
		if state != connection.Connected {
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, resp)
}

// Stats serves the ingest counters.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	if err := valve.Lever(r.Context()).Open(); err != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer valve.Lever(r.Context()).Close()

	s.writeJSON(w, http.StatusOK, s.counters.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) listen() (net.Listener, error) {
	if s.useUnixSock {
		return net.Listen("unix", s.Addr)
	}
	return net.Listen("tcp", s.Addr)
}

// Run starts the broker connection and serves HTTP until a shutdown signal
// arrives or the HTTP server fails. A signal-initiated shutdown returns nil.
func (s *Server) Run() error {
	// Graceful valve shut-off package to manage code preemption and shutdown signaling.
	valv := valve.New()
	baseCtx := valv.Context()

	ln, err := s.listen()
	if err != nil {
		return err
	}
	srv := http.Server{Handler: chi.ServerBaseContext(baseCtx, s.router)}

	if s.conn != nil {
		s.conn.Start()
	}
	if s.reporter != nil {
		s.reporter.Start()
	}

	c := make(chan os.Signal, 1)
	if s.testSignalCh != nil {
		c = s.testSignalCh
	}
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(c)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-c:
			s.logger.Info("shutting down...")
		case <-ctx.Done():
			s.logger.Error("http server stopped; shutting down")
		}
		s.shutdown(valv, &srv)
		return nil
	})

	return g.Wait()
}

func (s *Server) shutdown(valv *valve.Valve, srv *http.Server) {
	if err := valv.Shutdown(shutdownTimeout); err != nil {
		s.logger.Error("failed to shutdown valv", zap.Error(err))
	}

	if s.conn != nil {
		s.conn.Shutdown()
	}
	if s.reporter != nil {
		s.reporter.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown http server", zap.Error(err))
	}
}
