package server

import (
	"go.uber.org/zap"

	"github.com/terraformation/device-ingest/pkg/stats"
)

type Option func(s *Server) error

// WithAddr returns an Option which set the server listening address.
func WithAddr(addr string) Option {
	return func(s *Server) error {
		s.Addr = addr
		return nil
	}
}

// WithConnection returns an Option which set the broker connection the server
// starts, reports on and shuts down.
func WithConnection(c Connection) Option {
	return func(s *Server) error {
		s.conn = c
		return nil
	}
}

// WithCounters returns an Option which set the counters served on /stats.
func WithCounters(c *stats.Counters) Option {
	return func(s *Server) error {
		s.counters = c
		return nil
	}
}

// WithReporter returns an Option which set the periodic stats reporter.
func WithReporter(r *stats.Reporter) Option {
	return func(s *Server) error {
		s.reporter = r
		return nil
	}
}

// WithLogger returns an Option which set the logger for Server.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}
