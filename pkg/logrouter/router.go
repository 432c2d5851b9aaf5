// Package logrouter writes log messages from devices to the service log,
// choosing a logger by topic.
package logrouter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/terraformation/device-ingest/pkg/config"
	"github.com/terraformation/device-ingest/pkg/event"
	"github.com/terraformation/device-ingest/pkg/message"
)

var _ event.Listener = (*Router)(nil)

type route struct {
	prefix string
	logger *zap.Logger
}

// Router logs LogMessages through the logger of the longest matching topic
// prefix, or through the default logger when no route matches.
type Router struct {
	mu       sync.RWMutex
	routes   []route
	fallback *zap.Logger
}

// New creates a Router that logs unmatched topics to fallback.
func New(fallback *zap.Logger) *Router {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return &Router{fallback: fallback}
}

// FromConfig creates a Router that logs unmatched topics to base and adds one
// route per configured prefix. Each route logs through base, named after the
// route's logger and limited to the route's level.
func FromConfig(base *zap.Logger, routes []config.LogRoute) (*Router, error) {
	r := New(base)
	for i, rt := range routes {
		if rt.Prefix == "" {
			return nil, &config.Error{Setting: fmt.Sprintf("logging.routes[%d].prefix", i)}
		}
		level, err := rt.ZapLevel()
		if err != nil {
			return nil, &config.Error{Setting: fmt.Sprintf("logging.routes[%d].level", i), Reason: err.Error()}
		}

		logger := r.fallback
		if rt.Logger != "" {
			logger = logger.Named(rt.Logger)
		}
		if rt.Level != "" {
			logger = logger.WithOptions(zap.IncreaseLevel(level))
		}
		r.Route(rt.Prefix, logger)
	}
	return r, nil
}

// Route sends messages whose topic starts with prefix to logger.
func (r *Router) Route(prefix string, logger *zap.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.routes = append(r.routes, route{prefix: prefix, logger: logger})
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].prefix) > len(r.routes[j].prefix)
	})
}

func (r *Router) loggerFor(topic string) *zap.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rt := range r.routes {
		if strings.HasPrefix(topic, rt.prefix) {
			return rt.logger
		}
	}
	return r.fallback
}

func (r *Router) Handle(msg message.Message) {
	log, ok := msg.(*message.LogMessage)
	if !ok {
		return
	}

	logger := r.loggerFor(log.Topic)
	fields := []zap.Field{
		zap.String("topic", log.Topic),
		zap.Time("device_time", log.Timestamp),
	}
	switch log.Level {
	case message.LevelDebug:
		logger.Debug(log.Text, fields...)
	case message.LevelWarn:
		logger.Warn(log.Text, fields...)
	case message.LevelError:
		logger.Error(log.Text, fields...)
	default:
		logger.Info(log.Text, fields...)
	}
}
