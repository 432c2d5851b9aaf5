package connection

import (
	"time"

	"go.uber.org/zap"

	"github.com/terraformation/device-ingest/pkg/broker"
	"github.com/terraformation/device-ingest/pkg/clock"
	"github.com/terraformation/device-ingest/pkg/event"
	"github.com/terraformation/device-ingest/pkg/stats"
)

type Option func(m *Manager)

// WithServerURI returns an Option which set the broker address.
func WithServerURI(uri string) Option {
	return func(m *Manager) {
		m.serverURI = uri
	}
}

// WithClientID returns an Option which set the identity presented to the
// broker. It is also the credential subject and the username.
func WithClientID(id string) Option {
	return func(m *Manager) {
		m.clientID = id
	}
}

// WithTopicFilter returns an Option which set the filter to subscribe to.
func WithTopicFilter(filter string) Option {
	return func(m *Manager) {
		m.topicFilter = filter
	}
}

// WithQoS returns an Option which set the subscription and publish QoS.
func WithQoS(qos byte) Option {
	return func(m *Manager) {
		m.qos = qos
	}
}

// WithRetryInterval returns an Option which set the fixed delay between
// connect attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.retryInterval = d
	}
}

// WithPassword returns an Option which set a static broker password. When set,
// no credentials are issued.
func WithPassword(password string) Option {
	return func(m *Manager) {
		m.password = password
	}
}

// WithIssuer returns an Option which set the source of per-attempt
// credentials.
func WithIssuer(issuer CredentialIssuer) Option {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

// WithClientFactory returns an Option which set how broker clients are made.
func WithClientFactory(f broker.Factory) Option {
	return func(m *Manager) {
		m.newClient = f
	}
}

// WithParser returns an Option which set the payload parser.
func WithParser(p Parser) Option {
	return func(m *Manager) {
		m.parser = p
	}
}

// WithDispatcher returns an Option which set where parsed messages go.
func WithDispatcher(d event.Dispatcher) Option {
	return func(m *Manager) {
		m.dispatcher = d
	}
}

// WithCounters returns an Option which set the activity counters.
func WithCounters(c *stats.Counters) Option {
	return func(m *Manager) {
		m.counters = c
	}
}

// WithClock returns an Option which set the clock used to wait between
// attempts.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger returns an Option which set the logger for Manager.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}
