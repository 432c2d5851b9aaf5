// Package connection owns the service's single broker connection: it connects
// with a fresh client and a fresh credential on every attempt, retries at a
// fixed interval, and reconnects when the connection is lost.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/terraformation/device-ingest/pkg/broker"
	"github.com/terraformation/device-ingest/pkg/clock"
	"github.com/terraformation/device-ingest/pkg/config"
	"github.com/terraformation/device-ingest/pkg/event"
	"github.com/terraformation/device-ingest/pkg/message"
	"github.com/terraformation/device-ingest/pkg/stats"
)

// State is the connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const defaultRetryInterval = 30 * time.Second

var errLostWhileConnecting = fmt.Errorf("%w: connection lost before subscription completed", broker.ErrConnectionFailed)

// CredentialIssuer issues the password for one connect attempt.
type CredentialIssuer interface {
	Issue(subject, topicFilter string) (string, error)
}

// Parser decodes a payload, returning nil for messages that should be dropped.
type Parser interface {
	Parse(topic string, payload []byte) message.Message
}

var (
	_ broker.Callback          = (*Manager)(nil)
	_ broker.ConnectCompleter  = (*Manager)(nil)
	_ broker.DeliveryCompleter = (*Manager)(nil)
)

// Manager maintains at most one active broker client and at most one
// in-flight connect loop. All changes to either go through mu.
type Manager struct {
	serverURI     string
	clientID      string
	topicFilter   string
	qos           byte
	retryInterval time.Duration
	password      string
	issuer        CredentialIssuer
	newClient     broker.Factory
	parser        Parser
	dispatcher    event.Dispatcher
	counters      *stats.Counters
	clock         clock.Clock
	logger        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	client      broker.Client
	pending     broker.Client
	pendingLost bool
	connecting  bool
	closed      bool
}

// New creates a Manager. It does not connect until Start is called.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		qos:           1,
		retryInterval: defaultRetryInterval,
		clock:         clock.Real(),
	}
	for _, opt := range opts {
		opt(m)
	}

	switch {
	case m.serverURI == "":
		return nil, &config.Error{Setting: "mqtt.address"}
	case m.clientID == "":
		return nil, &config.Error{Setting: "mqtt.client_id"}
	case m.topicFilter == "":
		return nil, &config.Error{Setting: "mqtt.topic_prefix"}
	case m.retryInterval <= 0:
		return nil, &config.Error{Setting: "mqtt.retry_interval_ms", Reason: "must be positive"}
	case m.password == "" && m.issuer == nil:
		return nil, &config.Error{Setting: "mqtt.signing_secret", Reason: "is required when mqtt.password is not set"}
	case m.newClient == nil:
		return nil, errors.New("connection: no broker client factory")
	case m.parser == nil:
		return nil, errors.New("connection: no parser")
	case m.dispatcher == nil:
		return nil, errors.New("connection: no dispatcher")
	}

	if m.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		m.logger = l
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Start launches the connect loop unless one is already running, a client is
// already connected, or the manager has been shut down.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		m.logger.Debug("Not connecting; manager is shut down")
		return
	case m.connecting:
		m.logger.Info("Connection attempt already in progress")
		return
	case m.client != nil:
		m.logger.Debug("Already connected to broker")
		return
	}

	m.connecting = true
	m.wg.Add(1)
	go m.connectLoop()
}

// Shutdown stops any connect loop, waits for it to exit, and disconnects the
// active client. It is safe to call more than once and from any goroutine.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancel()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	m.wg.Wait()
	if client != nil {
		disconnectQuietly(client)
	}
	m.logger.Info("Broker connection shut down")
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.client != nil:
		return Connected
	case m.connecting:
		return Connecting
	default:
		return Disconnected
	}
}

// Publish sends a control message on the active connection.
func (m *Manager) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil {
		return broker.ErrNotConnected
	}
	return client.Publish(ctx, topic, m.qos, payload)
}

func (m *Manager) connectLoop() {
	defer m.wg.Done()

	retry := &backoff.Backoff{Min: m.retryInterval, Max: m.retryInterval, Factor: 1}
	for {
		if m.ctx.Err() != nil {
			m.stopConnecting()
			return
		}

		client, err := m.attempt()
		if err == nil {
			if err = m.activate(client); err == nil {
				return
			}
			if errors.Is(err, errLostWhileConnecting) {
				m.counters.ConnectFailure()
			}
			disconnectQuietly(client)
		}

		switch {
		case m.ctx.Err() != nil:
			m.stopConnecting()
			return
		case errors.Is(err, broker.ErrConnectionFailed), errors.Is(err, broker.ErrSubscribeFailed):
			m.logger.Warn("Unable to connect to broker",
				zap.String("server_uri", redact(m.serverURI)), zap.Error(err))
		default:
			m.logger.Error("Unexpected error connecting to broker",
				zap.String("server_uri", redact(m.serverURI)), zap.Error(err))
		}

		select {
		case <-m.ctx.Done():
			m.stopConnecting()
			return
		case <-m.clock.After(retry.Duration()):
		}
	}
}

// attempt makes one connection with a newly created client. A client that
// fails to connect is never reused since the client library can leave it
// unusable.
func (m *Manager) attempt() (client broker.Client, err error) {
	m.counters.ConnectAttempt()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during connect: %v", r)
		}
		if err != nil {
			m.counters.ConnectFailure()
			if client != nil {
				m.clearPending(client)
				disconnectQuietly(client)
			}
			client = nil
		}
	}()

	client, err = m.newClient(m.serverURI, m.clientID)
	if err != nil {
		return nil, fmt.Errorf("creating broker client: %w", err)
	}
	m.setPending(client)

	password, err := m.credential()
	if err != nil {
		return client, err
	}

	client.SetCallback(m)
	err = client.Connect(m.ctx, broker.ConnectOptions{
		Username:      m.clientID,
		Password:      password,
		CleanSession:  false,
		AutoReconnect: false,
	})
	if err != nil {
		return client, err
	}

	if err = client.Subscribe(m.ctx, m.topicFilter, m.qos); err != nil {
		return client, err
	}
	return client, nil
}

func (m *Manager) credential() (string, error) {
	if m.password != "" {
		return m.password, nil
	}
	token, err := m.issuer.Issue(m.clientID, m.topicFilter)
	if err != nil {
		return "", fmt.Errorf("issuing broker credential: %w", err)
	}
	return token, nil
}

// setPending marks client as the one being connected, so that a connection
// loss it reports before activation can be matched against it.
func (m *Manager) setPending(client broker.Client) {
	m.mu.Lock()
	m.pending = client
	m.pendingLost = false
	m.mu.Unlock()
}

func (m *Manager) clearPending(client broker.Client) {
	m.mu.Lock()
	if m.pending == client {
		m.pending = nil
		m.pendingLost = false
	}
	m.mu.Unlock()
}

// activate records client as the active client. It fails if the manager was
// shut down or the client reported a connection loss while connecting.
func (m *Manager) activate(client broker.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lost := m.pendingLost && m.pending == client
	m.pending = nil
	m.pendingLost = false
	switch {
	case m.closed:
		m.connecting = false
		return context.Canceled
	case lost:
		return errLostWhileConnecting
	}

	m.connecting = false
	m.client = client
	m.counters.Connected()
	m.logger.Info("Subscribed to broker topics",
		zap.String("server_uri", redact(m.serverURI)), zap.String("filter", m.topicFilter))
	return nil
}

func (m *Manager) stopConnecting() {
	m.mu.Lock()
	m.connecting = false
	m.mu.Unlock()
}

// ConnectionLost drops the lost client and starts connecting again. The old
// client is closed on another goroutine because the client library forbids
// blocking calls from inside its callbacks.
func (m *Manager) ConnectionLost(c broker.Client, err error) {
	m.logger.Warn("Lost connection to broker", zap.String("client", c.String()), zap.Error(err))

	m.mu.Lock()
	if m.pending == c {
		m.pendingLost = true
		m.mu.Unlock()
		m.logger.Debug("Connection lost before subscription completed", zap.String("client", c.String()))
		return
	}
	if m.client != c {
		m.mu.Unlock()
		m.logger.Debug("Ignoring connection loss of inactive client", zap.String("client", c.String()))
		return
	}
	m.client = nil
	m.mu.Unlock()
	m.counters.ConnectionLost()

	go func() {
		disconnectQuietly(c)
		m.Start()
	}()
}

// MessageArrived parses the payload and hands the result to the dispatcher.
func (m *Manager) MessageArrived(_ broker.Client, topic string, payload []byte) {
	m.counters.Received()
	msg := m.parser.Parse(topic, payload)
	if msg == nil {
		m.counters.Dropped()
		return
	}
	m.dispatcher.Publish(msg)
	m.counters.Published()
}

func (m *Manager) ConnectComplete(c broker.Client) {
	m.logger.Debug("Broker connect complete", zap.String("client", c.String()))
}

func (m *Manager) DeliveryComplete(c broker.Client, topic string) {
	m.logger.Debug("Broker delivery complete", zap.String("client", c.String()), zap.String("topic", topic))
}

// disconnectQuietly closes c, ignoring any failure.
func disconnectQuietly(c broker.Client) {
	defer func() {
		_ = recover()
	}()
	c.Disconnect()
}

func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return u.Redacted()
}
