package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/terraformation/device-ingest/pkg/broker"
)

const (
	clientDisconnectWaitTimeout = 250
	defaultConnectTimeout       = 30 * time.Second
	defaultKeepAlive            = 60 * time.Second
)

var _ broker.Client = (*Client)(nil)

// ErrClientUsed is returned when Connect is called on a client that has
// already attempted a connection.
var ErrClientUsed = errors.New("mqtt: client has already been used; create a new one")

var errClientClosed = errors.New("mqtt: client is disconnected")

// Client implements broker.Client on top of a single paho client. Each
// instance makes at most one connection attempt.
//
// The client opens the network connection itself so that Disconnect can close
// it while paho is still waiting for the broker to acknowledge the connect.
type Client struct {
	uri      *url.URL
	clientID string
	logger   *zap.Logger

	// dialCtx is cancelled by Disconnect.
	dialCtx    context.Context
	cancelDial context.CancelFunc

	mu     sync.Mutex
	cb     broker.Callback
	client paho.Client
	conn   net.Conn
	closed bool
}

// NewClient creates an unconnected client for serverURI.
func NewClient(serverURI, clientID string, opts ...Option) (*Client, error) {
	c := &Client{clientID: clientID}
	if err := WithURL(serverURI)(c); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		c.logger = l
	}
	c.dialCtx, c.cancelDial = context.WithCancel(context.Background())
	return c, nil
}

// Factory returns a broker.Factory that creates Clients with opts applied.
func Factory(opts ...Option) broker.Factory {
	return func(serverURI, clientID string) (broker.Client, error) {
		return NewClient(serverURI, clientID, opts...)
	}
}

func (c *Client) SetCallback(cb broker.Callback) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

// callback returns nil once the client is disconnected, so an abandoned
// client never reports back to its owner.
func (c *Client) callback() broker.Callback {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.cb
}

// brokerURL maps the configured URI to the scheme paho understands.
func brokerURL(u *url.URL) string {
	scheme := u.Scheme
	switch scheme {
	case "", "mqtt":
		scheme = "tcp"
	case "mqtts":
		scheme = "ssl"
	}
	return scheme + "://" + u.Host + u.Path
}

func (c *Client) opts(o broker.ConnectOptions) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(c.uri))
	opts.SetClientID(c.clientID)

	username := o.Username
	if u := c.uri.User.Username(); username == "" && u != "" {
		username = u
	}
	opts.SetUsername(username)
	password := o.Password
	if p, isSet := c.uri.User.Password(); password == "" && isSet {
		password = p
	}
	opts.SetPassword(password)

	opts.SetCleanSession(o.CleanSession)
	opts.SetAutoReconnect(o.AutoReconnect)
	opts.SetConnectRetry(false)

	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(timeout)
	opts.SetDialer(&net.Dialer{Timeout: timeout})
	keepAlive := o.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetCustomOpenConnectionFn(c.openConnection)

	opts.SetDefaultPublishHandler(c.handleMessage)

	opts.SetOnConnectHandler(func(paho.Client) {
		c.logger.Info("Connected to broker", zap.String("server_uri", c.uri.Redacted()))
		if cc, ok := c.callback().(broker.ConnectCompleter); ok {
			cc.ConnectComplete(c)
		}
	})

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		if cb := c.callback(); cb != nil {
			cb.ConnectionLost(c, err)
		}
	})

	return opts
}

// handleMessage forwards a delivery to the callback. A panicking callback must
// not take down paho's router goroutine.
func (c *Client) handleMessage(_ paho.Client, msg paho.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Message handler panic recovered",
				zap.String("topic", msg.Topic()), zap.Any("panic", r))
		}
	}()

	if cb := c.callback(); cb != nil {
		cb.MessageArrived(c, msg.Topic(), msg.Payload())
	}
}

// openConnection dials the broker for paho and keeps the connection so that
// Disconnect can close it.
func (c *Client) openConnection(uri *url.URL, options paho.ClientOptions) (net.Conn, error) {
	dialer := options.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: options.ConnectTimeout}
	}

	var (
		conn net.Conn
		err  error
	)
	switch uri.Scheme {
	case "tcp", "mqtt":
		conn, err = dialer.DialContext(c.dialCtx, "tcp", uri.Host)
	case "ssl", "tls", "mqtts", "mqtt+ssl", "tcps":
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: options.TLSConfig}
		conn, err = tlsDialer.DialContext(c.dialCtx, "tcp", uri.Host)
	case "ws", "wss":
		dialURI := *uri
		dialURI.User = nil
		var tlsConfig *tls.Config
		if uri.Scheme == "wss" {
			tlsConfig = options.TLSConfig
		}
		conn, err = paho.NewWebsocket(dialURI.String(), tlsConfig, options.ConnectTimeout, options.HTTPHeaders, options.WebsocketOptions)
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", uri.Scheme)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return nil, errClientClosed
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) Connect(ctx context.Context, o broker.ConnectOptions) error {
	c.mu.Lock()
	if c.client != nil {
		c.mu.Unlock()
		return ErrClientUsed
	}
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", broker.ErrConnectionFailed, errClientClosed)
	}
	client := paho.NewClient(c.opts(o))
	c.client = client
	c.mu.Unlock()

	if err := wait(ctx, client.Connect()); err != nil {
		if ctx.Err() != nil {
			// paho keeps waiting for CONNACK after we stop waiting; close
			// the socket so the abandoned attempt cannot complete.
			c.Disconnect()
		}
		return fmt.Errorf("%w: %s: %v", broker.ErrConnectionFailed, c.uri.Redacted(), err)
	}
	return nil
}

func (c *Client) pahoClient() paho.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *Client) Subscribe(ctx context.Context, filter string, qos byte) error {
	client := c.pahoClient()
	if client == nil || !client.IsConnected() {
		return broker.ErrNotConnected
	}
	if err := wait(ctx, client.Subscribe(filter, qos, c.handleMessage)); err != nil {
		return fmt.Errorf("%w: %s: %v", broker.ErrSubscribeFailed, filter, err)
	}
	return nil
}

func (c *Client) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	client := c.pahoClient()
	if client == nil || !client.IsConnected() {
		return broker.ErrNotConnected
	}
	if err := wait(ctx, client.Publish(topic, qos, false, payload)); err != nil {
		return fmt.Errorf("%w: %s: %v", broker.ErrPublishFailed, topic, err)
	}
	if dc, ok := c.callback().(broker.DeliveryCompleter); ok {
		dc.DeliveryComplete(c, topic)
	}
	return nil
}

// Disconnect closes the connection, including one that is still being
// established. The client cannot be used afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	client := c.client
	conn := c.conn
	c.mu.Unlock()

	c.cancelDial()
	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(clientDisconnectWaitTimeout)
	}
	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) IsConnected() bool {
	client := c.pahoClient()
	return client != nil && client.IsConnected()
}

func (c *Client) String() string {
	return fmt.Sprintf("Broker [%s@%s]", c.clientID, c.uri.Redacted())
}

// wait blocks until the token completes or ctx is done.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
