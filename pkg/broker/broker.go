// Package broker defines the capability set a publish/subscribe client offers
// to the connection manager, independent of any client library.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConnectionFailed is returned when a connect attempt fails. It is
	// transient and worth retrying with a fresh client.
	ErrConnectionFailed = errors.New("broker: connection failed")

	// ErrSubscribeFailed is returned when the broker rejects a subscription.
	ErrSubscribeFailed = errors.New("broker: subscribe failed")

	// ErrPublishFailed is returned when a publish is not acknowledged.
	ErrPublishFailed = errors.New("broker: publish failed")

	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("broker: client not connected")
)

// Client is a single broker connection. A Client whose Connect failed must
// not be connected again; the caller discards it and creates a new one.
type Client interface {
	// SetCallback registers the receiver of connection events. It must be
	// called before Connect.
	SetCallback(cb Callback)
	Connect(ctx context.Context, opts ConnectOptions) error
	Subscribe(ctx context.Context, filter string, qos byte) error
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	// Disconnect closes the connection and releases the client's resources.
	// It is safe to call on a client that never connected.
	Disconnect()
	IsConnected() bool
	String() string
}

// Callback receives events from a Client. Both methods run on the client's
// own goroutines and must not block on client operations.
type Callback interface {
	ConnectionLost(c Client, err error)
	MessageArrived(c Client, topic string, payload []byte)
}

// ConnectCompleter is implemented by callbacks that want to know when a
// connection has been established.
type ConnectCompleter interface {
	ConnectComplete(c Client)
}

// DeliveryCompleter is implemented by callbacks that want to know when a
// publish has been acknowledged.
type DeliveryCompleter interface {
	DeliveryComplete(c Client, topic string)
}

// ConnectOptions are the per-attempt connection parameters.
type ConnectOptions struct {
	Username string
	Password string

	// CleanSession false asks the broker to keep subscription state across
	// reconnects.
	CleanSession bool

	// AutoReconnect lets the client library reconnect by itself.
	AutoReconnect bool

	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// Factory creates a new, unconnected Client.
type Factory func(serverURI, clientID string) (Client, error)
