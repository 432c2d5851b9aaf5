package mqtt

import (
	"errors"
	"net/url"

	"go.uber.org/zap"
)

type Option func(c *Client) error

// WithURL returns an Option which set the broker url.
func WithURL(u string) Option {
	return func(c *Client) error {
		if u == "" {
			return errors.New("empty broker url")
		}
		uri, err := url.Parse(u)
		if err != nil {
			return err
		}
		if uri.Host == "" {
			return errors.New("broker url has no host: " + u)
		}
		c.uri = uri
		return nil
	}
}

// WithClientID returns an Option which set the broker client id.
func WithClientID(id string) Option {
	return func(c *Client) error {
		c.clientID = id
		return nil
	}
}

// WithLogger returns an Option which set the logger for the client.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}
