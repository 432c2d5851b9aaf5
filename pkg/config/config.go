package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	DefaultClientID        = "terraware-server"
	DefaultTopicPrefix     = "terraware"
	DefaultRetryIntervalMs = 30000
	DefaultQoS             = 1
	DefaultHTTPAddr        = "127.0.0.1:9090"
	DefaultStatsSchedule   = "@every 5m"
)

// Error reports a required setting that is missing or invalid. It is fatal at
// startup and never retried.
type Error struct {
	Setting string
	Reason  string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("config: %s is required", e.Setting)
	}
	return fmt.Sprintf("config: %s %s", e.Setting, e.Reason)
}

// MQTT holds the broker connection settings.
type MQTT struct {
	Enabled         bool   `mapstructure:"enabled"`
	Address         string `mapstructure:"address"`
	ClientID        string `mapstructure:"client_id"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	RetryIntervalMs int64  `mapstructure:"retry_interval_ms"`
	Password        string `mapstructure:"password"`
	SigningSecret   string `mapstructure:"signing_secret"`
	QoS             int    `mapstructure:"qos"`
}

// HTTP holds the status server settings.
type HTTP struct {
	Addr string `mapstructure:"addr"`
}

// Stats holds the ingest summary settings. When PublishTopic is set and MQTT is
// enabled, each summary is also published to the broker.
type Stats struct {
	Schedule     string `mapstructure:"schedule"`
	PublishTopic string `mapstructure:"publish_topic"`
}

// Device statically maps a topic to a device and its series.
type Device struct {
	Topic  string           `mapstructure:"topic"`
	ID     int64            `mapstructure:"id"`
	Series map[string]int64 `mapstructure:"series"`
}

// LogRoute sends log lines from devices under Prefix to a named logger,
// optionally raising the minimum level for that logger.
type LogRoute struct {
	Prefix string `mapstructure:"prefix"`
	Logger string `mapstructure:"logger"`
	Level  string `mapstructure:"level"`
}

// Logging holds the device log routing settings.
type Logging struct {
	Routes []LogRoute `mapstructure:"routes"`
}

// Config is the full service configuration, decoded from viper.
type Config struct {
	MQTT    MQTT     `mapstructure:"mqtt"`
	HTTP    HTTP     `mapstructure:"http"`
	Stats   Stats    `mapstructure:"stats"`
	Logging Logging  `mapstructure:"logging"`
	Devices []Device `mapstructure:"devices"`
}

// Keys lists every scalar setting, for binding to environment variables.
func Keys() []string {
	return []string{
		"mqtt.enabled",
		"mqtt.address",
		"mqtt.client_id",
		"mqtt.topic_prefix",
		"mqtt.retry_interval_ms",
		"mqtt.password",
		"mqtt.signing_secret",
		"mqtt.qos",
		"http.addr",
		"stats.schedule",
		"stats.publish_topic",
	}
}

// Defaults returns the value of every key that has one, keyed the way viper
// expects them in SetDefault.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"mqtt.enabled":           false,
		"mqtt.client_id":         DefaultClientID,
		"mqtt.topic_prefix":      DefaultTopicPrefix,
		"mqtt.retry_interval_ms": DefaultRetryIntervalMs,
		"mqtt.qos":               DefaultQoS,
		"http.addr":              DefaultHTTPAddr,
		"stats.schedule":         DefaultStatsSchedule,
	}
}

// Validate checks the log routes and the MQTT settings. MQTT settings are not
// checked when the feature is disabled.
func (c *Config) Validate() error {
	for i, r := range c.Logging.Routes {
		if err := r.validate(i); err != nil {
			return err
		}
	}

	m := c.MQTT
	if !m.Enabled {
		return nil
	}
	if m.Address == "" {
		return &Error{Setting: "mqtt.address"}
	}
	if m.ClientID == "" {
		return &Error{Setting: "mqtt.client_id"}
	}
	if m.TopicPrefix == "" {
		return &Error{Setting: "mqtt.topic_prefix"}
	}
	if m.RetryIntervalMs <= 0 {
		return &Error{Setting: "mqtt.retry_interval_ms", Reason: "must be positive"}
	}
	if m.QoS < 0 || m.QoS > 2 {
		return &Error{Setting: "mqtt.qos", Reason: "must be 0, 1 or 2"}
	}
	if m.Password == "" && m.SigningSecret == "" {
		return &Error{Setting: "mqtt.signing_secret", Reason: "is required when mqtt.password is not set"}
	}
	if t := c.Stats.PublishTopic; t != "" {
		if strings.ContainsAny(t, "+#") {
			return &Error{Setting: "stats.publish_topic", Reason: "must not contain wildcards"}
		}
		if strings.HasPrefix(t, strings.TrimSuffix(m.TopicPrefix, "/")+"/") {
			return &Error{Setting: "stats.publish_topic", Reason: "must not be under mqtt.topic_prefix"}
		}
	}
	return nil
}

func (r LogRoute) validate(i int) error {
	if r.Prefix == "" {
		return &Error{Setting: fmt.Sprintf("logging.routes[%d].prefix", i)}
	}
	if _, err := r.ZapLevel(); err != nil {
		return &Error{Setting: fmt.Sprintf("logging.routes[%d].level", i), Reason: err.Error()}
	}
	return nil
}

// ZapLevel parses Level. An empty level is DebugLevel, which lets the base
// logger decide.
func (r LogRoute) ZapLevel() (zapcore.Level, error) {
	if r.Level == "" {
		return zapcore.DebugLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(r.Level)); err != nil {
		return l, err
	}
	return l, nil
}

// TopicFilter is the filter the service subscribes to and is authorized for.
func (m MQTT) TopicFilter() string {
	return strings.TrimSuffix(m.TopicPrefix, "/") + "/#"
}

// RetryInterval is the fixed delay between connect attempts.
func (m MQTT) RetryInterval() time.Duration {
	return time.Duration(m.RetryIntervalMs) * time.Millisecond
}
