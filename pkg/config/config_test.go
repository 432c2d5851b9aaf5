package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func validConfig() Config {
	return Config{
		MQTT: MQTT{
			Enabled:         true,
			Address:         "tcp://localhost:1883",
			ClientID:        DefaultClientID,
			TopicPrefix:     DefaultTopicPrefix,
			RetryIntervalMs: DefaultRetryIntervalMs,
			SigningSecret:   "secret",
			QoS:             DefaultQoS,
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		setting string
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "disabled skips checks", modify: func(c *Config) { c.MQTT = MQTT{} }},
		{name: "missing address", modify: func(c *Config) { c.MQTT.Address = "" }, setting: "mqtt.address"},
		{name: "missing client id", modify: func(c *Config) { c.MQTT.ClientID = "" }, setting: "mqtt.client_id"},
		{name: "missing prefix", modify: func(c *Config) { c.MQTT.TopicPrefix = "" }, setting: "mqtt.topic_prefix"},
		{name: "zero retry interval", modify: func(c *Config) { c.MQTT.RetryIntervalMs = 0 }, setting: "mqtt.retry_interval_ms"},
		{name: "bad qos", modify: func(c *Config) { c.MQTT.QoS = 3 }, setting: "mqtt.qos"},
		{name: "no secret and no password", modify: func(c *Config) { c.MQTT.SigningSecret = "" }, setting: "mqtt.signing_secret"},
		{
			name: "log route without prefix",
			modify: func(c *Config) {
				c.Logging.Routes = []LogRoute{{Prefix: "terraware/a"}, {Logger: "b"}}
			},
			setting: "logging.routes[1].prefix",
		},
		{
			name: "log route with bad level",
			modify: func(c *Config) {
				c.Logging.Routes = []LogRoute{{Prefix: "terraware/a", Level: "loud"}}
			},
			setting: "logging.routes[0].level",
		},
		{
			name: "log routes checked when disabled",
			modify: func(c *Config) {
				c.MQTT = MQTT{}
				c.Logging.Routes = []LogRoute{{Level: "warn"}}
			},
			setting: "logging.routes[0].prefix",
		},
		{
			name:   "stats topic",
			modify: func(c *Config) { c.Stats.PublishTopic = "status/ingest" },
		},
		{
			name:    "stats topic with wildcard",
			modify:  func(c *Config) { c.Stats.PublishTopic = "status/#" },
			setting: "stats.publish_topic",
		},
		{
			name:    "stats topic under subscription",
			modify:  func(c *Config) { c.Stats.PublishTopic = "terraware/stats" },
			setting: "stats.publish_topic",
		},
		{
			name: "static password replaces secret",
			modify: func(c *Config) {
				c.MQTT.SigningSecret = ""
				c.MQTT.Password = "static"
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.modify(&c)
			err := c.Validate()
			if tt.setting == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *Error
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.setting, cfgErr.Setting)
		})
	}
}

func TestMQTT_TopicFilter(t *testing.T) {
	assert.Equal(t, "terraware/#", MQTT{TopicPrefix: "terraware"}.TopicFilter())
	assert.Equal(t, "terraware/#", MQTT{TopicPrefix: "terraware/"}.TopicFilter())
}

func TestMQTT_RetryInterval(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, MQTT{RetryIntervalMs: 1500}.RetryInterval())
}

func TestError_Error(t *testing.T) {
	assert.Equal(t, "config: mqtt.address is required", (&Error{Setting: "mqtt.address"}).Error())
	assert.Equal(t, "config: mqtt.qos must be 0, 1 or 2", (&Error{Setting: "mqtt.qos", Reason: "must be 0, 1 or 2"}).Error())
}

func TestLogRoute_ZapLevel(t *testing.T) {
	l, err := LogRoute{}.ZapLevel()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, l)

	l, err = LogRoute{Level: "warn"}.ZapLevel()
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = LogRoute{Level: "loud"}.ZapLevel()
	assert.Error(t, err)
}
