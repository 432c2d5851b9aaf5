package message

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/terraformation/device-ingest/pkg/clock"
)

// Outer keys of the JSON wire format.
const (
	TypeUpdate    = "update"
	TypeSendEmail = "send_email"
	TypeSendSMS   = "send_sms"
	TypeWatchdog  = "watchdog"
)

const (
	timestampKey = "$t"
	textFields   = 4
	logSeries    = "log"
	levelSep     = ": "
)

// Parser decodes raw broker payloads. It holds no state other than its clock
// and logger and is safe for concurrent use.
type Parser struct {
	clock  clock.Clock
	logger *zap.Logger
}

type ParserOption func(p *Parser)

// WithClock returns a ParserOption which set the clock used when a message
// carries no usable timestamp.
func WithClock(c clock.Clock) ParserOption {
	return func(p *Parser) {
		p.clock = c
	}
}

// WithLogger returns a ParserOption which set the logger for dropped messages.
func WithLogger(logger *zap.Logger) ParserOption {
	return func(p *Parser) {
		p.logger = logger
	}
}

// NewParser creates a Parser.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		clock:  clock.Real(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes payload received on topic. It returns nil, after logging why,
// if the payload is empty, malformed or of a type the server does not handle.
//
// The first byte selects the format: '{' is JSON, 's' is the comma-separated
// text format whose second field is conventionally a sequence name.
func (p *Parser) Parse(topic string, payload []byte) Message {
	if len(payload) == 0 {
		p.logger.Warn("Ignoring empty message", zap.String("topic", topic))
		return nil
	}

	switch payload[0] {
	case '{':
		return p.parseJSON(topic, payload)
	case 's':
		return p.parseText(topic, payload)
	default:
		p.logger.Warn("Unrecognized format character",
			zap.String("topic", topic), zap.String("format", string(payload[:1])))
		return nil
	}
}

func (p *Parser) parseJSON(topic string, payload []byte) Message {
	var outer map[string]map[string]json.RawMessage
	if err := json.Unmarshal(payload, &outer); err != nil {
		p.logger.Warn("Unable to parse JSON message", zap.String("topic", topic), zap.Error(err))
		return nil
	}
	if len(outer) != 1 {
		p.logger.Warn("JSON message must have exactly one message type",
			zap.String("topic", topic), zap.Int("types", len(outer)))
		return nil
	}

	for msgType, body := range outer {
		switch msgType {
		case TypeUpdate:
			return p.timeseriesUpdate(topic, body)
		case TypeSendEmail, TypeSendSMS, TypeWatchdog:
			p.logger.Info("Message type not supported yet",
				zap.String("topic", topic), zap.String("type", msgType))
		default:
			p.logger.Warn("Unknown message type",
				zap.String("topic", topic), zap.String("type", msgType))
		}
	}
	return nil
}

func (p *Parser) timeseriesUpdate(topic string, body map[string]json.RawMessage) Message {
	values := make(map[string]string, len(body))
	var ts *string
	for k, raw := range body {
		v, ok := scalarText(raw)
		if !ok {
			p.logger.Warn("Update value must be a string, number or boolean",
				zap.String("topic", topic), zap.String("key", k))
			return nil
		}
		if k == timestampKey {
			ts = &v
			continue
		}
		values[k] = v
	}

	return &TimeseriesUpdate{
		Topic:     topic,
		Timestamp: p.parseTimestamp(topic, ts),
		Values:    values,
	}
}

// scalarText returns the text of a JSON string, or the literal of a number or
// boolean. Objects, arrays and null have no text.
func scalarText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case '{', '[', 'n':
		return "", false
	default:
		return string(raw), true
	}
}

func (p *Parser) parseText(topic string, payload []byte) Message {
	fields := strings.SplitN(string(payload), ",", textFields)
	if len(fields) < textFields {
		p.logger.Warn(fmt.Sprintf("Text message had %d fields; expected %d", len(fields), textFields),
			zap.String("topic", topic))
		return nil
	}

	series, ts, value := fields[1], fields[2], fields[3]
	if series == logSeries {
		return p.logMessage(topic, ts, value)
	}

	return &TimeseriesUpdate{
		Topic:     topic,
		Timestamp: p.parseTimestamp(topic, &ts),
		Values:    map[string]string{series: value},
	}
}

func (p *Parser) logMessage(topic, ts, body string) *LogMessage {
	level := LevelInfo
	text := body
	if parts := strings.SplitN(body, levelSep, 2); len(parts) == 2 {
		level = ParseLevel(parts[0])
		text = parts[1]
	}

	return &LogMessage{
		Topic:     topic,
		Timestamp: p.parseTimestamp(topic, &ts),
		Level:     level,
		Text:      text,
	}
}

// parseTimestamp parses an ISO-8601 instant, ignoring any whitespace device
// agents put before the zone offset. A nil or unparseable value yields the
// clock's current time.
func (p *Parser) parseTimestamp(topic string, value *string) time.Time {
	if value == nil {
		p.logger.Warn("Message has no timestamp; using current time", zap.String("topic", topic))
		return p.clock.Now()
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, *value)

	t, err := time.Parse(time.RFC3339Nano, cleaned)
	if err != nil {
		p.logger.Warn("Unable to parse timestamp; using current time",
			zap.String("topic", topic), zap.String("timestamp", *value), zap.Error(err))
		return p.clock.Now()
	}
	return t
}
