package message

import "time"

// Message is a decoded device message. It is either a *TimeseriesUpdate or a
// *LogMessage.
type Message interface {
	// MessageTopic returns the broker topic the message arrived on.
	MessageTopic() string

	isMessage()
}

// TimeseriesUpdate carries one or more new values keyed by series name.
type TimeseriesUpdate struct {
	Topic     string            `json:"topic"`
	Timestamp time.Time         `json:"timestamp"`
	Values    map[string]string `json:"values"`
}

func (m *TimeseriesUpdate) MessageTopic() string { return m.Topic }
func (*TimeseriesUpdate) isMessage()             {}

// LogMessage is a log line emitted by a device agent.
type LogMessage struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Text      string    `json:"text"`
}

func (m *LogMessage) MessageTopic() string { return m.Topic }
func (*LogMessage) isMessage()             {}

// Level is the severity of a device log message.
type Level int

const (
	LevelInfo Level = iota
	LevelDebug
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLevel maps a device level token to a Level. Device agents written in
// Python say WARNING where we say WARN; unknown tokens are INFO.
func ParseLevel(s string) Level {
	switch s {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}
