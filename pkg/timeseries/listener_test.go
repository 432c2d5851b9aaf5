package timeseries

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/terraformation/device-ingest/pkg/message"
)

type devices map[string]DeviceID

func (d devices) ResolveDeviceID(topic string) (DeviceID, bool) {
	id, ok := d[topic]
	return id, ok
}

type series map[DeviceID]map[string]SeriesID

func (s series) ResolveSeriesIDs(device DeviceID, names []string) map[string]SeriesID {
	out := make(map[string]SeriesID)
	for _, name := range names {
		if id, ok := s[device][name]; ok {
			out[name] = id
		}
	}
	return out
}

type value struct {
	series    SeriesID
	timestamp time.Time
	value     string
}

type recorder struct {
	values []value
	err    error
}

func (r *recorder) RecordValue(id SeriesID, ts time.Time, v string) error {
	if r.err != nil {
		return r.err
	}
	r.values = append(r.values, value{id, ts, v})
	return nil
}

var ts = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestListener(r *recorder) (*Listener, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewListener(
		devices{"terraware/site/pv": 7},
		series{7: {"temp": 70, "humidity": 71}},
		r,
		zap.New(core),
	)
	return l, logs
}

func TestListener_Handle(t *testing.T) {
	r := &recorder{}
	l, logs := newTestListener(r)

	l.Handle(&message.TimeseriesUpdate{
		Topic:     "terraware/site/pv",
		Timestamp: ts,
		Values:    map[string]string{"temp": "21.5", "humidity": "40", "voltage": "12"},
	})

	require.Len(t, r.values, 2)
	sort.Slice(r.values, func(i, j int) bool { return r.values[i].series < r.values[j].series })
	assert.Equal(t, value{70, ts, "21.5"}, r.values[0])
	assert.Equal(t, value{71, ts, "40"}, r.values[1])
	assert.Equal(t, 1, logs.FilterMessage("Unknown timeseries").Len())
}

func TestListener_HandleUnknownDevice(t *testing.T) {
	r := &recorder{}
	l, logs := newTestListener(r)

	l.Handle(&message.TimeseriesUpdate{Topic: "terraware/other", Values: map[string]string{"temp": "1"}})
	assert.Empty(t, r.values)
	assert.Equal(t, 1, logs.FilterMessage("No device for topic").Len())
}

func TestListener_HandleIgnoresLogs(t *testing.T) {
	r := &recorder{}
	l, _ := newTestListener(r)

	l.Handle(&message.LogMessage{Topic: "terraware/site/pv", Text: "hi"})
	assert.Empty(t, r.values)
}

func TestListener_HandleRecorderError(t *testing.T) {
	r := &recorder{err: errors.New("db down")}
	l, logs := newTestListener(r)

	assert.NotPanics(t, func() {
		l.Handle(&message.TimeseriesUpdate{Topic: "terraware/site/pv", Timestamp: ts, Values: map[string]string{"temp": "1"}})
	})
	assert.Equal(t, 1, logs.FilterMessage("Unable to record timeseries value").Len())
}
