// Package timeseries forwards timeseries updates from devices to the store
// that records them, resolving topics and series names to store identifiers.
package timeseries

import (
	"time"

	"go.uber.org/zap"

	"github.com/terraformation/device-ingest/pkg/event"
	"github.com/terraformation/device-ingest/pkg/message"
)

type (
	DeviceID int64
	SeriesID int64
)

// DeviceResolver maps a broker topic to the device that publishes on it.
type DeviceResolver interface {
	ResolveDeviceID(topic string) (DeviceID, bool)
}

// SeriesResolver maps series names of a device to their identifiers. Names
// with no series are absent from the result.
type SeriesResolver interface {
	ResolveSeriesIDs(device DeviceID, names []string) map[string]SeriesID
}

// Recorder stores a single timeseries value.
type Recorder interface {
	RecordValue(series SeriesID, timestamp time.Time, value string) error
}

var _ event.Listener = (*Listener)(nil)

// Listener handles TimeseriesUpdate messages and ignores everything else.
type Listener struct {
	devices  DeviceResolver
	series   SeriesResolver
	recorder Recorder
	logger   *zap.Logger
}

// NewListener creates a Listener.
func NewListener(devices DeviceResolver, series SeriesResolver, recorder Recorder, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		devices:  devices,
		series:   series,
		recorder: recorder,
		logger:   logger,
	}
}

func (l *Listener) Handle(msg message.Message) {
	update, ok := msg.(*message.TimeseriesUpdate)
	if !ok || len(update.Values) == 0 {
		return
	}

	device, ok := l.devices.ResolveDeviceID(update.Topic)
	if !ok {
		l.logger.Debug("No device for topic", zap.String("topic", update.Topic))
		return
	}

	names := make([]string, 0, len(update.Values))
	for name := range update.Values {
		names = append(names, name)
	}
	ids := l.series.ResolveSeriesIDs(device, names)

	for name, value := range update.Values {
		id, ok := ids[name]
		if !ok {
			l.logger.Warn("Unknown timeseries",
				zap.String("topic", update.Topic), zap.Int64("device_id", int64(device)), zap.String("series", name))
			continue
		}
		if err := l.recorder.RecordValue(id, update.Timestamp, value); err != nil {
			l.logger.Error("Unable to record timeseries value",
				zap.Int64("series_id", int64(id)), zap.String("series", name), zap.Error(err))
		}
	}
}
