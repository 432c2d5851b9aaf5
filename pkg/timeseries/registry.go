package timeseries

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry is an in-memory DeviceResolver and SeriesResolver, for deployments
// that configure their devices statically.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]DeviceID
	series  map[DeviceID]map[string]SeriesID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]DeviceID),
		series:  make(map[DeviceID]map[string]SeriesID),
	}
}

// Register maps topic to device and adds the device's series.
func (r *Registry) Register(topic string, device DeviceID, series map[string]SeriesID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices[topic] = device
	if r.series[device] == nil {
		r.series[device] = make(map[string]SeriesID, len(series))
	}
	for name, id := range series {
		r.series[device][name] = id
	}
}

func (r *Registry) ResolveDeviceID(topic string) (DeviceID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.devices[topic]
	return id, ok
}

func (r *Registry) ResolveSeriesIDs(device DeviceID, names []string) map[string]SeriesID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]SeriesID, len(names))
	for _, name := range names {
		if id, ok := r.series[device][name]; ok {
			out[name] = id
		}
	}
	return out
}

// LogRecorder writes values to a logger instead of a store.
type LogRecorder struct {
	Logger *zap.Logger
}

func (r LogRecorder) RecordValue(series SeriesID, timestamp time.Time, value string) error {
	r.Logger.Debug("Timeseries value",
		zap.Int64("series_id", int64(series)), zap.Time("timestamp", timestamp), zap.String("value", value))
	return nil
}
