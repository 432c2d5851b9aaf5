// Package stats counts ingest activity and periodically logs a summary.
package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const publishTimeout = 10 * time.Second

// Publisher sends a payload to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Counters tracks connection and message activity. The zero value is ready to
// use and all methods are safe for concurrent use. A nil *Counters ignores
// every update.
type Counters struct {
	connectAttempts atomic.Int64
	connectFailures atomic.Int64
	connects        atomic.Int64
	connectionsLost atomic.Int64
	received        atomic.Int64
	dropped         atomic.Int64
	published       atomic.Int64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	ConnectAttempts int64 `json:"connectAttempts"`
	ConnectFailures int64 `json:"connectFailures"`
	Connects        int64 `json:"connects"`
	ConnectionsLost int64 `json:"connectionsLost"`
	Received        int64 `json:"received"`
	Dropped         int64 `json:"dropped"`
	Published       int64 `json:"published"`
}

func (c *Counters) ConnectAttempt() {
	if c != nil {
		c.connectAttempts.Add(1)
	}
}

func (c *Counters) ConnectFailure() {
	if c != nil {
		c.connectFailures.Add(1)
	}
}

func (c *Counters) Connected() {
	if c != nil {
		c.connects.Add(1)
	}
}

func (c *Counters) ConnectionLost() {
	if c != nil {
		c.connectionsLost.Add(1)
	}
}

func (c *Counters) Received() {
	if c != nil {
		c.received.Add(1)
	}
}

func (c *Counters) Dropped() {
	if c != nil {
		c.dropped.Add(1)
	}
}

func (c *Counters) Published() {
	if c != nil {
		c.published.Add(1)
	}
}

// Snapshot returns the current values.
func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		ConnectAttempts: c.connectAttempts.Load(),
		ConnectFailures: c.connectFailures.Load(),
		Connects:        c.connects.Load(),
		ConnectionsLost: c.connectionsLost.Load(),
		Received:        c.received.Load(),
		Dropped:         c.dropped.Load(),
		Published:       c.published.Load(),
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf("Stats(%s received, %s published, %s dropped, %s connects, %s failed attempts, %s lost)",
		humanize.Comma(s.Received),
		humanize.Comma(s.Published),
		humanize.Comma(s.Dropped),
		humanize.Comma(s.Connects),
		humanize.Comma(s.ConnectFailures),
		humanize.Comma(s.ConnectionsLost),
	)
}

// Reporter logs a summary of Counters on a cron schedule, and optionally
// publishes the snapshot to the broker.
type Reporter struct {
	counters *Counters
	logger   *zap.Logger
	cron     *cron.Cron

	mu        sync.Mutex
	topic     string
	publisher Publisher
}

// NewReporter schedules a summary of counters on spec, e.g. "@every 5m".
func NewReporter(counters *Counters, spec string, logger *zap.Logger) (*Reporter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{
		counters: counters,
		logger:   logger,
		cron:     cron.New(),
	}
	if _, err := r.cron.AddFunc(spec, r.Report); err != nil {
		return nil, fmt.Errorf("stats: invalid schedule %q: %w", spec, err)
	}
	return r, nil
}

// PublishTo makes every report also send the snapshot as JSON to topic.
func (r *Reporter) PublishTo(topic string, p Publisher) {
	r.mu.Lock()
	r.topic = topic
	r.publisher = p
	r.mu.Unlock()
}

// Report logs the current counters once.
func (r *Reporter) Report() {
	s := r.counters.Snapshot()
	r.logger.Info(s.String())

	r.mu.Lock()
	topic, p := r.topic, r.publisher
	r.mu.Unlock()
	if p == nil {
		return
	}

	payload, err := json.Marshal(s)
	if err != nil {
		r.logger.Error("Failed to encode stats", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, topic, payload); err != nil {
		r.logger.Warn("Failed to publish stats", zap.String("topic", topic), zap.Error(err))
	}
}

// Start begins running the schedule in the background.
func (r *Reporter) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running report to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}
