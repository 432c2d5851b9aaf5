package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/go-chi/valve"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terraformation/device-ingest/pkg/connection"
	"github.com/terraformation/device-ingest/pkg/stats"
)

type fakeConnection struct {
	mu       sync.Mutex
	state    connection.State
	started  int
	shutdown int
}

func (f *fakeConnection) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	f.state = connection.Connected
}

func (f *fakeConnection) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown++
	f.state = connection.Disconnected
}

func (f *fakeConnection) State() connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req = req.WithContext(valve.New().Context())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestServer_Status(t *testing.T) {
	tests := []struct {
		name  string
		conn  Connection
		code  int
		state string
	}{
		{name: "disabled", code: http.StatusOK, state: "disabled"},
		{name: "connected", conn: &fakeConnection{state: connection.Connected}, code: http.StatusOK, state: "connected"},
		{name: "connecting", conn: &fakeConnection{state: connection.Connecting}, code: http.StatusServiceUnavailable, state: "connecting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []Option{WithAddr(":0"), WithLogger(zap.NewNop())}
			if tt.conn != nil {
				opts = append(opts, WithConnection(tt.conn))
			}
			s, err := New(opts...)
			require.NoError(t, err)

			rec := get(t, s, "/status")
			assert.Equal(t, tt.code, rec.Code)
			var body statusResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.state, body.State)
		})
	}
}

func TestServer_Stats(t *testing.T) {
	counters := &stats.Counters{}
	counters.Received()
	counters.Dropped()

	s, err := New(WithAddr(":0"), WithCounters(counters), WithLogger(zap.NewNop()))
	require.NoError(t, err)

	rec := get(t, s, "/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	var body stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body.Received)
	assert.EqualValues(t, 1, body.Dropped)
}

func TestServerRun(t *testing.T) {
	tests := []struct {
		addr string
	}{
		{"unix://" + filepath.Join(os.TempDir(), "device-ingest-test-server.sock")},
		{"127.0.0.1:0"},
	}
	for _, tc := range tests {
		t.Run(tc.addr, func(t *testing.T) {
			_ = os.Remove(filepath.Join(os.TempDir(), "device-ingest-test-server.sock"))
			conn := &fakeConnection{}
			reporter, err := stats.NewReporter(&stats.Counters{}, "@every 1h", zap.NewNop())
			require.NoError(t, err)

			s, err := New(WithAddr(tc.addr), WithConnection(conn), WithReporter(reporter), WithLogger(zap.NewNop()))
			require.NoError(t, err)
			s.testSignalCh = make(chan os.Signal, 1)

			var serverError error
			done := make(chan struct{})
			go func() {
				serverError = s.Run()
				close(done)
			}()
			require.Eventually(t, func() bool { return conn.State() == connection.Connected }, 2*time.Second, time.Millisecond)

			s.testSignalCh <- syscall.SIGTERM
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("server did not stop")
			}
			assert.NoError(t, serverError)
			assert.Equal(t, 1, conn.started)
			assert.Equal(t, 1, conn.shutdown)
		})
	}
}
