package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"energybridge/internal/sinkerr"
	"energybridge/pkg/types"
)

// fakeInflux answers /ping and /api/v2/write like an InfluxDB server.
type fakeInflux struct {
	mu          sync.Mutex
	pingStatus  int
	writeStatus int
	writeBody   string
	writes      []string
	queries     []string
}

func newFakeInflux(t *testing.T) (*fakeInflux, *httptest.Server) {
	t.Helper()
	f := &fakeInflux{pingStatus: http.StatusNoContent, writeStatus: http.StatusNoContent}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeInflux) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(f.pingStatus)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.queries = append(f.queries, r.URL.RawQuery)
		if f.writeStatus != http.StatusNoContent {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.writeStatus)
			_, _ = io.WriteString(w, f.writeBody)
			return
		}
		f.writes = append(f.writes, string(body))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeInflux) set(fn func(f *fakeInflux)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func testConfig(url string) *types.InfluxConfig {
	return &types.InfluxConfig{
		URL:             url,
		Username:        "bridge",
		Password:        "secret",
		Database:        "energy",
		RetentionPolicy: "autogen",
		Precision:       "s",
		Timeout:         2 * time.Second,
	}
}

func TestPrecision(t *testing.T) {
	d, err := Precision("s")
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = Precision("ms")
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, d)

	_, err = Precision("")
	assert.Error(t, err)
	_, err = Precision("ns")
	assert.Error(t, err)
}

func TestRequestTimeoutSeconds(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    uint
	}{
		{timeout: 0, want: 0},
		{timeout: time.Millisecond, want: 1},
		{timeout: 500 * time.Millisecond, want: 1},
		{timeout: time.Second, want: 1},
		{timeout: 1500 * time.Millisecond, want: 2},
		{timeout: 10 * time.Second, want: 10},
	}
	for _, tt := range tests {
		t.Run(tt.timeout.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, requestTimeoutSeconds(tt.timeout))
		})
	}
}

func TestCredentials(t *testing.T) {
	token, org, bucket := Credentials(&types.InfluxConfig{
		Username:        "bridge",
		Password:        "secret",
		Database:        "energy",
		RetentionPolicy: "autogen",
	})
	assert.Equal(t, "bridge:secret", token)
	assert.Equal(t, "", org)
	assert.Equal(t, "energy/autogen", bucket)

	token, org, bucket = Credentials(&types.InfluxConfig{Database: "energy"})
	assert.Equal(t, "", token)
	assert.Equal(t, "", org)
	assert.Equal(t, "energy", bucket)

	token, org, bucket = Credentials(&types.InfluxConfig{
		Token:    "t0ken",
		Org:      "home",
		Bucket:   "energy",
		Database: "ignored",
	})
	assert.Equal(t, "t0ken", token)
	assert.Equal(t, "home", org)
	assert.Equal(t, "energy", bucket)
}

func TestSinkWritesLine(t *testing.T) {
	fake, srv := newFakeInflux(t)
	sink := NewSink(testConfig(srv.URL), zaptest.NewLogger(t))
	defer sink.Close()

	assert.False(t, sink.Ready())
	require.NoError(t, sink.Connect(context.Background()))
	assert.True(t, sink.Ready())
	require.NoError(t, sink.Ping(context.Background()))

	line := "energybridge.event.metering.summation.minute value=1.24 1700000000\n"
	require.NoError(t, sink.WriteLine(context.Background(), line))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.writes, 1)
	assert.Equal(t, line, fake.writes[0])
	assert.Contains(t, fake.queries[0], "bucket=energy%2Fautogen")
	assert.Contains(t, fake.queries[0], "precision=s")
}

func TestSinkConnectFailsWhenPingFails(t *testing.T) {
	fake, srv := newFakeInflux(t)
	fake.set(func(f *fakeInflux) { f.pingStatus = http.StatusServiceUnavailable })

	sink := NewSink(testConfig(srv.URL), zaptest.NewLogger(t))
	require.Error(t, sink.Connect(context.Background()))
	assert.False(t, sink.Ready())
	assert.ErrorIs(t, sink.Ping(context.Background()), ErrNotConnected)
}

func TestSinkConnectRejectsUnknownPrecision(t *testing.T) {
	_, srv := newFakeInflux(t)
	cfg := testConfig(srv.URL)
	cfg.Precision = "us"

	err := NewSink(cfg, nil).Connect(context.Background())
	require.Error(t, err)
	assert.False(t, sinkerr.IsRetryable(err))
}

func TestSinkWriteErrorsAreClassified(t *testing.T) {
	fake, srv := newFakeInflux(t)
	sink := NewSink(testConfig(srv.URL), zaptest.NewLogger(t))
	defer sink.Close()
	require.NoError(t, sink.Connect(context.Background()))

	fake.set(func(f *fakeInflux) {
		f.writeStatus = http.StatusServiceUnavailable
		f.writeBody = `{"code":"unavailable","message":"service unavailable"}`
	})
	err := sink.WriteLine(context.Background(), "a value=1.00 1\n")
	require.Error(t, err)
	assert.True(t, sinkerr.IsRetryable(err))

	fake.set(func(f *fakeInflux) {
		f.writeStatus = http.StatusUnauthorized
		f.writeBody = `{"code":"unauthorized","message":"authorization failed"}`
	})
	err = sink.WriteLine(context.Background(), "a value=1.00 1\n")
	require.Error(t, err)
	assert.False(t, sinkerr.IsRetryable(err))
}

func TestSinkWriteBeforeConnect(t *testing.T) {
	sink := NewSink(testConfig("http://127.0.0.1:1"), nil)
	err := sink.WriteLine(context.Background(), "a value=1.00 1\n")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSinkReconnectAfterOutage(t *testing.T) {
	fake, srv := newFakeInflux(t)
	fake.set(func(f *fakeInflux) { f.pingStatus = http.StatusServiceUnavailable })

	sink := NewSink(testConfig(srv.URL), zaptest.NewLogger(t))
	defer sink.Close()
	require.Error(t, sink.Connect(context.Background()))

	fake.set(func(f *fakeInflux) { f.pingStatus = http.StatusNoContent })
	require.NoError(t, sink.Reconnect(context.Background()))
	assert.True(t, sink.Ready())
}
