// Package influx writes line protocol points to InfluxDB through the v2 client,
// addressing 1.x servers through their 2.x compatibility endpoints.
package influx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"go.uber.org/zap"

	"energybridge/internal/sinkerr"
	"energybridge/pkg/types"
)

// ErrNotConnected is returned by writes issued before a client was built.
var ErrNotConnected = errors.New("influx client not initialized")

// Precision maps the configured precision name to the duration the client expects.
func Precision(name string) (time.Duration, error) {
	switch name {
	case "s":
		return time.Second, nil
	case "ms":
		return time.Millisecond, nil
	default:
		return 0, fmt.Errorf("unsupported influx precision %q (want \"s\" or \"ms\")", name)
	}
}

// requestTimeoutSeconds converts the write timeout to the whole seconds the client
// takes, rounding up so a sub-second timeout never becomes 0 (no timeout).
func requestTimeoutSeconds(d time.Duration) uint {
	if d <= 0 {
		return 0
	}
	return uint((d + time.Second - 1) / time.Second)
}

// Sink is the InfluxDB write target. Its client is rebuilt by Reconnect.
type Sink struct {
	config *types.InfluxConfig
	logger *zap.Logger

	mu     sync.RWMutex
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewSink creates a sink without connecting it.
func NewSink(config *types.InfluxConfig, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		config: config,
		logger: logger.With(zap.String("component", "influx")),
	}
}

// Credentials returns the token, org and bucket used for writes. A 1.x database is
// addressed as "database/retention_policy" with a "username:password" token.
func Credentials(cfg *types.InfluxConfig) (token, org, bucket string) {
	if cfg.Token != "" || cfg.Bucket != "" {
		return cfg.Token, cfg.Org, cfg.Bucket
	}
	token = cfg.Username
	if cfg.Username != "" || cfg.Password != "" {
		token = cfg.Username + ":" + cfg.Password
	}
	bucket = cfg.Database
	if cfg.RetentionPolicy != "" {
		bucket += "/" + cfg.RetentionPolicy
	}
	return token, cfg.Org, bucket
}

// Connect builds a client and pings the server. The client is only kept when the
// ping succeeds.
func (s *Sink) Connect(ctx context.Context) error {
	precision, err := Precision(s.config.Precision)
	if err != nil {
		return sinkerr.Fatal(err)
	}

	token, org, bucket := Credentials(s.config)
	opts := influxdb2.DefaultOptions().
		SetPrecision(precision).
		SetHTTPRequestTimeout(requestTimeoutSeconds(s.config.Timeout))
	client := influxdb2.NewClientWithOptions(s.config.URL, token, opts)

	s.logger.Info("Connecting to InfluxDB",
		zap.String("url", s.config.URL),
		zap.String("bucket", bucket),
		zap.String("precision", s.config.Precision))

	if err := ping(ctx, client); err != nil {
		client.Close()
		return err
	}

	s.mu.Lock()
	old := s.client
	s.client = client
	s.writer = client.WriteAPIBlocking(org, bucket)
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	s.logger.Info("✓ Connected to InfluxDB")
	return nil
}

// Reconnect replaces the client with a freshly built and probed one.
func (s *Sink) Reconnect(ctx context.Context) error {
	return s.Connect(ctx)
}

// Ready reports whether a client has been built.
func (s *Sink) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

// Ping probes the server.
func (s *Sink) Ping(ctx context.Context) error {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return ErrNotConnected
	}
	return ping(ctx, client)
}

// WriteLine writes one line protocol record. Errors are classified for the retry loop.
func (s *Sink) WriteLine(ctx context.Context, line string) error {
	s.mu.RLock()
	writer := s.writer
	s.mu.RUnlock()
	if writer == nil {
		return sinkerr.Retryable(ErrNotConnected)
	}
	return classify(writer.WriteRecord(ctx, line))
}

// Close releases the client.
func (s *Sink) Close() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.writer = nil
	s.mu.Unlock()
	if client != nil {
		client.Close()
	}
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ok, err := client.Ping(ctx)
	if err != nil {
		return classify(fmt.Errorf("influx ping failed: %w", err))
	}
	if !ok {
		return sinkerr.Retryable(errors.New("influx ping failed: server not ready"))
	}
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var httpErr *ihttp.Error
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= http.StatusInternalServerError:
			return sinkerr.Retryable(err)
		case httpErr.StatusCode >= http.StatusBadRequest:
			return sinkerr.Fatal(err)
		}
	}
	return sinkerr.Classify(err)
}
