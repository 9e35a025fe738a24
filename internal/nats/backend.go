package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-workflows-nats/internal/kv"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

var _ workflow.RunStore = (*Backend)(nil)

// Backend implements workflow.RunStore on a NATS KV bucket and keeps the
// connection shared with the event broker.
type Backend struct {
	nc *nats.Conn
	js jetstream.JetStream

	runs *kv.Store

	startTime time.Time
}

// New connects to NATS and sets up the stream and bucket used for workflow runs.
func New(natsURL string) (*Backend, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("ojs-workflows"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := SetupJetStream(ctx, js); err != nil {
		nc.Close()
		return nil, fmt.Errorf("setting up JetStream: %w", err)
	}

	runsKV, err := js.KeyValue(ctx, BucketRuns)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening KV bucket %s: %w", BucketRuns, err)
	}

	return &Backend{
		nc:        nc,
		js:        js,
		runs:      kv.NewStore(runsKV),
		startTime: time.Now(),
	}, nil
}

// Conn returns the underlying NATS connection for use by auxiliary services (e.g., pub/sub broker).
func (b *Backend) Conn() *nats.Conn {
	return b.nc
}

// JetStream returns the JetStream context.
func (b *Backend) JetStream() jetstream.JetStream {
	return b.js
}

// Health reports whether the connection is usable.
func (b *Backend) Health(_ context.Context) error {
	if status := b.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection %s", status)
	}
	return nil
}

// Uptime is the time since New returned.
func (b *Backend) Uptime() time.Duration {
	return time.Since(b.startTime)
}

func (b *Backend) Close() error {
	b.nc.Close()
	return nil
}
