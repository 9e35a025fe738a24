package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// eventRetention bounds how long run events stay in the stream.
const eventRetention = 7 * 24 * time.Hour

// SetupJetStream creates the workflow event stream and the runs KV bucket.
func SetupJetStream(ctx context.Context, js jetstream.JetStream) error {
	// Run events published on core NATS are captured here for later replay.
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{EventsWildcardSubject()},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    eventRetention,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", StreamName, err)
	}

	// Run rows have no TTL; the retention sweeper deletes them.
	_, err = js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  BucketRuns,
		Storage: jetstream.FileStorage,
		History: 1,
	})
	if err != nil {
		return fmt.Errorf("creating KV bucket %s: %w", BucketRuns, err)
	}
	return nil
}
