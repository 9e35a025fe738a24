package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
)

// EventsSince replays up to max run events recorded in the stream since the
// given time, oldest first. An empty workflowID replays events of every
// workflow.
func (b *Backend) EventsSince(ctx context.Context, workflowID string, since time.Time, max int) ([]*core.RunEvent, error) {
	if max <= 0 {
		return nil, nil
	}
	subject := AllEventsSubject()
	if workflowID != "" {
		subject = RunEventSubject(workflowID)
	}

	cons, err := b.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverByStartTimePolicy,
		OptStartTime:   &since,
	})
	if err != nil {
		return nil, fmt.Errorf("creating event reader: %w", err)
	}

	msgs, err := cons.Fetch(max, jetstream.FetchMaxWait(250*time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("fetching events: %w", err)
	}

	events := make([]*core.RunEvent, 0, max)
	for msg := range msgs.Messages() {
		var event core.RunEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}
		events = append(events, &event)
	}
	// A short batch ends with a timeout; what was received is still valid.
	return events, nil
}
