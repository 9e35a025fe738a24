package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/openjobspec/ojs-workflows-nats/internal/core"
	"github.com/openjobspec/ojs-workflows-nats/internal/workflow"
)

var _ workflow.EventPublisher = (*PubSubBroker)(nil)

// PubSubBroker publishes and subscribes to run lifecycle events using NATS
// core pub/sub.
type PubSubBroker struct {
	nc   *nats.Conn
	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewPubSubBroker creates a new PubSubBroker using the given NATS connection.
func NewPubSubBroker(nc *nats.Conn) *PubSubBroker {
	return &PubSubBroker{nc: nc}
}

// PublishRunEvent publishes a run event to its workflow subject and to the
// all-events subject.
func (b *PubSubBroker) PublishRunEvent(event *core.RunEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := b.nc.Publish(RunEventSubject(event.WorkflowID), data); err != nil {
		slog.Error("failed to publish run event", "error", err, "workflow_id", event.WorkflowID)
		return fmt.Errorf("publish event: %w", err)
	}

	if err := b.nc.Publish(AllEventsSubject(), data); err != nil {
		slog.Error("failed to publish global event", "error", err)
	}

	return nil
}

// SubscribeWorkflow subscribes to events of one workflow.
func (b *PubSubBroker) SubscribeWorkflow(workflowID string) (<-chan *core.RunEvent, func(), error) {
	return b.subscribe(RunEventSubject(workflowID))
}

// SubscribeAll subscribes to all run events.
func (b *PubSubBroker) SubscribeAll() (<-chan *core.RunEvent, func(), error) {
	return b.subscribe(AllEventsSubject())
}

func (b *PubSubBroker) subscribe(subject string) (<-chan *core.RunEvent, func(), error) {
	ch := make(chan *core.RunEvent, 64)

	// chMu orders callback sends against close(ch).
	var chMu sync.Mutex
	closed := false

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event core.RunEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Error("failed to unmarshal event", "error", err)
			return
		}
		chMu.Lock()
		defer chMu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- &event:
		default:
			slog.Warn("dropping event, subscriber channel full", "subject", subject)
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			b.forget(sub)
			chMu.Lock()
			closed = true
			close(ch)
			chMu.Unlock()
		})
	}

	return ch, unsubscribe, nil
}

func (b *PubSubBroker) forget(sub *nats.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Close unsubscribes all subscriptions.
func (b *PubSubBroker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	return nil
}
