// Package events publishes call lifecycle events to Kafka and applies status
// updates pushed by the provider.
package events

import (
	"context"
	"sync"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/deadletter"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type Sender interface {
	SendMessage(topic string, key, value []byte) (int32, int64, error)
}

type DeadLetterMarker interface {
	MarkEvent(ctx context.Context, callID, topic string, msg []byte, errMsg string) error
}

const defaultQueueSize = 256

// Publisher is a call.Observer that writes every event to Topic keyed by call id.
// Events are queued and sent in order by a single goroutine, so a slow broker
// only holds up a transition once the queue is full. Events the broker rejects
// go to DeadLetter when one is set.
type Publisher struct {
	Sender     Sender
	Topic      string
	DeadLetter DeadLetterMarker

	queue  chan queuedEvent
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

type queuedEvent struct {
	ctx   context.Context
	event call.Event
}

var _ call.Observer = (*Publisher)(nil)

var _ DeadLetterMarker = (*deadletter.DeadLetterService)(nil)

func NewPublisher(sender Sender, topic string, deadLetter DeadLetterMarker, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	publisher := &Publisher{
		Sender:     sender,
		Topic:      topic,
		DeadLetter: deadLetter,
		queue:      make(chan queuedEvent, queueSize),
		done:       make(chan struct{}),
	}

	go publisher.run()

	return publisher
}

func (publisher *Publisher) OnTransition(ctx context.Context, event call.Event) {
	publisher.mu.RLock()
	defer publisher.mu.RUnlock()

	if publisher.closed {
		publisher.publish(ctx, event)

		return
	}

	publisher.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), event: event}
}

// Close sends what is still queued and returns once the queue is drained.
// Later events are published synchronously.
func (publisher *Publisher) Close() {
	publisher.mu.Lock()
	if publisher.closed {
		publisher.mu.Unlock()

		return
	}

	publisher.closed = true
	close(publisher.queue)
	publisher.mu.Unlock()

	<-publisher.done
}

func (publisher *Publisher) run() {
	defer close(publisher.done)

	for queued := range publisher.queue {
		publisher.publish(queued.ctx, queued.event)
	}
}

func (publisher *Publisher) publish(ctx context.Context, event call.Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		logging.Logger.Error("[Publish] Failed to encode call event",
			zap.String("call_id", event.CallID),
			zap.String("error", err.Error()),
		)

		return
	}

	partition, offset, err := publisher.Sender.SendMessage(publisher.Topic, []byte(event.CallID), msg)
	if err == nil {
		logging.Logger.Debug("[Publish] Call event published",
			zap.String("call_id", event.CallID),
			zap.String("to", string(event.To)),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset),
		)

		return
	}

	logging.Logger.Error("[Publish] Failed to publish call event",
		zap.String("call_id", event.CallID),
		zap.String("to", string(event.To)),
		zap.String("error", err.Error()),
	)

	if publisher.DeadLetter == nil {
		return
	}

	dlErr := publisher.DeadLetter.MarkEvent(ctx, event.CallID, publisher.Topic, msg, err.Error())
	if dlErr != nil {
		logging.Logger.Error("[Publish] Call event lost",
			zap.String("call_id", event.CallID),
			zap.String("error", dlErr.Error()),
		)
	}
}
