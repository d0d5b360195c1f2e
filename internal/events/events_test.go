package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/lock"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/store/memory"
	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type markedEvent struct {
	callID string
	topic  string
	msg    []byte
}

type fakeMarker struct {
	marked []markedEvent
}

func (marker *fakeMarker) MarkEvent(_ context.Context, callID, topic string, msg []byte, _ string) error {
	marker.marked = append(marker.marked, markedEvent{callID: callID, topic: topic, msg: msg})

	return nil
}

func sampleEvent() call.Event {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	return call.Event{
		CallID: "call-1",
		From:   call.StatusInitiating,
		To:     call.StatusDialing,
		At:     at,
		Record: &call.Record{ID: "call-1", Status: call.StatusDialing, ProviderCallID: "p-1"},
	}
}

func TestPublisherSendsEventKeyedByCall(t *testing.T) {
	client := mocks.NewSyncProducer(t, nil)
	client.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(message *sarama.ProducerMessage) error {
		key, err := message.Key.Encode()
		require.NoError(t, err)
		require.Equal(t, "call-1", string(key))
		require.Equal(t, "call-events", message.Topic)

		value, err := message.Value.Encode()
		require.NoError(t, err)

		var event call.Event
		require.NoError(t, json.Unmarshal(value, &event))
		require.Equal(t, call.StatusDialing, event.To)
		require.Equal(t, "p-1", event.Record.ProviderCallID)

		return nil
	})

	marker := &fakeMarker{}
	publisher := NewPublisher(kafka.NewProducerWithClient(client), "call-events", marker, 1)

	publisher.OnTransition(context.Background(), sampleEvent())
	publisher.Close()

	require.Empty(t, marker.marked)
	require.NoError(t, client.Close())
}

func TestPublisherDeadLettersRejectedEvents(t *testing.T) {
	client := mocks.NewSyncProducer(t, nil)
	client.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	marker := &fakeMarker{}
	publisher := NewPublisher(kafka.NewProducerWithClient(client), "call-events", marker, 1)

	publisher.OnTransition(context.Background(), sampleEvent())
	publisher.Close()

	require.Len(t, marker.marked, 1)
	require.Equal(t, "call-1", marker.marked[0].callID)
	require.Equal(t, "call-events", marker.marked[0].topic)
	require.Contains(t, string(marker.marked[0].msg), `"to":"dialing"`)
	require.NoError(t, client.Close())
}

type blockingSender struct {
	release chan struct{}

	mu   sync.Mutex
	keys []string
}

func (sender *blockingSender) SendMessage(_ string, key, _ []byte) (int32, int64, error) {
	<-sender.release

	sender.mu.Lock()
	defer sender.mu.Unlock()

	sender.keys = append(sender.keys, string(key))

	return 0, int64(len(sender.keys)), nil
}

func TestPublisherDoesNotWaitForBroker(t *testing.T) {
	sender := &blockingSender{release: make(chan struct{})}
	publisher := NewPublisher(sender, "call-events", nil, 4)

	returned := make(chan struct{})

	go func() {
		for _, id := range []string{"call-1", "call-2", "call-3"} {
			event := sampleEvent()
			event.CallID = id
			publisher.OnTransition(context.Background(), event)
		}

		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("OnTransition waited for the broker")
	}

	close(sender.release)
	publisher.Close()

	require.Equal(t, []string{"call-1", "call-2", "call-3"}, sender.keys)
}

func TestPublisherSendsSynchronouslyAfterClose(t *testing.T) {
	sender := &blockingSender{release: make(chan struct{})}
	close(sender.release)

	publisher := NewPublisher(sender, "call-events", nil, 1)
	publisher.Close()
	publisher.Close()

	publisher.OnTransition(context.Background(), sampleEvent())

	require.Equal(t, []string{"call-1"}, sender.keys)
}

func newDialingCall(t *testing.T) (*call.CallService, string) {
	t.Helper()

	service := call.NewService(memory.New(), lock.NewKeyedMutex(), 3)
	now := time.Now().UTC()

	record := call.NewRecord("call-1", call.Request{
		CallerName:  "Jane",
		CallerPhone: "+15551234567",
		Destination: "+15557654321",
		Action:      "Ask for a refund",
	}, nil, 3, now)
	require.NoError(t, record.BeginDispatch(now))
	require.NoError(t, record.MarkDialing("p-1", now))
	require.NoError(t, service.Store.Put(context.Background(), record))

	return service, record.ID
}

func TestStatusConsumerAppliesPushedStatus(t *testing.T) {
	service, id := newDialingCall(t)
	consumer := NewStatusConsumer(service)

	consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{
		Value: []byte(`{"call_id":"call-1","status":"completed","duration":42,"transcript":"bye"}`),
	})

	record, err := service.GetCall(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, call.StatusCompleted, record.Status)
	require.Equal(t, "bye", record.Metadata[call.MetadataTranscript])
}

func TestStatusConsumerDropsBadMessages(t *testing.T) {
	service, id := newDialingCall(t)
	consumer := NewStatusConsumer(service)

	consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte(`not json`)})
	consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte(`{"status":"completed"}`)})
	consumer.HandleMessage(context.Background(), &sarama.ConsumerMessage{
		Value: []byte(`{"call_id":"call-1","provider_call_id":"someone-else","status":"completed"}`),
	})

	record, err := service.GetCall(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, call.StatusDialing, record.Status)
}

func TestStatusUpdateRequiresCallID(t *testing.T) {
	service, _ := newDialingCall(t)

	_, err := StatusUpdate{Status: "busy"}.Apply(context.Background(), service)
	require.ErrorIs(t, err, ErrMissingCallID)
}
