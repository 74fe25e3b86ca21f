package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechat-service/internal/models"
)

func TestBrokerDeliversToConversationSubscribers(t *testing.T) {
	broker := NewBroker()

	var got []models.Message
	sub, err := broker.Subscribe("conv-1", func(m models.Message) { got = append(got, m) })
	require.NoError(t, err)
	defer sub.Close()

	other, err := broker.Subscribe("conv-2", func(m models.Message) {
		t.Errorf("unexpected delivery to conv-2 subscriber: %s", m.ID)
	})
	require.NoError(t, err)
	defer other.Close()

	msg := models.Message{ID: "m-1", ConversationID: "conv-1", Content: "hi"}
	require.NoError(t, broker.Publish(context.Background(), msg))

	require.Len(t, got, 1)
	assert.Equal(t, "m-1", got[0].ID)
}

func TestBrokerCloseStopsDelivery(t *testing.T) {
	broker := NewBroker()

	delivered := 0
	sub, err := broker.Subscribe("conv-1", func(models.Message) { delivered++ })
	require.NoError(t, err)
	require.Equal(t, 1, broker.SubscriberCount("conv-1"))

	sub.Close()
	assert.Equal(t, 0, broker.SubscriberCount("conv-1"))

	require.NoError(t, broker.Publish(context.Background(), models.Message{ID: "m-1", ConversationID: "conv-1"}))
	assert.Zero(t, delivered)

	// Closing twice is fine.
	sub.Close()
}

func TestBrokerCloseWaitsForInFlightDelivery(t *testing.T) {
	broker := NewBroker()

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished bool

	sub, err := broker.Subscribe("conv-1", func(models.Message) {
		close(entered)
		<-release
		finished = true
	})
	require.NoError(t, err)

	go broker.Publish(context.Background(), models.Message{ID: "m-1", ConversationID: "conv-1"})
	<-entered

	closed := make(chan struct{})
	go func() {
		sub.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a delivery was still in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the delivery finished")
	}
	assert.True(t, finished)
}

func TestBrokerConcurrentPublish(t *testing.T) {
	broker := NewBroker()

	var mu sync.Mutex
	seen := map[string]int{}
	sub, err := broker.Subscribe("conv-1", func(m models.Message) {
		mu.Lock()
		seen[m.ID]++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = broker.Publish(context.Background(), models.Message{ID: id, ConversationID: "conv-1"})
		}(string(rune('a' + i)))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 10)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "message %s delivered %d times", id, n)
	}
}
