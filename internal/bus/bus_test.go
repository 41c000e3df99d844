package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu   sync.Mutex
	got  []Event
	done chan struct{}
	want int
	err  error
}

func newRecordingHandler(want int) *recordingHandler {
	return &recordingHandler{done: make(chan struct{}), want: want}
}

func (h *recordingHandler) Handle(_ context.Context, evt Event) error {
	h.mu.Lock()
	h.got = append(h.got, evt)
	if len(h.got) == h.want {
		close(h.done)
	}
	h.mu.Unlock()
	return h.err
}

func (h *recordingHandler) wait(t *testing.T) []Event {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for events")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.got))
	copy(out, h.got)
	return out
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	defer b.Close()

	h := newRecordingHandler(5)
	_, err := b.Subscribe(TopicSignalGenerated, h)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(TopicSignalGenerated, i))
	}

	got := h.wait(t)
	for i, evt := range got {
		assert.Equal(t, i, evt.Payload)
		assert.NotEmpty(t, evt.ID)
	}
}

func TestSubscribersInvokedInRegistrationOrder(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := b.Subscribe(TopicOrderFilled, HandlerFunc(func(context.Context, Event) error {
			mu.Lock()
			order = append(order, name)
			if len(order) == 3 {
				close(done)
			}
			mu.Unlock()
			return nil
		}))
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(TopicOrderFilled, nil))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not run")
	}
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestHandlerErrorDoesNotBlockOthers(t *testing.T) {
	b := New()
	defer b.Close()

	failing := newRecordingHandler(1)
	failing.err = fmt.Errorf("boom")
	_, err := b.Subscribe(TopicRiskAlert, failing)
	require.NoError(t, err)

	panicking := HandlerFunc(func(context.Context, Event) error {
		panic("handler exploded")
	})
	_, err = b.Subscribe(TopicRiskAlert, panicking)
	require.NoError(t, err)

	healthy := newRecordingHandler(1)
	_, err = b.Subscribe(TopicRiskAlert, healthy)
	require.NoError(t, err)

	require.NoError(t, b.Publish(TopicRiskAlert, "alert"))
	assert.Len(t, healthy.wait(t), 1)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New()
	defer b.Close()

	h := newRecordingHandler(1)
	sub, err := b.Subscribe(TopicOrderCreated, h)
	require.NoError(t, err)

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)

	require.NoError(t, b.Publish(TopicOrderCreated, "ignored"))
	// Give the dispatcher a moment; the handler must never fire.
	time.Sleep(50 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.got)
}

func TestPublishDoesNotBlockOnSaturatedQueue(t *testing.T) {
	b := NewWithQueueDepth(1)
	defer b.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	_, err := b.Subscribe(TopicSignalGenerated, HandlerFunc(func(context.Context, Event) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}))
	require.NoError(t, err)

	// First event occupies the dispatcher, second fills the queue.
	require.NoError(t, b.Publish(TopicSignalGenerated, 1))
	<-started
	require.NoError(t, b.Publish(TopicSignalGenerated, 2))

	done := make(chan error, 1)
	go func() { done <- b.Publish(TopicSignalGenerated, 3) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full queue")
	}
	close(release)
}

func TestCloseIsIdempotentAndRejectsPublish(t *testing.T) {
	b := New()
	_, err := b.Subscribe(TopicOrderFailed, newRecordingHandler(1))
	require.NoError(t, err)

	b.Close()
	b.Close()

	err = b.Publish(TopicOrderFailed, "late")
	assert.Error(t, err)

	_, err = b.Subscribe(TopicOrderFailed, newRecordingHandler(1))
	assert.Error(t, err)
}

func TestJournalSeesEveryEvent(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var journaled []Topic
	b.SetJournal(func(evt Event) {
		mu.Lock()
		journaled = append(journaled, evt.Topic)
		mu.Unlock()
	})

	require.NoError(t, b.Publish(TopicOrderCreated, nil))
	require.NoError(t, b.Publish(TopicOrderFilled, nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Topic{TopicOrderCreated, TopicOrderFilled}, journaled)
}
