package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Shutdown)
	return h
}

func receive(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		require.True(t, ok, "subscription closed unexpectedly")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription was not closed")
		}
	}
}

func TestHub_SubscribeReceivesOwnChannelOnly(t *testing.T) {
	h := startHub(t)
	sub := h.Subscribe("deployment:1", 8)
	other := h.Subscribe("deployment:2", 8)

	h.Broadcast("deployment:1", "log", map[string]interface{}{"message": "hello"})
	h.Broadcast("deployment:1", "end", nil)

	first := receive(t, sub)
	assert.Equal(t, "log", first.Event)
	assert.Equal(t, "deployment:1", first.Channel)
	assert.Equal(t, "end", receive(t, sub).Event)

	select {
	case msg := <-other.C:
		t.Fatalf("unexpected message on other channel: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_OrderPreserved(t *testing.T) {
	h := startHub(t)
	sub := h.Subscribe("deployment:1", 64)

	for i := 0; i < 50; i++ {
		h.Broadcast("deployment:1", "log", i)
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, i, receive(t, sub).Data)
	}
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("applications", 1)
	fast := h.Subscribe("applications", 8)

	// Dispatch directly so nothing drains sub between messages
	h.dispatch(&Message{Channel: "applications", Event: "a"})
	h.dispatch(&Message{Channel: "applications", Event: "b"})

	msg, ok := <-sub.C
	require.True(t, ok)
	assert.Equal(t, "a", msg.Event)
	_, ok = <-sub.C
	assert.False(t, ok, "overflowing subscriber is closed")
	assert.True(t, sub.Dropped())

	assert.Equal(t, "a", (<-fast.C).Event)
	assert.Equal(t, "b", (<-fast.C).Event)
	assert.False(t, fast.Dropped())
	assert.Equal(t, 1, h.SubscriberCount("applications"))
}

func TestHub_CloseSubscription(t *testing.T) {
	h := startHub(t)
	sub := h.Subscribe("deployment:1", 4)
	assert.Equal(t, 1, h.SubscriberCount("deployment:1"))

	sub.Close()
	sub.Close()
	waitClosed(t, sub)
	assert.False(t, sub.Dropped())
	assert.Equal(t, 0, h.SubscriberCount("deployment:1"))

	// Publishing to a channel without subscribers is a no-op
	h.Broadcast("deployment:1", "log", "x")
}

func TestHub_ShutdownClosesSubscriptions(t *testing.T) {
	h := NewHub()
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()

	sub := h.Subscribe("applications", 4)
	h.Shutdown()
	waitClosed(t, sub)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}

	// Broadcast and Subscribe do not block after shutdown
	h.Broadcast("applications", "x", nil)
	late := h.Subscribe("applications", 1)
	waitClosed(t, late)
	h.Shutdown()
}

func TestClient_HandleControl(t *testing.T) {
	h := NewHub()
	c := NewClient(h, nil, "applications")
	assert.True(t, c.subscribed("applications"))

	raw, err := json.Marshal(controlMessage{Action: "subscribe", Channels: []string{"deployment:1", "deployment:2"}})
	require.NoError(t, err)
	c.handleControl(raw)
	assert.True(t, c.subscribed("deployment:1"))
	assert.True(t, c.subscribed("deployment:2"))

	c.handleControl([]byte(`{"action":"unsubscribe","channels":["deployment:1"]}`))
	assert.False(t, c.subscribed("deployment:1"))

	c.handleControl([]byte(`not json`))
	c.handleControl([]byte(`{"action":"explode","channels":["deployment:2"]}`))
	assert.True(t, c.subscribed("deployment:2"))
}

func TestHub_DispatchToClients(t *testing.T) {
	h := NewHub()
	c := NewClient(h, nil, "deployment:9")
	idle := NewClient(h, nil)
	h.clients[c] = true
	h.clients[idle] = true

	h.dispatch(&Message{Channel: "deployment:9", Event: "status", Data: map[string]string{"status": "building"}})

	require.Len(t, c.send, 1)
	assert.Len(t, idle.send, 0)

	var got Message
	require.NoError(t, json.Unmarshal(<-c.send, &got))
	assert.Equal(t, "status", got.Event)
	assert.Equal(t, "building", got.Data.(map[string]interface{})["status"])
	assert.Equal(t, 1, h.SubscriberCount("deployment:9"))
}
