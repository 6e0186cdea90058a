package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resource-orm/internal/events"
)

func dialStream(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestEventStream_RelaysFilteredEvents(t *testing.T) {
	bus := events.NewLocalBus(8)
	server := httptest.NewServer(NewEventStream(bus, EventStreamConfig{}, nil))
	defer server.Close()

	conn := dialStream(t, server, "?resource=task")
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, events.Event{Name: events.ResourceCreate, Resource: "user", ID: 1}))
	require.NoError(t, bus.Publish(ctx, events.Event{
		Name:     events.ResourceUpdate,
		Resource: "task",
		ID:       7,
		Changed:  []string{"done"},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.ResourceUpdate, got.Name)
	assert.Equal(t, "task", got.Resource)
	assert.Equal(t, float64(7), got.ID)
	assert.Equal(t, []string{"done"}, got.Changed)
}

func TestEventStream_UnsubscribesOnDisconnect(t *testing.T) {
	bus := events.NewLocalBus(8)
	server := httptest.NewServer(NewEventStream(bus, EventStreamConfig{}, nil))
	defer server.Close()

	conn := dialStream(t, server, "")
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()
	assert.Eventually(t, func() bool { return bus.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventStream_RejectsPlainHTTP(t *testing.T) {
	bus := events.NewLocalBus(8)
	rr := httptest.NewRecorder()
	NewEventStream(bus, EventStreamConfig{}, nil).ServeHTTP(rr, httptest.NewRequest("GET", "/events", nil))

	assert.Equal(t, 400, rr.Code)
	assert.Equal(t, 0, bus.Subscribers())
}
