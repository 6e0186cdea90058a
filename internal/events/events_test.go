package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() Event {
	return Event{
		Name:       ResourceUpdate,
		Resource:   "task",
		ID:         int64(7),
		Current:    map[string]interface{}{"id": int64(7), "title": "new"},
		Previous:   map[string]interface{}{"id": int64(7), "title": "old"},
		Changed:    []string{"title"},
		OccurredAt: time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestLocalBus_FanOutAndFilter(t *testing.T) {
	bus := NewLocalBus(4)
	all, cancelAll := bus.Subscribe("")
	defer cancelAll()
	users, cancelUsers := bus.Subscribe("user")
	defer cancelUsers()

	require.NoError(t, bus.Publish(context.Background(), sampleEvent()))

	select {
	case e := <-all:
		assert.Equal(t, ResourceUpdate, e.Name)
	default:
		t.Fatal("expected event for wildcard subscriber")
	}
	select {
	case e := <-users:
		t.Fatalf("unexpected event %v", e)
	default:
	}
}

func TestLocalBus_DropsWhenFull(t *testing.T) {
	bus := NewLocalBus(1)
	ch, cancel := bus.Subscribe("")
	require.NoError(t, bus.Publish(context.Background(), sampleEvent()))
	require.NoError(t, bus.Publish(context.Background(), sampleEvent()))
	assert.Len(t, ch, 1)

	cancel()
	cancel()
	assert.Equal(t, 0, bus.Subscribers())
	_, open := <-ch
	assert.True(t, open, "buffered event is still readable")
	_, open = <-ch
	assert.False(t, open)
}

type failingBus struct {
	err   error
	calls int
}

func (f *failingBus) Publish(context.Context, Event) error {
	f.calls++
	return f.err
}

func TestLocalBus_Close(t *testing.T) {
	bus := NewLocalBus(4)
	feed, cancel := bus.Subscribe("")
	bus.Close()

	_, open := <-feed
	assert.False(t, open)
	assert.Equal(t, 0, bus.Subscribers())
	cancel()

	late, cancelLate := bus.Subscribe("task")
	_, open = <-late
	assert.False(t, open)
	cancelLate()
	require.NoError(t, bus.Publish(context.Background(), sampleEvent()))
}

func TestMulti_TriesEveryBus(t *testing.T) {
	first := &failingBus{err: errors.New("first")}
	second := &failingBus{err: errors.New("second")}
	ok := &failingBus{}

	err := Multi{first, nil, second, ok}.Publish(context.Background(), sampleEvent())
	assert.EqualError(t, err, "first")
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 1, ok.calls)
	assert.NoError(t, Nop{}.Publish(context.Background(), sampleEvent()))
}

func TestRedisPublisher_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "app:task")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	pub := NewRedisPublisherWithClient(client, "app")
	require.NoError(t, pub.Publish(ctx, sampleEvent()))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "app:task", msg.Channel)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, ResourceUpdate, got["name"])
	assert.Equal(t, float64(7), got["id"])
	assert.Equal(t, []interface{}{"title"}, got["changed"])
}

func TestNewRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	pub, err := NewRedisPublisher(context.Background(), "redis://"+mr.Addr()+"/0", "")
	require.NoError(t, err)
	defer pub.Close()
	assert.Equal(t, "orm:user", pub.Channel("user"))

	_, err = NewRedisPublisher(context.Background(), "://bad", "")
	require.Error(t, err)
}
