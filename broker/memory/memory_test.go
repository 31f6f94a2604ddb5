package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/countertop/broker"
	"github.com/c360/countertop/errors"
)

type collector struct {
	mu   sync.Mutex
	msgs []broker.Message
}

func (c *collector) handle(_ context.Context, msg broker.Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return nil
}

func (c *collector) values() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = string(m.Value)
	}
	return out
}

func connected[T interface{ Connect(context.Context) error }](t *testing.T, h T) T {
	t.Helper()
	require.NoError(t, h.Connect(context.Background()))
	return h
}

func TestHandles_RequireConnect(t *testing.T) {
	bus := New()
	ctx := context.Background()

	err := bus.Producer().Send(ctx, "t", []byte("x"))
	assert.ErrorIs(t, err, errors.ErrNoConnection)
	assert.True(t, errors.IsTransient(err))

	err = bus.Admin().CreateTopics(ctx, []broker.TopicConfig{{Name: "t"}})
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	err = bus.Consumer("g").Subscribe(ctx, []string{"t"})
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestBus_DeliversInOrder(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	admin := connected(t, bus.Admin())
	require.NoError(t, admin.CreateTopics(ctx, []broker.TopicConfig{{Name: "words", Retention: time.Minute}}))
	require.NoError(t, admin.CreateTopics(ctx, []broker.TopicConfig{{Name: "words"}}))
	assert.Equal(t, []string{"words"}, bus.Topics())

	consumer := connected(t, bus.Consumer("worker-1"))
	require.NoError(t, consumer.Subscribe(ctx, []string{"words"}))
	assert.Equal(t, []string{"words"}, bus.Subscriptions("worker-1"))

	got := &collector{}
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx, got.handle) }()

	producer := connected(t, bus.Producer())
	for _, v := range []string{"one", "two", "three"} {
		require.NoError(t, producer.Send(ctx, "words", []byte(v)))
	}

	require.Eventually(t, func() bool { return len(got.values()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, got.values())

	require.NoError(t, consumer.Disconnect(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Disconnect")
	}
}

func TestBus_ReplaysRetained(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	bus := New(WithClock(clock))
	ctx := context.Background()

	admin := connected(t, bus.Admin())
	require.NoError(t, admin.CreateTopics(ctx, []broker.TopicConfig{{Name: "t", Retention: 10 * time.Second}}))

	require.NoError(t, bus.Publish(ctx, "t", []byte("old")))
	now = now.Add(8 * time.Second)
	require.NoError(t, bus.Publish(ctx, "t", []byte("new")))
	now = now.Add(5 * time.Second)

	retained := bus.Retained("t")
	require.Len(t, retained, 1)
	assert.Equal(t, "new", string(retained[0].Value))

	consumer := connected(t, bus.Consumer("late"))
	require.NoError(t, consumer.Subscribe(ctx, []string{"t"}))

	runCtx, cancel := context.WithCancel(ctx)
	got := &collector{}
	go func() { _ = consumer.Run(runCtx, got.handle) }()
	require.Eventually(t, func() bool { return len(got.values()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.Equal(t, []string{"new"}, got.values())
}

func TestConsumer_FatalHandlerErrorEndsRun(t *testing.T) {
	bus := New()
	ctx := context.Background()

	consumer := connected(t, bus.Consumer("g"))
	require.NoError(t, consumer.Subscribe(ctx, []string{"t"}))
	require.NoError(t, bus.Publish(ctx, "t", []byte("soft")))
	require.NoError(t, bus.Publish(ctx, "t", []byte("hard")))

	calls := 0
	err := consumer.Run(ctx, func(_ context.Context, msg broker.Message) error {
		calls++
		if string(msg.Value) == "soft" {
			return errors.WrapInvalid(errors.ErrValidation, "test", "handle", "decode")
		}
		return errors.WrapFatal(errors.ErrCodecIntegrity, "test", "handle", "decode")
	})
	assert.ErrorIs(t, err, errors.ErrCodecIntegrity)
	assert.Equal(t, 2, calls)
}

func TestBus_PublishHonoursContext(t *testing.T) {
	bus := New(WithInboxSize(1))
	ctx := context.Background()

	consumer := connected(t, bus.Consumer("slow"))
	require.NoError(t, consumer.Subscribe(ctx, []string{"t"}))
	require.NoError(t, bus.Publish(ctx, "t", []byte("fills inbox")))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := bus.Publish(cancelled, "t", []byte("blocked"))
	assert.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestBus_PublishSkipsDisconnectedGroups(t *testing.T) {
	bus := New(WithInboxSize(1))
	ctx := context.Background()

	consumer := connected(t, bus.Consumer("gone"))
	require.NoError(t, consumer.Subscribe(ctx, []string{"t"}))
	require.NoError(t, bus.Publish(ctx, "t", []byte("fills inbox")))

	blocked := make(chan error, 1)
	go func() { blocked <- bus.Publish(ctx, "t", []byte("waits")) }()

	require.NoError(t, consumer.Disconnect(ctx))
	require.NoError(t, consumer.Disconnect(ctx))
	select {
	case err := <-blocked:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Publish stayed blocked on a disconnected group")
	}

	done := make(chan error, 1)
	go func() { done <- bus.Publish(ctx, "t", []byte("after")) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a disconnected group")
	}
	assert.Equal(t, []string{"t"}, bus.Subscriptions("gone"))
	assert.Len(t, bus.Retained("t"), 3)
}

func TestBus_ReconnectedGroupResumesDelivery(t *testing.T) {
	bus := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := connected(t, bus.Consumer("g"))
	require.NoError(t, first.Subscribe(ctx, []string{"t"}))
	require.NoError(t, first.Disconnect(ctx))

	second := connected(t, bus.Consumer("g"))
	require.NoError(t, second.Subscribe(ctx, []string{"t"}))
	got := &collector{}
	go func() { _ = second.Run(ctx, got.handle) }()

	require.NoError(t, bus.Publish(ctx, "t", []byte("back")))
	require.Eventually(t, func() bool { return len(got.values()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"back"}, got.values())
}
