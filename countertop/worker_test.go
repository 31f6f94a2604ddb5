package countertop

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/countertop/appliance"
	"github.com/c360/countertop/broker"
	"github.com/c360/countertop/broker/memory"
	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/payload"
	"github.com/c360/countertop/testutil"
)

// faultyBroker is a memory bus whose handles fail on demand. It records
// every Connect and Disconnect as "connect <kind>" / "disconnect <kind>".
type faultyBroker struct {
	*memory.Bus
	connectErr    map[string]error
	disconnectErr map[string]error
	send          func(ctx context.Context, topic string) error

	mu    sync.Mutex
	calls []string
}

func newFaultyBroker() *faultyBroker {
	return &faultyBroker{
		Bus:           memory.New(),
		connectErr:    make(map[string]error),
		disconnectErr: make(map[string]error),
	}
}

func (f *faultyBroker) Admin() broker.Admin {
	return faultyAdmin{Admin: f.Bus.Admin(), h: faultyHandle{f, "admin"}}
}

func (f *faultyBroker) Producer() broker.Producer {
	return faultyProducer{Producer: f.Bus.Producer(), h: faultyHandle{f, "producer"}}
}

func (f *faultyBroker) Consumer(groupID string) broker.Consumer {
	return faultyConsumer{Consumer: f.Bus.Consumer(groupID), h: faultyHandle{f, "consumer"}}
}

func (f *faultyBroker) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

// Calls returns the recorded calls starting with prefix.
func (f *faultyBroker) Calls(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

type faultyHandle struct {
	f    *faultyBroker
	kind string
}

func (h faultyHandle) connect(ctx context.Context, next func(context.Context) error) error {
	h.f.record("connect " + h.kind)
	if err := h.f.connectErr[h.kind]; err != nil {
		return err
	}
	return next(ctx)
}

func (h faultyHandle) disconnect(ctx context.Context, next func(context.Context) error) error {
	h.f.record("disconnect " + h.kind)
	err := next(ctx)
	if injected := h.f.disconnectErr[h.kind]; injected != nil {
		return injected
	}
	return err
}

type faultyAdmin struct {
	broker.Admin
	h faultyHandle
}

func (a faultyAdmin) Connect(ctx context.Context) error    { return a.h.connect(ctx, a.Admin.Connect) }
func (a faultyAdmin) Disconnect(ctx context.Context) error { return a.h.disconnect(ctx, a.Admin.Disconnect) }

type faultyProducer struct {
	broker.Producer
	h faultyHandle
}

func (p faultyProducer) Connect(ctx context.Context) error { return p.h.connect(ctx, p.Producer.Connect) }
func (p faultyProducer) Disconnect(ctx context.Context) error {
	return p.h.disconnect(ctx, p.Producer.Disconnect)
}

func (p faultyProducer) Send(ctx context.Context, topic string, value []byte) error {
	if p.h.f.send != nil {
		if err := p.h.f.send(ctx, topic); err != nil {
			return err
		}
	}
	return p.Producer.Send(ctx, topic, value)
}

type faultyConsumer struct {
	broker.Consumer
	h faultyHandle
}

func (c faultyConsumer) Connect(ctx context.Context) error { return c.h.connect(ctx, c.Consumer.Connect) }
func (c faultyConsumer) Disconnect(ctx context.Context) error {
	return c.h.disconnect(ctx, c.Consumer.Disconnect)
}

var allDisconnects = []string{"disconnect consumer", "disconnect producer", "disconnect admin"}

func TestWorker_StopDisconnectsEverythingOnFailure(t *testing.T) {
	boom := errors.New("consumer disconnect failed")
	fb := newFaultyBroker()
	fb.disconnectErr["consumer"] = boom

	ct := New(fb)
	reader, err := ct.AddAppliance(testutil.Descriptor("Reader", nil, []string{"foo"}, nil), appliance.Settings{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ct.Start(ctx))

	err = ct.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "disconnect consumer")
	assert.Equal(t, allDisconnects, fb.Calls("disconnect"))
	assert.Equal(t, StateErrored, reader.State())
	assert.Equal(t, StateErrored, ct.State())
}

func TestStation_FailedStartDisconnectsHandles(t *testing.T) {
	boom := errors.New("producer unreachable")
	fb := newFaultyBroker()
	fb.connectErr["producer"] = boom

	st := station(t, "A", nil, []string{"foo"}, WithBroker(fb))
	topo, err := NewTopology([]*Station{st})
	require.NoError(t, err)
	require.NoError(t, st.InvokeTopology(topo))

	err = st.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "connect producer")
	assert.Equal(t, StateErrored, st.State())

	assert.Equal(t, []string{"connect admin", "connect producer"}, fb.Calls("connect"))
	assert.Equal(t, allDisconnects, fb.Calls("disconnect"))
	assert.Empty(t, fb.Topics())
}

func TestWorker_StopHonoursContext(t *testing.T) {
	fb := newFaultyBroker()
	fb.send = func(ctx context.Context, topic string) error {
		if strings.HasPrefix(topic, "bar-") {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	mock := testutil.NewMockAppliance()
	mock.InvokeFunc = testutil.Relay("bar")
	ct := New(fb)
	reader, err := ct.AddAppliance(testutil.Descriptor("Reader", nil, []string{"foo"}, nil), appliance.Settings{})
	require.NoError(t, err)
	_, err = ct.AddAppliance(testutil.Descriptor("Relay", []string{"foo"}, []string{"bar"}, mock), appliance.Settings{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, ct.Start(ctx))

	streams := ct.Topology().StreamsForMouth(reader)
	require.Len(t, streams, 1)
	data, err := payload.Binary.Encode(testutil.Payload("foo", 0, "stuck"))
	require.NoError(t, err)
	require.NoError(t, fb.Publish(ctx, TopicName("foo", streams[0]), data))
	require.Eventually(t, func() bool {
		_, _, _, invokes := mock.Calls()
		return invokes == 1
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ct.Stop(stopCtx) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "wait for in-flight message")
	case <-time.After(2 * time.Second):
		t.Fatal("Stop ignored its context")
	}
	_, _, stops, _ := mock.Calls()
	assert.Equal(t, 1, stops)
}

func TestWorker_FanInSubscribesEveryTributary(t *testing.T) {
	bus := memory.New()
	ct := New(bus)
	a, err := ct.AddAppliance(testutil.Descriptor("A", nil, []string{"foo"}, nil), appliance.Settings{})
	require.NoError(t, err)
	b, err := ct.AddAppliance(testutil.Descriptor("B", []string{"foo"}, []string{"bar"}, nil), appliance.Settings{})
	require.NoError(t, err)
	c, err := ct.AddAppliance(testutil.Descriptor("C", []string{"foo", "bar"}, []string{"baz"}, nil), appliance.Settings{})
	require.NoError(t, err)

	topo := ct.Topology()
	fromA := topo.StreamsForMouth(a)
	fromB := topo.StreamsForMouth(b)
	require.Len(t, fromA, 1)
	require.Len(t, fromB, 1)

	require.Len(t, c.Workers(), 1)
	worker := c.Workers()[0]
	want := []string{TopicName("foo", fromA[0]), TopicName("bar", fromB[0])}
	assert.Equal(t, want, worker.InputTopics())
	assert.Same(t, fromA[0], worker.Stream().Tributary("foo"))
	assert.Same(t, fromB[0], worker.Stream().Tributary("bar"))

	ctx := context.Background()
	require.NoError(t, ct.Start(ctx))
	t.Cleanup(func() { _ = ct.Stop(ctx) })
	assert.Equal(t, want, bus.Subscriptions(worker.ID()))
}

func TestWorker_PartialStreamSubscribesSuppliedInputsOnly(t *testing.T) {
	bus := memory.New()
	ct := New(bus)
	a, err := ct.AddAppliance(testutil.Descriptor("A", nil, []string{"foo"}, nil), appliance.Settings{})
	require.NoError(t, err)
	c, err := ct.AddAppliance(testutil.Descriptor("C", []string{"foo", "baz"}, []string{"out"}, nil), appliance.Settings{})
	require.NoError(t, err)

	fromA := ct.Topology().StreamsForMouth(a)
	require.Len(t, fromA, 1)
	require.Len(t, c.Workers(), 1)
	worker := c.Workers()[0]
	assert.Nil(t, worker.Stream().Tributary("baz"))

	want := []string{TopicName("foo", fromA[0])}
	assert.Equal(t, want, worker.InputTopics())

	ctx := context.Background()
	require.NoError(t, ct.Start(ctx))
	t.Cleanup(func() { _ = ct.Stop(ctx) })
	assert.Equal(t, want, bus.Subscriptions(worker.ID()))
}
