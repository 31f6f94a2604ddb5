package countertop

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/countertop/appliance"
	"github.com/c360/countertop/broker"
	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/payload"
)

// Worker realizes one stream: it consumes the topics of the stream's
// tributaries, feeds an appliance instance and publishes what the
// appliance emits to the stream's own topics.
type Worker struct {
	id      string
	station *Station
	stream  *Stream
	app     appliance.Appliance
	logger  *slog.Logger

	admin    broker.Admin
	producer broker.Producer
	consumer broker.Consumer

	inputTopics  []string
	outputTopics map[string]string

	mu         sync.Mutex
	host       *appliance.Host
	outbox     *appliance.Outbox
	appStarted bool
	stopLoops  context.CancelFunc
	stopDrain  context.CancelFunc
	loops      *sync.WaitGroup
	drain      *sync.WaitGroup
}

func newWorker(st *Station, stream *Stream) (*Worker, error) {
	app, err := st.desc.Factory(st.settings)
	if err != nil {
		return nil, errors.Wrap(err, "Worker", "newWorker", "create "+st.desc.Name)
	}

	id := "CountertopWorker::" + st.desc.Name + "::" + uuid.NewString()
	b := st.cfg.broker
	w := &Worker{
		id:           id,
		station:      st,
		stream:       stream,
		app:          app,
		admin:        b.Admin(),
		producer:     b.Producer(),
		consumer:     b.Consumer(id),
		outputTopics: make(map[string]string),
		logger: st.cfg.logger.With("component", "worker",
			"station_id", st.id, "worker_id", id, "stream_id", stream.id),
	}

	for _, typ := range st.InputTypes() {
		if trib := stream.Tributary(typ); trib != nil {
			w.inputTopics = append(w.inputTopics, TopicName(typ, trib))
		}
	}
	for _, typ := range st.OutputTypes() {
		w.outputTopics[typ] = TopicName(typ, stream)
	}
	return w, nil
}

// ID is the worker's unique identity.
func (w *Worker) ID() string { return w.id }

// Stream is the stream the worker realizes.
func (w *Worker) Stream() *Stream { return w.stream }

// Appliance is the worker's appliance instance.
func (w *Worker) Appliance() appliance.Appliance { return w.app }

// InputTopics are the topics the worker subscribes to.
func (w *Worker) InputTopics() []string { return slices.Clone(w.inputTopics) }

// OutputTopic is the topic payloads of dataType are published to.
func (w *Worker) OutputTopic(dataType string) (string, bool) {
	t, ok := w.outputTopics[dataType]
	return t, ok
}

// Buffered is the number of payloads the appliance holds unconsumed.
func (w *Worker) Buffered() int {
	w.mu.Lock()
	host := w.host
	w.mu.Unlock()
	if host == nil {
		return 0
	}
	return host.Buffered()
}

// Start brings the worker up: health check, broker connections, output
// topics, input subscriptions, appliance start, then the consume loop.
// Any failing step aborts the rest.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.app.HealthCheck(ctx) {
		return errors.Unhealthy("Worker", "Start", w.station.Name(), "health check failed")
	}

	for _, step := range []struct {
		action string
		fn     func(context.Context) error
	}{
		{"connect admin", w.admin.Connect},
		{"connect producer", w.producer.Connect},
		{"connect consumer", w.consumer.Connect},
	} {
		if err := step.fn(ctx); err != nil {
			return errors.Wrap(err, "Worker", "Start", step.action)
		}
	}

	topics := make([]broker.TopicConfig, 0, len(w.outputTopics))
	for _, typ := range slices.Sorted(maps.Keys(w.outputTopics)) {
		topics = append(topics, broker.TopicConfig{Name: w.outputTopics[typ], Retention: w.station.cfg.retention})
	}
	if len(topics) > 0 {
		if err := w.admin.CreateTopics(ctx, topics); err != nil {
			return errors.Wrap(err, "Worker", "Start", "create output topics")
		}
	}

	if len(w.inputTopics) > 0 {
		if err := w.consumer.Subscribe(ctx, w.inputTopics); err != nil {
			return errors.Wrap(err, "Worker", "Start", "subscribe to input topics")
		}
	}

	if !w.app.Start(ctx) {
		return errors.Unhealthy("Worker", "Start", w.station.Name(), "appliance refused to start")
	}
	w.appStarted = true

	w.outbox = appliance.NewOutbox(w.station.cfg.outboxCapacity)
	w.host = appliance.NewHost(w.station.Name(), w.app, w.outbox)

	base := context.WithoutCancel(ctx)
	loopCtx, stopLoops := context.WithCancel(base)
	drainCtx, stopDrain := context.WithCancel(base)
	w.stopLoops, w.stopDrain = stopLoops, stopDrain
	w.loops, w.drain = new(sync.WaitGroup), new(sync.WaitGroup)
	w.run(loopCtx, drainCtx, w.host, w.outbox)

	w.logger.Info("worker started", "inputs", w.inputTopics)
	return nil
}

// run starts the drain, the consume loop and, for generators, the
// generator. The drain outlives the other two so that the payloads of an
// in-flight message still get published during Stop. Message handling
// runs under drainCtx for the same reason.
func (w *Worker) run(ctx, drainCtx context.Context, host *appliance.Host, outbox *appliance.Outbox) {
	loops, drain := w.loops, w.drain
	drain.Add(1)
	go func() {
		defer drain.Done()
		outbox.Drain(drainCtx, w.publish)
	}()

	if len(w.inputTopics) > 0 {
		loops.Add(1)
		go func() {
			defer loops.Done()
			err := w.consumer.Run(ctx, func(_ context.Context, msg broker.Message) error {
				return w.handle(drainCtx, host, outbox, msg)
			})
			if err != nil {
				w.logger.Error("consume loop ended", "error", err)
				w.raise(err)
			}
		}()
	}

	if _, ok := w.app.(appliance.Generator); ok {
		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := host.Generate(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("generator failed", "error", err)
				w.raise(err)
			}
		}()
	}
}

// handle ingests one message and waits until everything the appliance
// emitted for it has been published. ctx is the drain context, so only a
// Stop that runs out of time interrupts a message already being handled.
func (w *Worker) handle(ctx context.Context, host *appliance.Host, outbox *appliance.Outbox, msg broker.Message) error {
	metrics := w.station.cfg.metrics
	name := w.station.Name()

	p, err := w.station.cfg.codec.Decode(msg.Value)
	if err != nil {
		metrics.RecordFailed(name, errors.Classify(err).String())
		w.raise(err)
		return err
	}
	metrics.RecordReceived(name, p.Type())
	w.logger.Debug("payload received", "topic", msg.Topic, "type", p.Type(), "position", p.Position())

	start := time.Now()
	err = errors.Join(host.Ingest(ctx, p), outbox.Flush(ctx))
	metrics.ObserveInvoke(name, time.Since(start))
	metrics.RecordBuffered(name, w.id, host.Buffered())

	if err != nil {
		metrics.RecordFailed(name, errors.Classify(err).String())
		w.logger.Warn("payload failed", "topic", msg.Topic, "error", err)
		w.raise(err)
		return err
	}
	return nil
}

func (w *Worker) publish(ctx context.Context, p payload.Payload) error {
	topic, ok := w.outputTopics[p.Type()]
	if !ok {
		err := errors.NewValidationError(w.station.Name(), "Emit", "appliance emitted an undeclared output type", p.Type())
		w.raise(err)
		return err
	}
	data, err := w.station.cfg.codec.Encode(p)
	if err != nil {
		w.raise(err)
		return err
	}
	if err := w.producer.Send(ctx, topic, data); err != nil {
		w.raise(err)
		return err
	}
	w.station.cfg.metrics.RecordPublished(w.station.Name(), p.Type())
	w.station.events.emit(Event{
		Type:      EventPayload,
		StationID: w.station.id,
		WorkerID:  w.id,
		StreamID:  w.stream.id,
		Topic:     topic,
		Payload:   p,
	})
	return nil
}

func (w *Worker) raise(err error) {
	w.station.events.emit(Event{
		Type:      EventError,
		StationID: w.station.id,
		WorkerID:  w.id,
		StreamID:  w.stream.id,
		Err:       err,
	})
}

// Stop ends the consume loop after the in-flight message, stops the
// appliance and disconnects consumer, producer and admin. Every step is
// attempted; failures are joined. If ctx ends while waiting for the
// in-flight message or the outbox, the wait is abandoned and the rest of
// the shutdown still runs. Stop is safe after a failed or partial Start.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if w.stopLoops != nil {
		w.stopLoops()
		if err := waitFor(ctx, w.loops); err != nil {
			errs = append(errs, errors.WrapTransient(err, "Worker", "Stop", "wait for in-flight message"))
		}
		w.stopDrain()
		if err := waitFor(ctx, w.drain); err != nil {
			errs = append(errs, errors.WrapTransient(err, "Worker", "Stop", "wait for outbox drain"))
		}
		w.stopLoops, w.stopDrain = nil, nil
	}
	if w.outbox != nil {
		w.outbox.Close()
	}

	if w.appStarted {
		if !w.app.Stop(ctx) {
			errs = append(errs, errors.Unhealthy("Worker", "Stop", w.station.Name(), "appliance failed to stop"))
		}
		w.appStarted = false
	}
	for _, h := range []struct {
		name string
		fn   func(context.Context) error
	}{
		{"consumer", w.consumer.Disconnect},
		{"producer", w.producer.Disconnect},
		{"admin", w.admin.Disconnect},
	} {
		if err := h.fn(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "Worker", "Stop", "disconnect "+h.name))
		}
	}

	if err := errors.Join(errs...); err != nil {
		w.logger.Warn("worker stop incomplete", "error", err)
		return err
	}
	w.logger.Info("worker stopped")
	return nil
}

func waitFor(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		select {
		case <-done:
			return nil
		default:
			return ctx.Err()
		}
	}
}
