package countertop

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/countertop/appliance"
	"github.com/c360/countertop/errors"
)

// Station is one registered appliance: its descriptor, its settings and,
// once a topology has been invoked on it, one worker per stream ending
// here.
type Station struct {
	id       string
	desc     appliance.Descriptor
	settings appliance.Settings
	cfg      *config
	logger   *slog.Logger
	events   *events
	life     lifecycle

	mu      sync.RWMutex
	workers []*Worker
}

// NewStation creates a standalone station. Stations created through
// Countertop.AddAppliance share the coordinator's options and events.
func NewStation(desc appliance.Descriptor, settings appliance.Settings, opts ...Option) (*Station, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return newStation(desc, settings, newConfig(opts), nil), nil
}

func newStation(desc appliance.Descriptor, settings appliance.Settings, cfg *config, parent *events) *Station {
	s := &Station{
		id:       desc.Name + "::" + uuid.NewString(),
		desc:     desc,
		settings: settings,
		cfg:      cfg,
		events:   newEvents(parent),
	}
	s.logger = cfg.logger.With("component", "station", "station_id", s.id)
	return s
}

// ID is the station's unique identity.
func (s *Station) ID() string { return s.id }

// Name is the settings label, or the descriptor name when unlabelled.
func (s *Station) Name() string {
	if s.settings.Label != "" {
		return s.settings.Label
	}
	return s.desc.Name
}

// Descriptor returns the appliance descriptor.
func (s *Station) Descriptor() appliance.Descriptor { return s.desc }

// Settings returns the station's appliance settings.
func (s *Station) Settings() appliance.Settings { return s.settings }

// InputTypes are the declared input types narrowed by the input filter.
func (s *Station) InputTypes() []string { return s.desc.Inputs(s.settings) }

// OutputTypes are the declared output types narrowed by the output filter.
func (s *Station) OutputTypes() []string { return s.desc.Outputs(s.settings) }

// State returns the lifecycle state.
func (s *Station) State() State { return s.life.get() }

// Workers returns the current workers.
func (s *Station) Workers() []*Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.workers)
}

// On registers l for events of type t raised by this station's workers.
// Listeners are kept across topology changes.
func (s *Station) On(t EventType, l Listener) { s.events.on(t, l) }

// InvokeTopology replaces the station's workers with one worker per
// stream of t ending at this station. The station must be stopped.
func (s *Station) InvokeTopology(t *Topology) error {
	return s.life.require("Station", "InvokeTopology", func() error {
		workers, err := s.prepare(t)
		if err != nil {
			return err
		}
		s.install(workers)
		return nil
	}, StateStopped)
}

// prepare builds, without installing, the workers t needs here.
func (s *Station) prepare(t *Topology) ([]*Worker, error) {
	if s.cfg.broker == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Station", "InvokeTopology", "check broker")
	}
	streams := t.StreamsForMouth(s)
	workers := make([]*Worker, 0, len(streams))
	for _, stream := range streams {
		w, err := newWorker(s, stream)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

func (s *Station) install(workers []*Worker) {
	s.mu.Lock()
	s.workers = workers
	s.mu.Unlock()
	s.logger.Debug("workers replaced", "workers", len(workers))
}

// Start starts every worker concurrently. If any fails the station ends up
// errored and the workers are stopped again.
func (s *Station) Start(ctx context.Context) error {
	if err := s.life.transition("Station", "Start", StateStarting, StateStopped); err != nil {
		return err
	}
	s.announce(StateStarting)

	workers := s.Workers()
	err := fanOut(ctx, workers, func(ctx context.Context, w *Worker) error { return w.Start(ctx) })
	if err != nil {
		s.life.fail(err)
		s.announce(StateErrored)
		s.logger.Error("station start failed", "error", err)
		if stopErr := s.stopWorkers(ctx, workers); stopErr != nil {
			s.logger.Warn("cleanup after failed start incomplete", "error", stopErr)
		}
		return errors.Wrap(err, "Station", "Start", "start workers of "+s.Name())
	}

	s.life.set(StateStarted)
	s.announce(StateStarted)
	return nil
}

// Stop stops every worker concurrently. Stopping a stopped station does
// nothing.
func (s *Station) Stop(ctx context.Context) error {
	if s.State() == StateStopped {
		return nil
	}
	if err := s.life.transition("Station", "Stop", StateStopping, StateStarted, StateErrored); err != nil {
		return err
	}
	s.announce(StateStopping)

	if err := s.stopWorkers(ctx, s.Workers()); err != nil {
		s.life.fail(err)
		s.announce(StateErrored)
		return errors.Wrap(err, "Station", "Stop", "stop workers of "+s.Name())
	}
	s.life.set(StateStopped)
	s.announce(StateStopped)
	return nil
}

func (s *Station) stopWorkers(ctx context.Context, workers []*Worker) error {
	return fanOut(ctx, workers, func(ctx context.Context, w *Worker) error { return w.Stop(ctx) })
}

func (s *Station) announce(st State) {
	s.logger.Info("station state changed", "state", st.String())
	s.cfg.metrics.RecordStationState(s.Name(), int(st), len(s.Workers()))
	s.events.emit(Event{Type: EventState, StationID: s.id, State: st})
}
