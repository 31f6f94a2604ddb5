package countertop

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/countertop/appliance"
	"github.com/c360/countertop/broker"
	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/health"
)

// Countertop coordinates a set of stations: it regenerates the topology
// whenever a station is added and starts and stops all stations together.
type Countertop struct {
	cfg    *config
	logger *slog.Logger
	events *events
	life   lifecycle

	mu       sync.RWMutex
	stations []*Station
	topology *Topology
}

// New creates a stopped coordinator whose workers use b.
func New(b broker.Broker, opts ...Option) *Countertop {
	cfg := newConfig(append([]Option{WithBroker(b)}, opts...))
	c := &Countertop{
		cfg:      cfg,
		logger:   cfg.logger.With("component", "countertop"),
		events:   newEvents(nil),
		topology: &Topology{},
	}
	return c
}

// State returns the coordinator's lifecycle state.
func (c *Countertop) State() State { return c.life.get() }

// Topology returns the current topology.
func (c *Countertop) Topology() *Topology {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topology
}

// Stations returns the registered stations in registration order.
func (c *Countertop) Stations() []*Station {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.stations)
}

// On registers l for events of type t from the coordinator and every
// station, present and future.
func (c *Countertop) On(t EventType, l Listener) { c.events.on(t, l) }

// AddAppliance registers a station for desc and regenerates the topology.
// The coordinator must be stopped. If the new topology cannot be invoked
// the station is not added.
func (c *Countertop) AddAppliance(desc appliance.Descriptor, settings appliance.Settings) (*Station, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	var st *Station
	err := c.life.require("Countertop", "AddAppliance", func() error {
		st = newStation(desc, settings, c.cfg, c.events)
		c.mu.RLock()
		stations := append(slices.Clone(c.stations), st)
		c.mu.RUnlock()
		return c.apply(stations)
	}, StateStopped)
	if err != nil {
		return nil, err
	}
	c.logger.Info("appliance added", "appliance", desc.Name, "station_id", st.ID())
	return st, nil
}

// AddApplianceByName looks name up in the configured registry and adds it.
func (c *Countertop) AddApplianceByName(name string, settings appliance.Settings) (*Station, error) {
	if c.cfg.registry == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Countertop", "AddApplianceByName", "check registry")
	}
	desc, err := c.cfg.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	return c.AddAppliance(desc, settings)
}

// UpdateTopology regenerates the topology from the current stations and
// replaces every station's workers. The coordinator must be stopped; on
// failure nothing changes.
func (c *Countertop) UpdateTopology() error {
	return c.life.require("Countertop", "UpdateTopology", func() error {
		return c.apply(c.Stations())
	}, StateStopped)
}

// apply generates a topology for stations and installs it. Workers for all
// stations are built before any station is touched.
func (c *Countertop) apply(stations []*Station) error {
	t, err := NewTopology(stations, WithLogger(c.cfg.logger))
	if err != nil {
		return err
	}

	prepared := make([][]*Worker, len(stations))
	for i, st := range stations {
		if st.State() != StateStopped {
			return errors.NewStateError("Station", "InvokeTopology", st.State().String(), StateStopped.String())
		}
		if prepared[i], err = st.prepare(t); err != nil {
			return err
		}
	}
	for i, st := range stations {
		st.install(prepared[i])
	}

	c.mu.Lock()
	c.stations = stations
	c.topology = t
	c.mu.Unlock()

	c.cfg.metrics.RecordStreams(t.Len())
	c.logger.Info("topology updated", "stations", len(stations), "streams", t.Len(), "retained", len(t.retained))
	return nil
}

// Start starts every station concurrently. If any station fails, the
// coordinator becomes errored and stops the stations again.
func (c *Countertop) Start(ctx context.Context) error {
	if err := c.life.transition("Countertop", "Start", StateStarting, StateStopped); err != nil {
		return err
	}
	c.announce(StateStarting)

	stations := c.Stations()
	err := fanOut(ctx, stations, func(ctx context.Context, s *Station) error { return s.Start(ctx) })
	if err != nil {
		c.life.fail(err)
		c.announce(StateErrored)
		if stopErr := fanOut(ctx, stations, func(ctx context.Context, s *Station) error { return s.Stop(ctx) }); stopErr != nil {
			c.logger.Warn("cleanup after failed start incomplete", "error", stopErr)
		}
		return errors.Wrap(err, "Countertop", "Start", "start stations")
	}

	c.life.set(StateStarted)
	c.announce(StateStarted)
	return nil
}

// Stop stops every station concurrently. An errored coordinator may be
// stopped to retry cleanup.
func (c *Countertop) Stop(ctx context.Context) error {
	if err := c.life.transition("Countertop", "Stop", StateStopping, StateStarted, StateErrored); err != nil {
		return err
	}
	c.announce(StateStopping)

	err := fanOut(ctx, c.Stations(), func(ctx context.Context, s *Station) error { return s.Stop(ctx) })
	if err != nil {
		c.life.fail(err)
		c.announce(StateErrored)
		return errors.Wrap(err, "Countertop", "Stop", "stop stations")
	}
	c.life.set(StateStopped)
	c.announce(StateStopped)
	return nil
}

// Health reports the coordinator and each station. Started is healthy,
// errored is unhealthy and anything else is degraded.
func (c *Countertop) Health() health.Status {
	stations := c.Stations()
	subs := make([]health.Status, 0, len(stations))
	for _, st := range stations {
		workers := st.Workers()
		buffered := 0
		for _, w := range workers {
			buffered += w.Buffered()
		}
		state, cause := st.life.snapshot()
		subs = append(subs, stateHealth(st.Name(), state, cause).
			WithMetrics(&health.Metrics{Workers: len(workers), Buffered: buffered}))
	}

	status := health.Aggregate("countertop", subs)
	state, cause := c.life.snapshot()
	if own := stateHealth("countertop", state, cause); own.Level > status.Level {
		own.SubStatuses = status.SubStatuses
		return own
	}
	return status
}

func stateHealth(name string, s State, cause error) health.Status {
	switch s {
	case StateStarted:
		return health.New(name, health.Healthy, s.String())
	case StateErrored:
		if cause != nil {
			return health.FromError(name, cause)
		}
		return health.New(name, health.Unhealthy, s.String())
	default:
		return health.New(name, health.Degraded, s.String())
	}
}

func (c *Countertop) announce(st State) {
	c.logger.Info("coordinator state changed", "state", st.String())
	c.cfg.metrics.RecordCoordinatorState(int(st))
	c.events.emit(Event{Type: EventState, State: st})
}
