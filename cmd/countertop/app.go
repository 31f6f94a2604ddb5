package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/countertop/appliance"
	"github.com/c360/countertop/appliance/builtin"
	"github.com/c360/countertop/broker"
	"github.com/c360/countertop/broker/jetstream"
	"github.com/c360/countertop/broker/memory"
	"github.com/c360/countertop/config"
	"github.com/c360/countertop/countertop"
	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/metric"
	"github.com/c360/countertop/natsclient"
	"github.com/c360/countertop/payload"
	"github.com/c360/countertop/pkg/retry"
	"github.com/c360/countertop/pkg/tlsutil"
	"github.com/c360/countertop/topologystore"
)

// newApplianceRegistry returns a registry holding the built-in appliances.
func newApplianceRegistry() (*appliance.Registry, error) {
	r := appliance.NewRegistry()
	if err := builtin.Register(r); err != nil {
		return nil, err
	}
	return r, nil
}

// newBroker selects the broker named by cfg.Broker.Kind.
func newBroker(cfg *config.Config, logger *slog.Logger) (broker.Broker, error) {
	if cfg.Broker.Kind != config.BrokerNATS {
		return memory.New(), nil
	}
	clientOpts, err := natsOptions(cfg)
	if err != nil {
		return nil, err
	}
	return jetstream.New(strings.Join(cfg.Broker.URLs, ","),
		jetstream.WithClientOptions(clientOpts...),
		jetstream.WithLogger(logger),
	), nil
}

// natsOptions carries broker credentials and TLS to every NATS client.
func natsOptions(cfg *config.Config) ([]natsclient.ClientOption, error) {
	var opts []natsclient.ClientOption
	if cfg.Broker.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Broker.Token))
	}
	tlsCfg, err := tlsutil.LoadClientConfig(cfg.Broker.TLS)
	if err != nil {
		return nil, fmt.Errorf("broker tls: %w", err)
	}
	if tlsCfg != nil {
		opts = append(opts, natsclient.WithTLSConfig(tlsCfg))
	}
	return opts, nil
}

// buildCountertop creates a Countertop on b and adds one station per
// configured appliance, in configuration order.
func buildCountertop(cfg *config.Config, b broker.Broker, opts ...countertop.Option) (*countertop.Countertop, error) {
	registry, err := newApplianceRegistry()
	if err != nil {
		return nil, err
	}
	codec, ok := payload.CodecByName(cfg.Broker.Codec)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "main", "buildCountertop", "codec "+cfg.Broker.Codec)
	}

	base := []countertop.Option{
		countertop.WithRegistry(registry),
		countertop.WithCodec(codec),
		countertop.WithRetention(cfg.Broker.Retention),
	}
	ct := countertop.New(b, append(base, opts...)...)
	for i, a := range cfg.Appliances {
		if _, err := ct.AddApplianceByName(a.Class, a.Settings()); err != nil {
			return nil, fmt.Errorf("appliances[%d] (%s): %w", i, a.Class, err)
		}
	}
	return ct, nil
}

// openStore connects a dedicated client for the topology store. The
// caller closes the returned client.
func openStore(ctx context.Context, cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*topologystore.Store, *natsclient.Client, error) {
	opts, err := natsOptions(cfg)
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts,
		natsclient.WithName(cfg.Broker.ClientID+"-store"),
		natsclient.WithLogger(logger),
	)
	if registry != nil {
		opts = append(opts, natsclient.WithMetrics(registry, 15*time.Second))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.Broker.URLs, ","), opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := client.ConnectWithRetry(ctx, retry.Quick()); err != nil {
		return nil, nil, fmt.Errorf("connect topology store: %w", err)
	}
	store, err := topologystore.NewStore(ctx, client, cfg.Store.Bucket)
	if err != nil {
		_ = client.Close(ctx)
		return nil, nil, err
	}
	return store, client, nil
}

// saveTopology records t under id, creating or replacing the snapshot.
func saveTopology(ctx context.Context, store *topologystore.Store, id string, t *countertop.Topology) (*topologystore.Snapshot, error) {
	snap := topologystore.FromTopology(id, t)
	current, err := store.Get(ctx, id)
	switch {
	case err == nil:
		snap.Version = current.Version
	case !errors.Is(err, errors.ErrKeyNotFound):
		return nil, err
	}
	if err := store.Save(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
