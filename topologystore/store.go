package topologystore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/natsclient"
)

// DefaultBucket is the KV bucket snapshots are kept in.
const DefaultBucket = "countertop_topologies"

// Bucket is the key-value surface the store needs. *natsclient.KVStore
// implements it.
type Bucket interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Store persists topology snapshots with optimistic versioning.
type Store struct {
	kv  Bucket
	now func() time.Time
}

// New creates a store over kv.
func New(kv Bucket) *Store {
	return &Store{kv: kv, now: time.Now}
}

// NewStore creates, or opens, bucket on client and returns a store over it.
func NewStore(ctx context.Context, client *natsclient.Client, bucket string) (*Store, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "topologystore", "NewStore", "nats client cannot be nil")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}

	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Countertop topology snapshots",
		History:     10,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "topologystore", "NewStore", "create KV bucket")
	}
	return New(client.NewKVStore(kv)), nil
}

// Save writes snap. A snapshot with version 0 is created and must not
// exist yet; otherwise snap.Version must match the stored version. On
// success snap carries its new version and timestamps.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.WrapInvalid(errors.ErrValidation, "topologystore", "Save", "snapshot cannot be nil")
	}
	if err := snap.Validate(); err != nil {
		return err
	}

	if snap.Version == 0 {
		return s.create(ctx, snap)
	}
	return s.update(ctx, snap)
}

func (s *Store) create(ctx context.Context, snap *Snapshot) error {
	next := *snap
	next.Version = 1
	next.CreatedAt = s.now()
	next.UpdatedAt = next.CreatedAt

	data, err := json.Marshal(&next)
	if err != nil {
		return errors.WrapFatal(err, "topologystore", "Save", "marshal snapshot")
	}
	if _, err := s.kv.Create(ctx, snap.ID, data); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			return errors.WrapInvalid(err, "topologystore", "Save", "snapshot already exists")
		}
		return errors.WrapTransient(err, "topologystore", "Save", "create in KV")
	}
	*snap = next
	return nil
}

func (s *Store) update(ctx context.Context, snap *Snapshot) error {
	current, revision, err := s.get(ctx, snap.ID)
	if err != nil {
		return err
	}
	if current.Version != snap.Version {
		return errors.WrapInvalid(
			fmt.Errorf("%w: version mismatch: expected %d, got %d", errors.ErrConflict, current.Version, snap.Version),
			"topologystore", "Save", "conflict: snapshot was modified concurrently")
	}

	next := *snap
	next.Version++
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now()

	data, err := json.Marshal(&next)
	if err != nil {
		return errors.WrapFatal(err, "topologystore", "Save", "marshal snapshot")
	}
	// The revision check catches writers that raced past the version check.
	if _, err := s.kv.Update(ctx, snap.ID, data, revision); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			return errors.WrapInvalid(err, "topologystore", "Save", "conflict: snapshot was modified concurrently")
		}
		return errors.WrapTransient(err, "topologystore", "Save", "update in KV")
	}
	*snap = next
	return nil
}

// Get reads a snapshot by ID.
func (s *Store) Get(ctx context.Context, id string) (*Snapshot, error) {
	snap, _, err := s.get(ctx, id)
	return snap, err
}

func (s *Store) get(ctx context.Context, id string) (*Snapshot, uint64, error) {
	if id == "" {
		return nil, 0, errors.WrapInvalid(errors.ErrValidation, "topologystore", "Get", "snapshot ID cannot be empty")
	}
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		return nil, 0, errors.Wrap(err, "topologystore", "Get", "get from KV")
	}

	var snap Snapshot
	if err := json.Unmarshal(entry.Value, &snap); err != nil {
		return nil, 0, errors.WrapFatal(err, "topologystore", "Get", "unmarshal snapshot")
	}
	return &snap, entry.Revision, nil
}

// List returns every snapshot ordered by ID.
func (s *Store) List(ctx context.Context) ([]*Snapshot, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "topologystore", "List", "list KV keys")
	}
	slices.Sort(keys)

	snaps := make([]*Snapshot, 0, len(keys))
	for _, key := range keys {
		snap, err := s.Get(ctx, key)
		if err != nil {
			return nil, errors.Wrap(err, "topologystore", "List", "get snapshot "+key)
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Delete removes a snapshot. A missing snapshot is errors.ErrKeyNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.WrapInvalid(errors.ErrValidation, "topologystore", "Delete", "snapshot ID cannot be empty")
	}
	if err := s.kv.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "topologystore", "Delete", "delete from KV")
	}
	return nil
}
