package topologystore

import (
	"fmt"
	"time"

	"github.com/c360/countertop/countertop"
	"github.com/c360/countertop/errors"
)

// Snapshot is a persisted description of a generated topology: the
// stations it was built from and every stream with its tributaries.
type Snapshot struct {
	// Identity
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`

	// Version for optimistic concurrency control
	Version int64 `json:"version"`

	Stations []StationRecord `json:"stations"`
	Streams  []StreamRecord  `json:"streams"`

	// Audit
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StationRecord describes one station of a snapshot.
type StationRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Appliance   string   `json:"appliance"`
	InputTypes  []string `json:"input_types,omitempty"`
	OutputTypes []string `json:"output_types,omitempty"`
}

// StreamRecord describes one stream. Tributaries maps an input type to
// the id of the stream supplying it.
type StreamRecord struct {
	ID          string            `json:"id"`
	Path        string            `json:"path"`
	Mouth       string            `json:"mouth"`
	Source      string            `json:"source"`
	Length      int               `json:"length"`
	Tributaries map[string]string `json:"tributaries,omitempty"`
	Retained    bool              `json:"retained,omitempty"`
}

// FromTopology captures t under id.
func FromTopology(id string, t *countertop.Topology) *Snapshot {
	snap := &Snapshot{ID: id}

	for _, st := range t.Stations() {
		snap.Stations = append(snap.Stations, StationRecord{
			ID:          st.ID(),
			Name:        st.Name(),
			Appliance:   st.Descriptor().Name,
			InputTypes:  st.InputTypes(),
			OutputTypes: st.OutputTypes(),
		})
	}

	retained := make(map[string]bool)
	for _, s := range t.Retained() {
		retained[s.ID()] = true
	}
	for _, s := range t.Streams() {
		rec := StreamRecord{
			ID:       s.ID(),
			Path:     s.String(),
			Mouth:    s.Mouth().ID(),
			Source:   s.Source().ID(),
			Length:   s.Length(),
			Retained: retained[s.ID()],
		}
		if tribs := s.Tributaries(); len(tribs) > 0 {
			rec.Tributaries = make(map[string]string, len(tribs))
			for typ, trib := range tribs {
				rec.Tributaries[typ] = trib.ID()
			}
		}
		snap.Streams = append(snap.Streams, rec)
	}
	return snap
}

// Validate checks that every stream refers to known stations and streams.
func (s *Snapshot) Validate() error {
	if s.ID == "" {
		return errors.WrapInvalid(fmt.Errorf("snapshot ID cannot be empty"), "topologystore", "Validate", "validation failed")
	}

	stations := make(map[string]bool, len(s.Stations))
	for _, st := range s.Stations {
		if st.ID == "" {
			return errors.NewValidationError("topologystore", "Validate", "station ID cannot be empty")
		}
		if stations[st.ID] {
			return errors.NewValidationError("topologystore", "Validate", "duplicate station", st.ID)
		}
		stations[st.ID] = true
	}

	streams := make(map[string]bool, len(s.Streams))
	for _, rec := range s.Streams {
		streams[rec.ID] = true
	}
	for _, rec := range s.Streams {
		if !stations[rec.Mouth] || !stations[rec.Source] {
			return errors.NewValidationError("topologystore", "Validate",
				"stream references an unknown station", rec.ID)
		}
		for typ, id := range rec.Tributaries {
			if !streams[id] {
				return errors.NewValidationError("topologystore", "Validate",
					"stream references an unknown tributary", rec.ID, typ+" -> "+id)
			}
		}
	}
	return nil
}

// StreamsForMouth returns the records of streams ending at stationID.
func (s *Snapshot) StreamsForMouth(stationID string) []StreamRecord {
	var out []StreamRecord
	for _, rec := range s.Streams {
		if rec.Mouth == stationID {
			out = append(out, rec)
		}
	}
	return out
}
