package countertop

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/c360/countertop/errors"
)

// Stream is one path through the station graph: a mouth station fed by at
// most one tributary stream per input type, all tracing back to a single
// source station. Streams are immutable.
type Stream struct {
	id          string
	mouth       *Station
	tributaries map[string]*Stream
	source      *Station
	length      int
}

// NewStream builds a stream ending at mouth. Every tributary key must be
// one of the mouth's input types and all tributaries must share a source.
// A mouth without input types is a source and takes no tributaries; any
// other mouth needs at least one.
func NewStream(mouth *Station, tributaries map[string]*Stream) (*Stream, error) {
	if mouth == nil {
		return nil, errors.NewValidationError("Stream", "NewStream", "stream needs a mouth station")
	}
	inputs := mouth.InputTypes()

	s := &Stream{
		id:          "Stream::" + uuid.NewString(),
		mouth:       mouth,
		tributaries: make(map[string]*Stream, len(tributaries)),
		length:      1,
	}

	var undeclared []string
	for typ, trib := range tributaries {
		if trib == nil {
			return nil, errors.NewValidationError("Stream", "NewStream", "nil tributary", "type "+typ)
		}
		if !slices.Contains(inputs, typ) {
			undeclared = append(undeclared, typ)
			continue
		}
		s.tributaries[typ] = trib
		s.length = max(s.length, trib.length+1)
	}
	if len(undeclared) > 0 {
		slices.Sort(undeclared)
		return nil, errors.NewValidationError("Stream", "NewStream",
			fmt.Sprintf("tributary types not accepted by %s", mouth.Name()), undeclared...)
	}

	if len(inputs) == 0 {
		if len(s.tributaries) > 0 {
			return nil, errors.NewValidationError("Stream", "NewStream", "source station takes no tributaries")
		}
		s.source = mouth
		return s, nil
	}
	if len(s.tributaries) == 0 {
		return nil, errors.NewValidationError("Stream", "NewStream",
			fmt.Sprintf("%s needs at least one tributary", mouth.Name()))
	}

	for _, trib := range s.tributaries {
		if s.source == nil {
			s.source = trib.source
			continue
		}
		if trib.source != s.source {
			return nil, errors.NewValidationError("Stream", "NewStream", "tributaries trace back to different sources",
				s.source.ID(), trib.source.ID())
		}
	}
	return s, nil
}

// ID is the stream's unique identity.
func (s *Stream) ID() string { return s.id }

// Mouth is the station the stream ends at.
func (s *Stream) Mouth() *Station { return s.mouth }

// Source is the station the stream starts at.
func (s *Stream) Source() *Station { return s.source }

// Length is the number of stations on the longest path through the stream.
func (s *Stream) Length() int { return s.length }

// Tributary returns the stream supplying dataType, or nil.
func (s *Stream) Tributary(dataType string) *Stream { return s.tributaries[dataType] }

// Tributaries returns a copy of the tributary map.
func (s *Stream) Tributaries() map[string]*Stream { return maps.Clone(s.tributaries) }

// TributaryTypes lists the satisfied input types in order.
func (s *Stream) TributaryTypes() []string {
	return slices.Sorted(maps.Keys(s.tributaries))
}

// OutputTypes are the mouth station's output types.
func (s *Stream) OutputTypes() []string { return s.mouth.OutputTypes() }

// IncludesStation reports whether st is the mouth of s or of any stream
// upstream of it.
func (s *Stream) IncludesStation(st *Station) bool {
	if s.mouth == st {
		return true
	}
	for _, t := range s.tributaries {
		if t.IncludesStation(st) {
			return true
		}
	}
	return false
}

// IncludesStream reports whether other is a tributary of s, directly or
// further upstream. A stream does not include itself.
func (s *Stream) IncludesStream(other *Stream) bool {
	for _, t := range s.tributaries {
		if t == other || t.IncludesStream(other) {
			return true
		}
	}
	return false
}

// subsumes reports whether s has every tributary of other, plus more, for
// the same mouth and source.
func (s *Stream) subsumes(other *Stream) bool {
	if s.mouth != other.mouth || s.source != other.source || len(s.tributaries) <= len(other.tributaries) {
		return false
	}
	for typ, t := range other.tributaries {
		if s.tributaries[typ] != t {
			return false
		}
	}
	return true
}

// String renders the path using station names, e.g.
// "Merge(TEXT.ATOM:Split(Reader), TEXT.WORD:Reader)".
func (s *Stream) String() string {
	if len(s.tributaries) == 0 {
		return s.mouth.Name()
	}
	parts := make([]string, 0, len(s.tributaries))
	for _, typ := range s.TributaryTypes() {
		parts = append(parts, typ+":"+s.tributaries[typ].String())
	}
	return s.mouth.Name() + "(" + strings.Join(parts, ", ") + ")"
}
