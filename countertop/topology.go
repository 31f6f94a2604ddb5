package countertop

import (
	"log/slog"
	"slices"
)

// Topology is the set of streams generated from a set of stations. It is
// immutable; adding a station means generating a new one.
type Topology struct {
	stations []*Station
	streams  []*Stream
	retained []*Stream
}

// NewTopology generates the streams for stations.
func NewTopology(stations []*Station, opts ...Option) (*Topology, error) {
	cfg := newConfig(opts)
	streams, retained, err := generate(stations, cfg.logger)
	if err != nil {
		return nil, err
	}
	return &Topology{
		stations: slices.Clone(stations),
		streams:  streams,
		retained: retained,
	}, nil
}

// GenerateStreams returns every stream through stations.
func GenerateStreams(stations []*Station, opts ...Option) ([]*Stream, error) {
	streams, _, err := generate(stations, newConfig(opts).logger)
	return streams, err
}

// Stations are the stations the topology was built from.
func (t *Topology) Stations() []*Station { return slices.Clone(t.stations) }

// Streams are all generated streams, sources first, then by length.
func (t *Topology) Streams() []*Stream { return slices.Clone(t.streams) }

// Len is the number of streams.
func (t *Topology) Len() int { return len(t.streams) }

// StreamsForMouth returns the streams ending at st.
func (t *Topology) StreamsForMouth(st *Station) []*Stream {
	var out []*Stream
	for _, s := range t.streams {
		if s.mouth == st {
			out = append(out, s)
		}
	}
	return out
}

// Stream finds a stream by id.
func (t *Topology) Stream(id string) (*Stream, bool) {
	for _, s := range t.streams {
		if s.id == id {
			return s, true
		}
	}
	return nil, false
}

// Retained lists streams that a more complete stream subsumes but which
// could not be dropped, because rebuilding what depends on them on top of
// the more complete stream would revisit a station. Such streams are kept
// and reported here rather than silently resolved.
func (t *Topology) Retained() []*Stream { return slices.Clone(t.retained) }

// generate expands streams breadth first. Sources seed the set; each round
// builds, for every station consuming something the current streams
// produce, all single-source tributary combinations, and keeps the ones
// exactly one longer than the current longest stream. Partial streams
// subsumed by a new stream are then pruned together with the streams built
// on them, which later rounds rebuild on the subsuming stream.
func generate(stations []*Station, logger *slog.Logger) (streams, retained []*Stream, err error) {
	var result []*Stream
	for _, st := range stations {
		if len(st.InputTypes()) > 0 {
			continue
		}
		s, err := NewStream(st, nil)
		if err != nil {
			return nil, nil, err
		}
		result = append(result, s)
	}

	flagged := make(map[*Stream]bool)
	for len(result) > 0 {
		extLen := 1 + longest(result)
		produced := producedTypes(result)

		var next []*Stream
		for _, st := range stations {
			if !slices.ContainsFunc(st.InputTypes(), func(t string) bool { return produced[t] }) {
				continue
			}
			built, err := expand(st, result, extLen)
			if err != nil {
				return nil, nil, err
			}
			next = append(next, built...)
		}
		if len(next) == 0 {
			break
		}

		result, next = prune(result, next, flagged, logger)
		if len(next) == 0 {
			break
		}
		result = append(result, next...)
	}

	for _, s := range result {
		if flagged[s] {
			retained = append(retained, s)
		}
	}
	return result, retained, nil
}

func longest(streams []*Stream) int {
	n := 0
	for _, s := range streams {
		n = max(n, s.length)
	}
	return n
}

func producedTypes(streams []*Stream) map[string]bool {
	out := make(map[string]bool)
	for _, s := range streams {
		for _, t := range s.OutputTypes() {
			out[t] = true
		}
	}
	return out
}

// expand builds the streams of length extLen ending at st from pool. Each
// combination draws its tributaries from one source; an input type with no
// candidate from that source is left out of the combination.
func expand(st *Station, pool []*Stream, extLen int) ([]*Stream, error) {
	var sources []*Station
	for _, s := range pool {
		if !slices.Contains(sources, s.source) {
			sources = append(sources, s.source)
		}
	}

	var out []*Stream
	for _, src := range sources {
		var types []string
		var candidates [][]*Stream
		for _, typ := range st.InputTypes() {
			var cands []*Stream
			for _, s := range pool {
				if s.source == src && slices.Contains(s.OutputTypes(), typ) && !s.IncludesStation(st) {
					cands = append(cands, s)
				}
			}
			if len(cands) > 0 {
				types = append(types, typ)
				candidates = append(candidates, cands)
			}
		}
		if len(types) == 0 {
			continue
		}

		for _, combo := range product(candidates) {
			if 1+longest(combo) != extLen {
				continue
			}
			tribs := make(map[string]*Stream, len(types))
			for i, typ := range types {
				tribs[typ] = combo[i]
			}
			s, err := NewStream(st, tribs)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}

// product is the cartesian product of sets, in order.
func product(sets [][]*Stream) [][]*Stream {
	out := [][]*Stream{nil}
	for _, set := range sets {
		grown := make([][]*Stream, 0, len(out)*len(set))
		for _, prefix := range out {
			for _, s := range set {
				grown = append(grown, append(slices.Clip(prefix), s))
			}
		}
		out = grown
	}
	return out
}

// prune drops streams subsumed by a stream in next, and every stream built
// on them, from both result and next. A subsumed stream is kept, and
// flagged, when some stream built on it passes through a station the
// subsuming stream already contains.
func prune(result, next []*Stream, flagged map[*Stream]bool, logger *slog.Logger) ([]*Stream, []*Stream) {
	all := slices.Concat(result, next)
	drop := make(map[*Stream]bool)

	for _, n := range next {
		for _, p := range all {
			if drop[n] || drop[p] || !n.subsumes(p) || n.IncludesStream(p) {
				continue
			}

			var deps []*Stream
			replaceable := true
			for _, q := range all {
				if drop[q] || !q.IncludesStream(p) {
					continue
				}
				deps = append(deps, q)
				for _, m := range pathMouths(q, p) {
					if n.IncludesStation(m) {
						replaceable = false
					}
				}
			}

			if !replaceable {
				if !flagged[p] {
					flagged[p] = true
					logger.Warn("subsumed stream is still required downstream, keeping it",
						"stream", p.String(), "subsumed_by", n.String())
				}
				continue
			}
			drop[p] = true
			for _, q := range deps {
				drop[q] = true
			}
		}
	}

	dropped := func(s *Stream) bool { return drop[s] }
	return slices.DeleteFunc(result, dropped), slices.DeleteFunc(next, dropped)
}

// pathMouths lists the mouths of the streams on paths from q down to p,
// p excluded.
func pathMouths(q, p *Stream) []*Station {
	var out []*Station
	var walk func(s *Stream) bool
	walk = func(s *Stream) bool {
		if s == p {
			return true
		}
		leads := false
		for _, t := range s.tributaries {
			if walk(t) {
				leads = true
			}
		}
		if leads {
			out = append(out, s.mouth)
		}
		return leads
	}
	walk(q)
	return out
}
