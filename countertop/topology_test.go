package countertop

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(streams []*Stream) []string {
	out := make([]string, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.String())
	}
	slices.Sort(out)
	return out
}

func TestGenerateStreams(t *testing.T) {
	tests := []struct {
		name     string
		stations func(t *testing.T) []*Station
		want     []string
	}{
		{
			name: "empty",
			stations: func(*testing.T) []*Station {
				return nil
			},
			want: []string{},
		},
		{
			name: "chain with dual inputs",
			stations: func(t *testing.T) []*Station {
				return []*Station{
					station(t, "A", nil, []string{"foo"}),
					station(t, "B", []string{"foo"}, []string{"bar"}),
					station(t, "C", []string{"foo", "bar"}, []string{"baz"}),
				}
			},
			want: []string{"A", "B(foo:A)", "C(bar:B(foo:A), foo:A)"},
		},
		{
			name: "partial stream and its dependents are rebuilt",
			stations: func(t *testing.T) []*Station {
				return []*Station{
					station(t, "A", nil, []string{"foo"}),
					station(t, "B", []string{"foo"}, []string{"bar"}),
					station(t, "C", []string{"foo", "bar"}, []string{"baz"}),
					station(t, "D", []string{"baz"}, []string{"out"}),
				}
			},
			want: []string{"A", "B(foo:A)", "C(bar:B(foo:A), foo:A)", "D(baz:C(bar:B(foo:A), foo:A))"},
		},
		{
			name: "unsatisfiable input",
			stations: func(t *testing.T) []*Station {
				return []*Station{
					station(t, "A", nil, []string{"foo"}),
					station(t, "E", []string{"qux"}, []string{"bar"}),
				}
			},
			want: []string{"A"},
		},
		{
			name: "one stream per source",
			stations: func(t *testing.T) []*Station {
				return []*Station{
					station(t, "S1", nil, []string{"foo"}),
					station(t, "S2", nil, []string{"foo"}),
					station(t, "T", []string{"foo"}, []string{"bar"}),
				}
			},
			want: []string{"S1", "S2", "T(foo:S1)", "T(foo:S2)"},
		},
		{
			name: "sources never mix",
			stations: func(t *testing.T) []*Station {
				return []*Station{
					station(t, "S1", nil, []string{"foo"}),
					station(t, "S2", nil, []string{"bar"}),
					station(t, "M", []string{"foo", "bar"}, []string{"baz"}),
				}
			},
			want: []string{"M(bar:S2)", "M(foo:S1)", "S1", "S2"},
		},
		{
			name: "dual outputs feed separate paths",
			stations: func(t *testing.T) []*Station {
				return []*Station{
					station(t, "S", nil, []string{"foo"}),
					station(t, "X", []string{"foo"}, []string{"atom", "word"}),
					station(t, "O", []string{"word"}, []string{"atom"}),
					station(t, "Z", []string{"atom"}, []string{"out"}),
				}
			},
			want: []string{"O(word:X(foo:S))", "S", "X(foo:S)", "Z(atom:O(word:X(foo:S)))", "Z(atom:X(foo:S))"},
		},
		{
			name: "cycle terminates",
			stations: func(t *testing.T) []*Station {
				return []*Station{
					station(t, "S", nil, []string{"foo"}),
					station(t, "L", []string{"foo"}, []string{"foo"}),
				}
			},
			want: []string{"L(foo:S)", "S"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streams, err := GenerateStreams(tt.stations(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(streams))
		})
	}
}

func TestNewTopology_RetainsMutuallyDependentPartials(t *testing.T) {
	stations := []*Station{
		station(t, "S", nil, []string{"foo"}),
		station(t, "X", []string{"foo", "y"}, []string{"x"}),
		station(t, "Y", []string{"foo", "x"}, []string{"y"}),
	}

	topo, err := NewTopology(stations)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"S",
		"X(foo:S)",
		"X(foo:S, y:Y(foo:S))",
		"Y(foo:S)",
		"Y(foo:S, x:X(foo:S))",
	}, paths(topo.Streams()))
	assert.Equal(t, []string{"X(foo:S)", "Y(foo:S)"}, paths(topo.Retained()))
}

func TestTopology_Lookups(t *testing.T) {
	a := station(t, "A", nil, []string{"foo"})
	b := station(t, "B", []string{"foo"}, []string{"bar"})

	topo, err := NewTopology([]*Station{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, topo.Len())
	assert.Len(t, topo.Stations(), 2)
	assert.Empty(t, topo.Retained())

	forB := topo.StreamsForMouth(b)
	require.Len(t, forB, 1)
	assert.Same(t, a, forB[0].Source())

	got, ok := topo.Stream(forB[0].ID())
	require.True(t, ok)
	assert.Same(t, forB[0], got)

	_, ok = topo.Stream("Stream::missing")
	assert.False(t, ok)
}
