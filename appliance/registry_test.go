package appliance

import (
	"context"
	"testing"

	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopAppliance struct{}

func (nopAppliance) HealthCheck(context.Context) bool  { return true }
func (nopAppliance) CheckPayload(payload.Payload) bool { return true }
func (nopAppliance) Start(context.Context) bool        { return true }
func (nopAppliance) Stop(context.Context) bool         { return true }
func (nopAppliance) Invoke(_ context.Context, buf *payload.Array, _ Emitter) (*payload.Array, error) {
	return buf, nil
}

func nopFactory(Settings) (Appliance, error) { return nopAppliance{}, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(Descriptor{Name: "B", Factory: nopFactory}))
	require.NoError(t, r.Register(Descriptor{Name: "A", InputTypes: []string{"X"}, Factory: nopFactory}))

	err := r.Register(Descriptor{Name: "A", Factory: nopFactory})
	assert.ErrorIs(t, err, errors.ErrDuplicateRegister)

	err = r.Register(Descriptor{Name: "C"})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	err = r.Register(Descriptor{Name: "D", OutputTypes: []string{""}, Factory: nopFactory})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	d, err := r.Lookup("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"X"}, d.InputTypes)

	_, err = r.Lookup("missing")
	assert.ErrorIs(t, err, errors.ErrUnknownAppliance)

	names := []string{}
	for _, d := range r.Descriptors() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"A", "B"}, names)
}

func TestDescriptor_TypeFilters(t *testing.T) {
	d := Descriptor{
		Name:        "Complex",
		InputTypes:  []string{payload.TypeTextAtom, payload.TypeImageJPEG},
		OutputTypes: []string{payload.TypeTextWord, payload.TypeTextSentence},
		Factory:     nopFactory,
	}

	assert.Equal(t, d.InputTypes, d.Inputs(Settings{}))
	assert.Equal(t, []string{payload.TypeImageJPEG}, d.Inputs(Settings{InputTypeFilter: []string{payload.TypeImageJPEG, "UNDECLARED"}}))
	assert.Equal(t, []string{payload.TypeTextSentence}, d.Outputs(Settings{OutputTypeFilter: []string{payload.TypeTextSentence}}))
	assert.Empty(t, d.Inputs(Settings{InputTypeFilter: []string{}}))
	assert.Empty(t, d.Outputs(Settings{OutputTypeFilter: []string{}}))

	// Filtering never aliases the descriptor's slices.
	in := d.Inputs(Settings{})
	in[0] = "mutated"
	assert.Equal(t, payload.TypeTextAtom, d.InputTypes[0])
}

func TestSettings_Decode(t *testing.T) {
	var cfg struct {
		Path  string `json:"path"`
		Limit int    `json:"limit"`
	}
	s := Settings{Config: map[string]any{"path": "/tmp/x", "limit": 3}}
	require.NoError(t, s.Decode(&cfg))
	assert.Equal(t, "/tmp/x", cfg.Path)
	assert.Equal(t, 3, cfg.Limit)

	require.NoError(t, Settings{}.Decode(&cfg))
}
