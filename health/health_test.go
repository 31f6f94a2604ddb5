package health

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want Level
	}{
		{"empty", nil, Healthy},
		{"all healthy", []Status{New("a", Healthy, ""), New("b", Healthy, "")}, Healthy},
		{"one degraded", []Status{New("a", Healthy, ""), New("b", Degraded, "")}, Degraded},
		{"unhealthy wins", []Status{New("a", Degraded, ""), New("b", Unhealthy, "")}, Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("countertop", tt.subs)
			assert.Equal(t, tt.want, got.Level)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in      string
		hidden  []string
		visible []string
	}{
		{
			in:      "dial nats://admin:pw@10.0.0.4:4222 failed",
			hidden:  []string{"admin:pw", "10.0.0.4"},
			visible: []string{"dial", "[URL]"},
		},
		{
			in:      "auth failed, token=abc123",
			hidden:  []string{"abc123"},
			visible: []string{"token=[REDACTED]"},
		},
		{
			in:      "open /var/lib/countertop/input.txt: no such file",
			hidden:  []string{"/var/lib"},
			visible: []string{"[PATH]", "no such file"},
		},
		{
			in:      "connection refused by 192.168.1.10:4222",
			hidden:  []string{"192.168.1.10"},
			visible: []string{"[ADDR]"},
		},
	}
	for _, tt := range tests {
		got := Sanitize(tt.in)
		for _, h := range tt.hidden {
			assert.NotContains(t, got, h, tt.in)
		}
		for _, v := range tt.visible {
			assert.Contains(t, got, v, tt.in)
		}
	}
}

func TestFromError(t *testing.T) {
	s := FromError("broker", errors.New("timeout reaching 10.0.0.4:4222"))
	assert.True(t, s.IsUnhealthy())
	assert.Equal(t, "timeout reaching [ADDR]", s.Message)

	assert.True(t, FromError("broker", nil).IsHealthy())
}

func TestStatus_JSON(t *testing.T) {
	s := New("station", Degraded, "starting").WithMetrics(&Metrics{Workers: 2})

	raw, err := json.Marshal(s)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "degraded", got["status"])
	assert.Equal(t, false, got["healthy"])
	assert.Equal(t, float64(2), got["metrics"].(map[string]any)["workers"])
}

func TestWithSubStatus_DoesNotAlias(t *testing.T) {
	base := New("root", Healthy, "")
	a := base.WithSubStatus(New("a", Healthy, ""))
	b := base.WithSubStatus(New("b", Degraded, ""))
	assert.Empty(t, base.SubStatuses)
	assert.Equal(t, "a", a.SubStatuses[0].Component)
	assert.Equal(t, "b", b.SubStatuses[0].Component)
}
