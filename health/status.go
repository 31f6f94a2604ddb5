package health

import (
	"encoding/json"
	"regexp"
	"time"
)

// Level orders health from best to worst.
type Level int

const (
	Healthy Level = iota
	Degraded
	Unhealthy
)

func (l Level) String() string {
	switch l {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// MarshalText renders the level by name.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// Status is the health of one node in the tree.
type Status struct {
	Component   string    `json:"component"`
	Level       Level     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics is optional activity data attached to a station's status.
type Metrics struct {
	Workers  int `json:"workers"`
	Buffered int `json:"buffered,omitempty"`
}

// New builds a status stamped with the current time.
func New(component string, level Level, message string) Status {
	return Status{Component: component, Level: level, Message: message, Timestamp: time.Now()}
}

func (s Status) IsHealthy() bool   { return s.Level == Healthy }
func (s Status) IsDegraded() bool  { return s.Level == Degraded }
func (s Status) IsUnhealthy() bool { return s.Level == Unhealthy }

// MarshalJSON adds the derived "healthy" flag load balancers key on.
func (s Status) MarshalJSON() ([]byte, error) {
	type plain Status
	return json.Marshal(struct {
		plain
		Healthy bool `json:"healthy"`
	}{plain(s), s.IsHealthy()})
}

// WithMetrics returns a copy carrying m.
func (s Status) WithMetrics(m *Metrics) Status {
	s.Metrics = m
	return s
}

// WithSubStatus returns a copy with sub appended. The receiver's slice is
// never shared with the result.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, 0, len(s.SubStatuses)+1)
	s.SubStatuses = append(append(subs, s.SubStatuses...), sub)
	return s
}

// Aggregate reports component at the worst level among subs. An empty
// set is healthy.
func Aggregate(component string, subs []Status) Status {
	worst := Healthy
	for _, sub := range subs {
		worst = max(worst, sub.Level)
	}
	msg := "all stations healthy"
	switch {
	case len(subs) == 0:
		msg = "no stations"
	case worst == Degraded:
		msg = "one or more stations degraded"
	case worst == Unhealthy:
		msg = "one or more stations unhealthy"
	}
	out := New(component, worst, msg)
	if len(subs) > 0 {
		out.SubStatuses = append([]Status(nil), subs...)
	}
	return out
}

// FromError reports component unhealthy with err's sanitized message, or
// healthy with "ok" when err is nil.
func FromError(component string, err error) Status {
	if err == nil {
		return New(component, Healthy, "ok")
	}
	return New(component, Unhealthy, Sanitize(err.Error()))
}

// Replacements run in order; URLs go before paths since URLs contain them.
var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s,]+`), "[URL]"},
	{regexp.MustCompile(`(?i)\b(password|passwd|token|secret|credential|key)\s*[:=]\s*[^,\s}]+`), "$1=[REDACTED]"},
	{regexp.MustCompile(`(?:/[\w.-]+){2,}`), "[PATH]"},
	{regexp.MustCompile(`[A-Za-z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}(?::\d{1,5})?\b`), "[ADDR]"},
}

// Sanitize strips URLs, credentials, file paths and addresses from msg so
// broker and appliance errors can be shown on an unauthenticated endpoint.
func Sanitize(msg string) string {
	for _, r := range redactions {
		msg = r.re.ReplaceAllString(msg, r.with)
	}
	return msg
}
