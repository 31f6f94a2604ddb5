package payload

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/c360/countertop/errors"
)

// TimestampLayout is the ISO-8601 layout used for CreatedAt, millisecond
// precision in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Params are the construction parameters of a Payload.
type Params struct {
	Data      []byte
	Type      string
	CreatedAt string // ISO-8601; empty means now
	Origin    string
	Duration  int64 // milliseconds
	Position  int64 // milliseconds within Origin's timeline
}

// Payload is the unit of data exchanged between appliances. It is
// immutable after construction: every accessor returns a value, and
// transformations build a new Payload.
//
// The zero value is not a valid Payload. Use New.
type Payload struct {
	data      []byte
	typ       string
	createdAt string
	origin    string
	duration  int64
	position  int64
}

// New validates params and builds a Payload.
func New(params Params) (Payload, error) {
	if params.CreatedAt == "" {
		params.CreatedAt = time.Now().UTC().Format(TimestampLayout)
	}

	if details := validate(params); len(details) > 0 {
		return Payload{}, errors.NewValidationError("payload", "New", "invalid payload parameters", details...)
	}

	data := []byte{}
	if len(params.Data) > 0 {
		data = bytes.Clone(params.Data)
	}

	return Payload{
		data:      data,
		typ:       params.Type,
		createdAt: params.CreatedAt,
		origin:    params.Origin,
		duration:  params.Duration,
		position:  params.Position,
	}, nil
}

// MustNew is New for static construction; it panics on invalid params.
func MustNew(params Params) Payload {
	p, err := New(params)
	if err != nil {
		panic(err)
	}
	return p
}

func validate(params Params) []string {
	var details []string
	if params.Type == "" {
		details = append(details, "type is required")
	}
	if _, err := time.Parse(time.RFC3339Nano, params.CreatedAt); err != nil {
		details = append(details, "createdAt must be an ISO-8601 timestamp")
	}
	if params.Duration < 0 {
		details = append(details, "duration must not be negative")
	}
	// Both wire formats carry strings as UTF-8; createdAt is covered by
	// the timestamp parse.
	if !utf8.ValidString(params.Type) {
		details = append(details, "type must be valid UTF-8")
	}
	if !utf8.ValidString(params.Origin) {
		details = append(details, "origin must be valid UTF-8")
	}
	return details
}

// Valid reports whether p was built by New.
func (p Payload) Valid() bool {
	return p.typ != "" && p.createdAt != ""
}

// Data returns a copy of the payload bytes.
func (p Payload) Data() []byte {
	return bytes.Clone(p.data)
}

// Len returns the number of payload bytes.
func (p Payload) Len() int {
	return len(p.data)
}

func (p Payload) Type() string      { return p.typ }
func (p Payload) CreatedAt() string { return p.createdAt }
func (p Payload) Origin() string    { return p.origin }
func (p Payload) Duration() int64   { return p.duration }
func (p Payload) Position() int64   { return p.position }

// End is the position immediately after this payload.
func (p Payload) End() int64 {
	return p.position + p.duration
}

// CreatedTime parses CreatedAt.
func (p Payload) CreatedTime() time.Time {
	t, _ := time.Parse(time.RFC3339Nano, p.createdAt)
	return t
}

// Params returns the construction parameters that reproduce p.
func (p Payload) Params() Params {
	return Params{
		Data:      p.Data(),
		Type:      p.typ,
		CreatedAt: p.createdAt,
		Origin:    p.origin,
		Duration:  p.duration,
		Position:  p.position,
	}
}

// WithOrigin returns a copy of p stamped with origin. Invalid UTF-8 in
// origin is replaced with U+FFFD.
func (p Payload) WithOrigin(origin string) Payload {
	out := p
	out.origin = strings.ToValidUTF8(origin, "\uFFFD")
	return out
}
