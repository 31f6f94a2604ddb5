package testutil

import (
	"github.com/c360/countertop/payload"
)

// FixedTime is the CreatedAt stamp of every fixture payload.
const FixedTime = "2024-03-01T12:00:00.000Z"

// Payload builds a fixture payload; it panics on invalid input.
func Payload(typ string, position int64, data string) payload.Payload {
	return payload.MustNew(payload.Params{
		Data:      []byte(data),
		Type:      typ,
		CreatedAt: FixedTime,
		Origin:    "fixture",
		Duration:  100,
		Position:  position,
	})
}

// Payloads builds one fixture payload per position.
func Payloads(typ string, positions ...int64) []payload.Payload {
	out := make([]payload.Payload, 0, len(positions))
	for _, pos := range positions {
		out = append(out, Payload(typ, pos, "fixture"))
	}
	return out
}
