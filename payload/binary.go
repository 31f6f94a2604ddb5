package payload

import (
	"github.com/c360/countertop/errors"
	"github.com/hamba/avro/v2"
)

// BinarySchema is the Avro record carried on broker topics. Field order is
// part of the wire format.
const BinarySchema = `{
  "type": "record",
  "name": "Payload",
  "fields": [
    {"name": "data", "type": "bytes"},
    {"name": "type", "type": "string"},
    {"name": "createdAt", "type": "string"},
    {"name": "origin", "type": "string"},
    {"name": "duration", "type": "long"},
    {"name": "position", "type": "long"}
  ]
}`

var binarySchema = avro.MustParse(BinarySchema)

type binaryRecord struct {
	Data      []byte `avro:"data"`
	Type      string `avro:"type"`
	CreatedAt string `avro:"createdAt"`
	Origin    string `avro:"origin"`
	Duration  int64  `avro:"duration"`
	Position  int64  `avro:"position"`
}

// BinaryCodec encodes payloads with the Avro schema in BinarySchema.
type BinaryCodec struct{}

func (BinaryCodec) Name() string { return "binary" }

func (BinaryCodec) Encode(p Payload) ([]byte, error) {
	if !p.Valid() {
		return nil, errors.NewValidationError("payload", "EncodeBinary", "cannot encode a zero payload")
	}
	data, err := avro.Marshal(binarySchema, binaryRecord{
		Data:      p.data,
		Type:      p.typ,
		CreatedAt: p.createdAt,
		Origin:    p.origin,
		Duration:  p.duration,
		Position:  p.position,
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "payload", "EncodeBinary", "avro marshal")
	}
	return data, nil
}

// Decode fails with a validation error when data is not an Avro Payload
// record, and with a codec integrity error when the record decodes but
// does not satisfy the payload contract.
func (BinaryCodec) Decode(data []byte) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, errors.NewValidationError("payload", "DecodeBinary", "malformed binary payload", "empty input")
	}

	var rec binaryRecord
	if err := avro.Unmarshal(binarySchema, data, &rec); err != nil {
		return Payload{}, errors.NewValidationError("payload", "DecodeBinary", "malformed binary payload", err.Error())
	}

	p, err := New(Params{
		Data:      rec.Data,
		Type:      rec.Type,
		CreatedAt: rec.CreatedAt,
		Origin:    rec.Origin,
		Duration:  rec.Duration,
		Position:  rec.Position,
	})
	if err != nil {
		return Payload{}, errors.CodecIntegrity("payload", "DecodeBinary", err)
	}
	return p, nil
}
