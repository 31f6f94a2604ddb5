package payload

import (
	"encoding/json"
	"fmt"

	"github.com/c360/countertop/errors"
	"github.com/xeipuuv/gojsonschema"
)

// bufferTag marks a byte buffer in the text encoding:
// {"type":"Buffer","data":[104,105]}
const bufferTag = "Buffer"

const textSchema = `{
  "type": "object",
  "required": ["data", "type", "createdAt", "origin", "duration", "position"],
  "additionalProperties": false,
  "properties": {
    "data": {
      "type": "object",
      "required": ["type", "data"],
      "additionalProperties": false,
      "properties": {
        "type": {"enum": ["Buffer"]},
        "data": {
          "type": "array",
          "items": {"type": "integer", "minimum": 0, "maximum": 255}
        }
      }
    },
    "type": {"type": "string", "minLength": 1},
    "createdAt": {"type": "string"},
    "origin": {"type": "string"},
    "duration": {"type": "integer"},
    "position": {"type": "integer"}
  }
}`

var textValidator = mustSchema(textSchema)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("payload: compile text schema: %v", err))
	}
	return schema
}

type textBuffer struct {
	Type string `json:"type"`
	Data []int  `json:"data"`
}

type textPayload struct {
	Data      textBuffer `json:"data"`
	Type      string     `json:"type"`
	CreatedAt string     `json:"createdAt"`
	Origin    string     `json:"origin"`
	Duration  int64      `json:"duration"`
	Position  int64      `json:"position"`
}

// TextCodec encodes payloads as JSON, byte buffers in the typed-buffer
// convention. Decoding validates the full field contract.
type TextCodec struct{}

func (TextCodec) Name() string { return "text" }

func (TextCodec) Encode(p Payload) ([]byte, error) {
	if !p.Valid() {
		return nil, errors.NewValidationError("payload", "EncodeText", "cannot encode a zero payload")
	}
	return json.Marshal(toText(p))
}

func (TextCodec) Decode(data []byte) (Payload, error) {
	result, err := textValidator.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Payload{}, errors.NewValidationError("payload", "DecodeText", "malformed text payload", err.Error())
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			details = append(details, re.String())
		}
		return Payload{}, errors.NewValidationError("payload", "DecodeText", "text payload does not match schema", details...)
	}

	var tp textPayload
	if err := json.Unmarshal(data, &tp); err != nil {
		return Payload{}, errors.NewValidationError("payload", "DecodeText", "malformed text payload", err.Error())
	}

	buf := make([]byte, len(tp.Data.Data))
	for i, b := range tp.Data.Data {
		buf[i] = byte(b)
	}

	return New(Params{
		Data:      buf,
		Type:      tp.Type,
		CreatedAt: tp.CreatedAt,
		Origin:    tp.Origin,
		Duration:  tp.Duration,
		Position:  tp.Position,
	})
}

func toText(p Payload) textPayload {
	ints := make([]int, len(p.data))
	for i, b := range p.data {
		ints[i] = int(b)
	}
	return textPayload{
		Data:      textBuffer{Type: bufferTag, Data: ints},
		Type:      p.typ,
		CreatedAt: p.createdAt,
		Origin:    p.origin,
		Duration:  p.duration,
		Position:  p.position,
	}
}

// MarshalJSON encodes p in the text encoding.
func (p Payload) MarshalJSON() ([]byte, error) {
	return TextCodec{}.Encode(p)
}

// UnmarshalJSON decodes and validates the text encoding.
func (p *Payload) UnmarshalJSON(data []byte) error {
	decoded, err := TextCodec{}.Decode(data)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}
