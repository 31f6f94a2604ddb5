package payload

// Codec converts payloads to and from a wire encoding.
type Codec interface {
	Name() string
	Encode(p Payload) ([]byte, error)
	Decode(data []byte) (Payload, error)
}

var (
	// Text is the self-describing JSON encoding.
	Text Codec = TextCodec{}
	// Binary is the schema-based Avro encoding used for broker transport.
	Binary Codec = BinaryCodec{}
)

// CodecByName resolves "text"/"json" and "binary"/"avro".
func CodecByName(name string) (Codec, bool) {
	switch name {
	case "text", "json":
		return Text, true
	case "binary", "avro", "":
		return Binary, true
	default:
		return nil, false
	}
}
