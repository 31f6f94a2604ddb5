package payload

// Well-known payload types. The vocabulary is open: appliances may declare
// any type string.
const (
	TypeStreamContainer = "STREAM.CONTAINER"
	TypeTextAtom        = "TEXT.ATOM"
	TypeTextBlob        = "TEXT.BLOB"
	TypeTextWord        = "TEXT.WORD"
	TypeTextSentence    = "TEXT.SENTENCE"
	TypeImageJPEG       = "IMAGE.JPEG"
)
