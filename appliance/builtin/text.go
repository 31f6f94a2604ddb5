package builtin

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/c360/countertop/appliance"
	"github.com/c360/countertop/payload"
)

// SentenceSplitter joins buffered TEXT.BLOB payloads and emits each
// complete sentence. Text after the last terminator stays buffered until
// more blobs arrive.
type SentenceSplitter struct{}

func newSentenceSplitter(appliance.Settings) (appliance.Appliance, error) {
	return &SentenceSplitter{}, nil
}

func (*SentenceSplitter) HealthCheck(context.Context) bool { return true }
func (*SentenceSplitter) Start(context.Context) bool       { return true }
func (*SentenceSplitter) Stop(context.Context) bool        { return true }

func (*SentenceSplitter) CheckPayload(p payload.Payload) bool {
	return p.Type() == payload.TypeTextBlob
}

func (*SentenceSplitter) Invoke(ctx context.Context, buf *payload.Array, out appliance.Emitter) (*payload.Array, error) {
	blobs := buf.FilterByType(payload.TypeTextBlob).ToSlice()

	// owners[i] is the index of the blob that contributed text[i].
	var text []byte
	var owners []int
	for i, b := range blobs {
		if len(text) > 0 {
			text = append(text, ' ')
			owners = append(owners, i)
		}
		data := b.Data()
		text = append(text, data...)
		for range data {
			owners = append(owners, i)
		}
	}

	span := func(from, to int) (int64, int64) {
		first, last := blobs[owners[from]], blobs[owners[to]]
		return first.Position(), last.End() - first.Position()
	}

	start := 0
	for i, c := range text {
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		sentence := bytes.TrimSpace(text[start : i+1])
		if len(sentence) > 0 {
			pos, dur := span(start, i)
			p, err := payload.New(payload.Params{
				Data:     sentence,
				Type:     payload.TypeTextSentence,
				Duration: dur,
				Position: pos,
			})
			if err != nil {
				return buf, err
			}
			if err := out.Emit(ctx, p); err != nil {
				return buf, err
			}
		}
		start = i + 1
	}

	if start >= len(text) || len(bytes.TrimSpace(text[start:])) == 0 {
		return &payload.Array{}, nil
	}

	pos, dur := span(start, len(text)-1)
	first := blobs[owners[start]]
	rest, err := payload.New(payload.Params{
		Data:      bytes.TrimSpace(text[start:]),
		Type:      payload.TypeTextBlob,
		CreatedAt: first.CreatedAt(),
		Origin:    first.Origin(),
		Duration:  dur,
		Position:  pos,
	})
	if err != nil {
		return buf, err
	}
	return payload.NewArray(rest)
}

// WordSplitter emits one TEXT.WORD per whitespace-separated word of each
// sentence, spreading the sentence's duration evenly across its words.
type WordSplitter struct{}

func newWordSplitter(appliance.Settings) (appliance.Appliance, error) {
	return &WordSplitter{}, nil
}

func (*WordSplitter) HealthCheck(context.Context) bool { return true }
func (*WordSplitter) Start(context.Context) bool       { return true }
func (*WordSplitter) Stop(context.Context) bool        { return true }

func (*WordSplitter) CheckPayload(p payload.Payload) bool {
	return p.Type() == payload.TypeTextSentence
}

func (*WordSplitter) Invoke(ctx context.Context, buf *payload.Array, out appliance.Emitter) (*payload.Array, error) {
	for _, sentence := range buf.ToSlice() {
		words := bytes.Fields(sentence.Data())
		if len(words) == 0 {
			continue
		}
		step := sentence.Duration() / int64(len(words))
		for i, w := range words {
			p, err := payload.New(payload.Params{
				Data:     w,
				Type:     payload.TypeTextWord,
				Origin:   sentence.Origin(),
				Duration: step,
				Position: sentence.Position() + int64(i)*step,
			})
			if err != nil {
				return buf, err
			}
			if err := out.Emit(ctx, p); err != nil {
				return buf, err
			}
		}
	}
	return &payload.Array{}, nil
}

// LogSink logs what it receives and emits nothing.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

type logSinkConfig struct {
	Level string `json:"level"`
}

func newLogSink(settings appliance.Settings) (appliance.Appliance, error) {
	var cfg logSinkConfig
	if err := settings.Decode(&cfg); err != nil {
		return nil, err
	}
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}
	return &LogSink{logger: slog.Default().With("appliance", "LogSink"), level: level}, nil
}

func (*LogSink) HealthCheck(context.Context) bool  { return true }
func (*LogSink) Start(context.Context) bool        { return true }
func (*LogSink) Stop(context.Context) bool         { return true }
func (*LogSink) CheckPayload(payload.Payload) bool { return true }

func (s *LogSink) Invoke(ctx context.Context, buf *payload.Array, _ appliance.Emitter) (*payload.Array, error) {
	for _, p := range buf.ToSlice() {
		s.logger.Log(ctx, s.level, "payload received",
			"type", p.Type(),
			"origin", p.Origin(),
			"position", p.Position(),
			"duration", p.Duration(),
			"text", string(p.Data()))
	}
	return &payload.Array{}, nil
}
