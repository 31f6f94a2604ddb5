package builtin

import (
	"bufio"
	"context"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/countertop/appliance"
	"github.com/c360/countertop/errors"
	"github.com/c360/countertop/payload"
)

type textFileConfig struct {
	Path string `json:"path"`
	// LineDuration is the timeline span assigned to each line, in ms.
	LineDuration int64 `json:"line_duration_ms"`
	// Interval paces emission; zero emits as fast as the outbox allows.
	Interval string `json:"interval"`
}

// TextFile is a source appliance reading a text file line by line.
type TextFile struct {
	cfg      textFileConfig
	interval time.Duration
}

func newTextFile(settings appliance.Settings) (appliance.Appliance, error) {
	cfg := textFileConfig{LineDuration: 1000}
	if err := settings.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "TextFile", "New", "path check")
	}
	var interval time.Duration
	if cfg.Interval != "" {
		d, err := time.ParseDuration(cfg.Interval)
		if err != nil {
			return nil, errors.WrapInvalid(err, "TextFile", "New", "parse interval")
		}
		interval = d
	}
	return &TextFile{cfg: cfg, interval: interval}, nil
}

func (t *TextFile) HealthCheck(context.Context) bool {
	info, err := os.Stat(t.cfg.Path)
	return err == nil && !info.IsDir()
}

func (t *TextFile) CheckPayload(payload.Payload) bool { return false }
func (t *TextFile) Start(context.Context) bool        { return true }
func (t *TextFile) Stop(context.Context) bool         { return true }

func (t *TextFile) Invoke(_ context.Context, buf *payload.Array, _ appliance.Emitter) (*payload.Array, error) {
	return buf, nil
}

// Generate emits one TEXT.BLOB per non-empty line. The file path is the
// origin of every payload.
func (t *TextFile) Generate(ctx context.Context, out appliance.Emitter) error {
	f, err := os.Open(t.cfg.Path)
	if err != nil {
		return errors.WrapTransient(err, "TextFile", "Generate", "open file")
	}
	defer f.Close()

	limit := rate.Inf
	if t.interval > 0 {
		limit = rate.Every(t.interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var position int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			// Cancelled while paced.
			return nil
		}
		p, err := payload.New(payload.Params{
			Data:     line,
			Type:     payload.TypeTextBlob,
			Origin:   t.cfg.Path,
			Duration: t.cfg.LineDuration,
			Position: position,
		})
		if err != nil {
			return err
		}
		if err := out.Emit(ctx, p); err != nil {
			return err
		}
		position += t.cfg.LineDuration
	}
	if err := scanner.Err(); err != nil {
		return errors.WrapTransient(err, "TextFile", "Generate", "scan file")
	}
	return nil
}
