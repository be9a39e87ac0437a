package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/kurobon/imagepro/internal/ai"
	"github.com/kurobon/imagepro/internal/catalog"
	"github.com/kurobon/imagepro/internal/history"
	"github.com/kurobon/imagepro/internal/imaging"
	"github.com/kurobon/imagepro/internal/state"
	"github.com/kurobon/imagepro/internal/stats"
)

// DefaultPreviewEdge bounds the longest edge of preview thumbnails.
const DefaultPreviewEdge = 512

// Engine validates and runs tools for sessions.
type Engine struct {
	Catalog     *catalog.Catalog
	Stats       *stats.Tracker // optional
	Providers   Providers
	PreviewEdge int
	MaxPixels   int64 // per image; imaging.DefaultMaxPixels when zero
	Logger      *slog.Logger
}

// Result is the outcome of Run. History is nil for tools that only
// report text.
type Result struct {
	Tool     string            `json:"tool"`
	Text     string            `json:"text,omitempty"`
	Kind     string            `json:"kind,omitempty"`
	Settings history.Settings  `json:"settings,omitempty"`
	History  *history.Snapshot `json:"history,omitempty"`
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) previewEdge() int {
	if e.PreviewEdge > 0 {
		return e.PreviewEdge
	}
	return DefaultPreviewEdge
}

// Upload validates an uploaded image and starts a new edit sequence with
// it. The previous history of the session is discarded.
func (e *Engine) Upload(sess *state.Session, filename string, data []byte) (history.Snapshot, error) {
	img, ct, err := imaging.DecodeLimited(data, e.MaxPixels)
	if err != nil {
		return history.Snapshot{}, err
	}
	preview, err := imaging.Preview(img, e.previewEdge())
	if err != nil {
		return history.Snapshot{}, err
	}
	if _, err := sess.Start(state.Upload{Filename: filename, ContentType: ct, Data: data}, preview); err != nil {
		return history.Snapshot{}, err
	}
	if e.Stats != nil {
		e.Stats.RecordUpload(sess.UserID, int64(len(data)))
	}
	e.logger().Info("upload accepted",
		"session", sess.ID, "user", sess.UserID, "file", filename, "bytes", len(data))
	return sess.Snapshot(), nil
}

// Run applies toolID with raw settings to the current snapshot of sess.
// The tool runs without holding the session lock; its result is appended
// only on success, so failures leave the history untouched.
func (e *Engine) Run(ctx context.Context, sess *state.Session, toolID string, raw map[string]any) (Result, error) {
	settings, err := e.Catalog.Resolve(toolID, raw)
	if err != nil {
		return Result{}, err
	}
	tool, ok := Lookup(toolID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s has no implementation", catalog.ErrUnknownTool, toolID)
	}
	def, _ := e.Catalog.Get(toolID)

	base, generation, err := sess.Base()
	if err != nil {
		return Result{}, err
	}
	img, _, err := imaging.DecodeLimited(base.Payload, e.MaxPixels)
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode current snapshot: %w", err)
	}

	log := e.logger().With("session", sess.ID, "user", sess.UserID, "tool", toolID)
	start := time.Now()
	out, err := tool.Apply(ctx, &e.Providers, Input{
		Image:     img,
		Source:    ai.Image{Data: base.Payload, ContentType: base.ContentType},
		Settings:  settings,
		MaxPixels: e.MaxPixels,
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		e.recordFailure(sess.UserID, toolID, time.Since(start))
		log.Warn("tool failed", "error", err, "elapsed", time.Since(start))
		return Result{}, err
	}

	res := Result{Tool: toolID, Settings: out.Settings}
	if out.Settings != nil {
		res.Kind = out.Settings.Kind()
	}
	credits := 0
	if def != nil {
		credits = def.Credits
	}

	if out.Image == nil && out.Encoded == nil {
		res.Text = out.Text
		if e.Stats != nil {
			e.Stats.RecordEdit(sess.UserID, toolID, credits, 0, time.Since(start))
		}
		log.Info("text extracted", "chars", len(out.Text), "elapsed", time.Since(start))
		return res, nil
	}

	entry, err := e.entryFor(toolID, base.ContentType, out)
	if err != nil {
		e.recordFailure(sess.UserID, toolID, time.Since(start))
		return Result{}, err
	}
	if def != nil {
		entry.ToolName = def.Name
	}

	snap, err := sess.Apply(generation, entry)
	if err != nil {
		if errors.Is(err, state.ErrStale) {
			log.Info("discarding result of restarted session")
		}
		return Result{}, err
	}
	if e.Stats != nil {
		e.Stats.RecordEdit(sess.UserID, toolID, credits, int64(entry.Size()), time.Since(start))
	}
	log.Info("edit applied", "entry", entry.ID, "bytes", entry.Size(), "cursor", snap.Cursor, "elapsed", time.Since(start))
	res.History = &snap
	return res, nil
}

// entryFor encodes or decodes the tool output as needed so every entry has
// both a payload and a preview.
func (e *Engine) entryFor(toolID, baseType string, out Output) (history.Entry, error) {
	var (
		img  image.Image
		data []byte
		ct   string
		err  error
	)
	if out.Encoded != nil {
		// Vendor output is untrusted; make sure it is an image we can edit further.
		img, ct, err = imaging.DecodeLimited(out.Encoded.Data, e.MaxPixels)
		if err != nil {
			return history.Entry{}, fmt.Errorf("%s returned an unusable image: %w", toolID, err)
		}
		data = out.Encoded.Data
	} else {
		img = out.Image
		b := img.Bounds()
		if err := imaging.CheckPixels(b.Dx(), b.Dy(), e.MaxPixels); err != nil {
			return history.Entry{}, fmt.Errorf("%s produced an oversized image: %w", toolID, err)
		}
		data, ct, err = imaging.Encode(img, baseType)
		if err != nil {
			return history.Entry{}, err
		}
	}
	preview, err := imaging.Preview(img, e.previewEdge())
	if err != nil {
		return history.Entry{}, err
	}
	return history.NewEntry(toolID, data, ct, preview, out.Settings), nil
}

func (e *Engine) recordFailure(userID, toolID string, elapsed time.Duration) {
	if e.Stats != nil {
		e.Stats.RecordFailure(userID, toolID, elapsed)
	}
}
