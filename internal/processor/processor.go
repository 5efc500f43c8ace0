package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jo-hoe/instaauto/internal/caption"
	"github.com/jo-hoe/instaauto/internal/jobs"
	"github.com/jo-hoe/instaauto/internal/platform"
)

// Processor runs one publishing attempt for a stored post.
type Processor struct {
	Log      *slog.Logger
	Store    jobs.Store
	Captions caption.Generator
	Poster   platform.Poster
}

var _ jobs.Processor = (*Processor)(nil)

// New builds a Processor; a nil log discards output.
func New(log *slog.Logger, store jobs.Store, captions caption.Generator, poster platform.Poster) *Processor {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Processor{
		Log:      log,
		Store:    store,
		Captions: captions,
		Poster:   poster,
	}
}

// Process makes exactly one attempt at publishing post id. Caption and post
// failures end up in the record as ERROR and are not returned; only a missing
// post or store failures are.
func (p *Processor) Process(ctx context.Context, id string) error {
	post, err := p.Store.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			p.Log.Error("process missing post", "job_id", id)
		}
		return fmt.Errorf("load post: %w", err)
	}

	if err := p.Store.StartProcessing(ctx, id); err != nil {
		return fmt.Errorf("start processing: %w", err)
	}
	p.Log.Info("processing post", "job_id", id, "path", post.ImagePath, "attempt", post.Attempts+1)

	text, generated, err := p.caption(ctx, post)
	var stored *string
	if generated {
		stored = &text
	}
	if err == nil {
		err = p.Poster.Post(ctx, post.ImagePath, text)
		if err != nil {
			err = fmt.Errorf("platform post: %w", err)
		}
	}

	if err != nil {
		p.Log.Warn("post failed", "job_id", id, "err", err)
		if ferr := p.Store.Fail(ctx, id, stored, err.Error()); ferr != nil {
			return fmt.Errorf("record failure: %w", ferr)
		}
		return nil
	}

	if err := p.Store.Complete(ctx, id, stored); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	p.Log.Info("post published", "job_id", id)
	return nil
}

// caption returns the post's caption, generating one when unset. generated
// reports whether text is new and must be stored.
func (p *Processor) caption(ctx context.Context, post *jobs.Post) (text string, generated bool, err error) {
	if post.Caption != nil {
		return *post.Caption, false, nil
	}
	text, err = p.Captions.GenerateCaption(ctx, post.ImagePath)
	if err != nil {
		return "", false, fmt.Errorf("generate caption: %w", err)
	}
	return text, true, nil
}
