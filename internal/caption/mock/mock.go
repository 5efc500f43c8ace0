package mock

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jo-hoe/instaauto/internal/caption"
	"github.com/jo-hoe/instaauto/internal/config"
)

var _ caption.Generator = (*Generator)(nil)

// Generator returns a canned caption after an optional delay.
type Generator struct {
	delay  time.Duration
	prefix string
}

// New builds a Generator from the mock caption settings.
func New(cfg config.MockSettings) *Generator {
	return &Generator{delay: cfg.Delay, prefix: cfg.Prefix}
}

// GenerateCaption waits for the configured delay, then returns "<prefix>: <file name>".
func (g *Generator) GenerateCaption(ctx context.Context, imagePath string) (string, error) {
	if g.delay > 0 {
		t := time.NewTimer(g.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: %s", g.prefix, filepath.Base(imagePath)), nil
}
