package caption

import (
	"context"
)

// Generator defines the capability to write a social media caption for a media file.
type Generator interface {
	// GenerateCaption reads the media at imagePath and returns caption text.
	GenerateCaption(ctx context.Context, imagePath string) (string, error)
}
