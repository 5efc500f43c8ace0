// Package platform publishes finished posts to the social media platform.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jo-hoe/instaauto/internal/dispatch"
)

const errorBodyLimit = 200

// Poster publishes one media item with its caption.
type Poster interface {
	Post(ctx context.Context, imagePath, caption string) error
}

// Notifier is the part of the dispatcher used to reach the automation webhook.
type Notifier interface {
	Notify(ctx context.Context, imageURL, caption string) dispatch.Result
}

// Webhook posts through the automation webhook, which performs the actual
// platform upload.
type Webhook struct {
	n Notifier
}

var _ Poster = (*Webhook)(nil)

// NewWebhook publishes through n.
func NewWebhook(n Notifier) *Webhook {
	return &Webhook{n: n}
}

// Post fails unless the webhook answered 200.
func (w *Webhook) Post(ctx context.Context, imagePath, caption string) error {
	res := w.n.Notify(ctx, imagePath, caption)
	if res.OK {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("webhook post: %w", res.Err)
	}
	body := res.Body
	if len(body) > errorBodyLimit {
		body = body[:errorBodyLimit] + "..."
	}
	return fmt.Errorf("webhook post: status %d after %d attempts: %s", res.StatusCode, res.Attempts, body)
}

// Published is one call recorded by Mock.
type Published struct {
	ImagePath string
	Caption   string
}

// Mock records posts instead of publishing them. A non-nil Err is returned
// from every call.
type Mock struct {
	Log *slog.Logger
	Err error

	mu    sync.Mutex
	posts []Published
}

var _ Poster = (*Mock)(nil)

// Post records the publication and returns m.Err.
func (m *Mock) Post(ctx context.Context, imagePath, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.posts = append(m.posts, Published{ImagePath: imagePath, Caption: caption})
	m.mu.Unlock()
	if m.Log != nil {
		m.Log.Info("mock post", "path", imagePath, "caption", caption)
	}
	return m.Err
}

// Posts returns a copy of everything recorded so far.
func (m *Mock) Posts() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Published, len(m.posts))
	copy(out, m.posts)
	return out
}
