package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/instaauto/internal/dispatch"
)

type notifierFunc func(ctx context.Context, imageURL, caption string) dispatch.Result

func (f notifierFunc) Notify(ctx context.Context, imageURL, caption string) dispatch.Result {
	return f(ctx, imageURL, caption)
}

func TestWebhook_Post_OK(t *testing.T) {
	var gotURL, gotCaption string
	w := NewWebhook(notifierFunc(func(_ context.Context, imageURL, caption string) dispatch.Result {
		gotURL, gotCaption = imageURL, caption
		return dispatch.Result{OK: true, StatusCode: http.StatusOK, Attempts: 1}
	}))
	if err := w.Post(context.Background(), "/media/a.jpg", "hello"); err != nil {
		t.Fatalf("Post error: %v", err)
	}
	if gotURL != "/media/a.jpg" || gotCaption != "hello" {
		t.Fatalf("notifier got %q %q", gotURL, gotCaption)
	}
}

func TestWebhook_Post_StatusFailure(t *testing.T) {
	w := NewWebhook(notifierFunc(func(context.Context, string, string) dispatch.Result {
		return dispatch.Result{StatusCode: http.StatusBadRequest, Body: "bad caption", Attempts: 1}
	}))
	err := w.Post(context.Background(), "a.jpg", "c")
	if err == nil || !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "bad caption") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestWebhook_Post_NotConfigured(t *testing.T) {
	w := NewWebhook(dispatch.New(nil, dispatch.Config{}))
	if err := w.Post(context.Background(), "a.jpg", "c"); !errors.Is(err, dispatch.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestWebhook_Post_ThroughDispatcher(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	d := dispatch.New(nil, dispatch.Config{URL: ts.URL, Backoff: time.Millisecond})
	w := NewWebhook(d)
	if err := w.Post(context.Background(), "a.jpg", "c"); err == nil {
		t.Fatalf("expected failure without token")
	}
	d.UpdateToken("tok")
	if err := w.Post(context.Background(), "a.jpg", "c"); err != nil {
		t.Fatalf("Post after token update: %v", err)
	}
}

func TestMock_RecordsPosts(t *testing.T) {
	m := &Mock{}
	if err := m.Post(context.Background(), "a.jpg", "one"); err != nil {
		t.Fatalf("Post error: %v", err)
	}
	m.Err = errors.New("boom")
	if err := m.Post(context.Background(), "b.png", "two"); err == nil {
		t.Fatalf("expected configured error")
	}
	got := m.Posts()
	if len(got) != 2 || got[0] != (Published{"a.jpg", "one"}) || got[1].ImagePath != "b.png" {
		t.Fatalf("unexpected posts: %+v", got)
	}
}
