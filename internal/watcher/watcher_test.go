package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/instaauto/internal/common"
	"github.com/jo-hoe/instaauto/internal/dispatch"
	"github.com/jo-hoe/instaauto/internal/filemeta"
)

type fakeUploader struct {
	mu    sync.Mutex
	ok    bool
	calls []dispatch.Upload
}

func (f *fakeUploader) UploadFile(ctx context.Context, u dispatch.Upload) dispatch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, u)
	if f.ok {
		return dispatch.Result{OK: true, StatusCode: 200, Attempts: 1}
	}
	return dispatch.Result{StatusCode: 500, Attempts: 4}
}

func (f *fakeUploader) Calls() []dispatch.Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.Upload(nil), f.calls...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("conteudo"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	return p
}

func assertMoved(t *testing.T, src, dirName string) {
	t.Helper()
	dest := filepath.Join(filepath.Dir(src), dirName, filepath.Base(src))
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected file at %s: %v", dest, err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source %s should be gone", src)
	}
}

func TestHandle_ScheduledUploadSucceeds(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{ok: true}
	w := New(discardLogger(), dir, -1, up)

	src := writeFile(t, dir, "2024-01-01_10-00_TesteIntegracao.jpg")
	if got := w.Handle(context.Background(), src); got != filepath.Join(dir, common.SentDirName) {
		t.Fatalf("Handle returned %q", got)
	}

	calls := up.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one upload, got %d", len(calls))
	}
	c := calls[0]
	if c.Path != src {
		t.Fatalf("path = %q, want %q", c.Path, src)
	}
	if c.Schedule == nil || c.Schedule.Format(filemeta.ScheduleLayout) != "2024-01-01 10:00" {
		t.Fatalf("schedule mismatch: %v", c.Schedule)
	}
	if c.Caption == nil || *c.Caption != "TesteIntegracao" {
		t.Fatalf("caption mismatch: %v", c.Caption)
	}
	assertMoved(t, src, common.SentDirName)
}

func TestHandle_PlainFileUploadFails(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{ok: false}
	w := New(discardLogger(), dir, -1, up)

	src := writeFile(t, dir, "foto_simples.png")
	w.Handle(context.Background(), src)

	calls := up.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one upload, got %d", len(calls))
	}
	if calls[0].Schedule != nil || calls[0].Caption != nil {
		t.Fatalf("expected unset schedule and caption, got %+v", calls[0])
	}
	assertMoved(t, src, common.ErrorsDirName)
}

func TestHandle_InvalidDateKeepsCaption(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{ok: true}
	w := New(discardLogger(), dir, -1, up)

	src := writeFile(t, dir, "2024-13-01_12-00_Minha Legenda.jpg")
	w.Handle(context.Background(), src)

	calls := up.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one upload, got %d", len(calls))
	}
	if calls[0].Schedule != nil {
		t.Fatalf("schedule should be unset, got %v", calls[0].Schedule)
	}
	if calls[0].Caption == nil || *calls[0].Caption != "Minha Legenda" {
		t.Fatalf("caption mismatch: %v", calls[0].Caption)
	}
	assertMoved(t, src, common.SentDirName)
}

func TestHandle_IgnoresNonMediaAndDirectories(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{ok: true}
	w := New(discardLogger(), dir, -1, up)

	txt := writeFile(t, dir, "notes.txt")
	sub := filepath.Join(dir, "album.jpg")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if got := w.Handle(context.Background(), txt); got != "" {
		t.Fatalf("non-media file handled: %q", got)
	}
	if got := w.Handle(context.Background(), sub); got != "" {
		t.Fatalf("directory handled: %q", got)
	}
	if len(up.Calls()) != 0 {
		t.Fatalf("uploader should not be called")
	}
	if _, err := os.Stat(txt); err != nil {
		t.Fatalf("non-media file should stay in place: %v", err)
	}
}

func TestHandle_VanishedFileIsDropped(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{ok: true}
	w := New(discardLogger(), dir, -1, up)

	if got := w.Handle(context.Background(), filepath.Join(dir, "gone.jpg")); got != "" {
		t.Fatalf("vanished file handled: %q", got)
	}
	if len(up.Calls()) != 0 {
		t.Fatalf("uploader should not be called")
	}
}

func TestHandle_AppliesSettleDelay(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{ok: true}
	w := New(discardLogger(), dir, 0, up)
	var slept time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	w.Handle(context.Background(), writeFile(t, dir, "a.mp4"))
	if slept != DefaultSettleDelay {
		t.Fatalf("settle = %v, want %v", slept, DefaultSettleDelay)
	}
}

func TestRun_HandlesConcurrentEvents(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{ok: true}
	w := New(discardLogger(), dir, -1, up)

	names := []string{"a.jpg", "b.png", "c.mp4", "d.jpg"}
	events := make(chan string, len(names))
	for _, n := range names {
		events <- writeFile(t, dir, n)
	}
	close(events)

	w.Run(context.Background(), events)

	if got := len(up.Calls()); got != len(names) {
		t.Fatalf("expected %d uploads, got %d", len(names), got)
	}
	for _, n := range names {
		assertMoved(t, filepath.Join(dir, n), common.SentDirName)
	}
}

func TestWatch_DeliversCreateEvents(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := Watch(ctx, discardLogger(), dir)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	src := writeFile(t, dir, "novo.jpg")

	select {
	case got := <-events:
		if got != src {
			t.Fatalf("event path = %q, want %q", got, src)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no create event received")
	}
}
