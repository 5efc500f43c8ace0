// Package watcher turns file creation events in a directory into uploads and
// relocates each file according to the outcome.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jo-hoe/instaauto/internal/common"
	"github.com/jo-hoe/instaauto/internal/dispatch"
	"github.com/jo-hoe/instaauto/internal/filemeta"
)

// DefaultSettleDelay is the pause between detection and processing.
const DefaultSettleDelay = 2 * time.Second

// Uploader sends a file downstream.
type Uploader interface {
	UploadFile(ctx context.Context, u dispatch.Upload) dispatch.Result
}

// Watcher handles creation events for a single directory.
type Watcher struct {
	Log      *slog.Logger
	Dir      string
	Settle   time.Duration
	Uploader Uploader

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Watcher for dir. A negative settle disables the delay.
func New(log *slog.Logger, dir string, settle time.Duration, up Uploader) *Watcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if settle == 0 {
		settle = DefaultSettleDelay
	}
	return &Watcher{
		Log:      log,
		Dir:      dir,
		Settle:   settle,
		Uploader: up,
		sleep:    sleepCtx,
	}
}

// Run consumes creation events until ctx is done or events is closed. Each
// event is handled in its own goroutine; Run waits for them before returning.
func (w *Watcher) Run(ctx context.Context, events <-chan string) {
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-events:
			if !ok {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				// Relocation is the commit; a cancelled root context must not
				// interrupt it halfway.
				w.Handle(context.WithoutCancel(ctx), path)
			}()
		}
	}
}

// Handle processes one creation event and reports the directory the file was
// moved to, or "" when the event was ignored or the move failed.
func (w *Watcher) Handle(ctx context.Context, path string) string {
	if !filemeta.IsMedia(path) {
		return ""
	}
	log := w.Log.With("path", path)
	log.Info("file detected")

	if w.Settle > 0 {
		if err := w.sleep(ctx, w.Settle); err != nil {
			log.Warn("settle interrupted", "err", err)
			return ""
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		log.Warn("file vanished before processing", "err", err)
		return ""
	}
	if info.IsDir() {
		return ""
	}

	meta := filemeta.Parse(filepath.Base(path))
	if meta.Caption != nil && meta.Schedule == nil {
		log.Warn("invalid schedule ignored, uploading immediately", "caption", *meta.Caption)
	}

	res := w.Uploader.UploadFile(ctx, dispatch.Upload{
		Path:     path,
		Schedule: meta.Schedule,
		Caption:  meta.Caption,
	})

	dirName := common.ErrorsDirName
	if res.OK {
		dirName = common.SentDirName
	}
	dest, err := relocate(path, dirName)
	if err != nil {
		log.Error("relocate file", "dest_dir", dirName, "err", err)
		return ""
	}
	log.Info("file moved", "dest", dest)
	return filepath.Dir(dest)
}

// relocate moves path into a sibling subdirectory named dirName.
func relocate(path, dirName string) (string, error) {
	destDir := filepath.Join(filepath.Dir(path), dirName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure %s dir: %w", dirName, err)
	}
	dest := filepath.Join(destDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return "", fmt.Errorf("rename: %w", err)
		}
		if err := copyAndRemove(path, dest); err != nil {
			return "", err
		}
	}
	return dest, nil
}

func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		_ = in.Close()
		return fmt.Errorf("create destination: %w", err)
	}
	_, copyErr := io.Copy(out, in)
	_ = in.Close()
	if err := out.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("copy: %w", copyErr)
	}
	return os.Remove(src)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Watch subscribes to dir with fsnotify and returns a channel of created file
// paths. The channel is closed when ctx is done or the subscription fails.
func Watch(ctx context.Context, log *slog.Logger, dir string) (<-chan string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure watched dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("new fsnotify watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		defer func() { _ = fw.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) {
					continue
				}
				select {
				case out <- ev.Name:
				case <-ctx.Done():
					return
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", "err", err)
			}
		}
	}()
	return out, nil
}
