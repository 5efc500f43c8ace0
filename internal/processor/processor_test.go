package processor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jo-hoe/instaauto/internal/jobs"
	"github.com/jo-hoe/instaauto/internal/platform"
)

type memStore struct {
	mu    sync.Mutex
	posts map[string]*jobs.Post
}

func newMemStore() *memStore {
	return &memStore{posts: make(map[string]*jobs.Post)}
}

func (s *memStore) CreatePost(_ context.Context, p *jobs.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	if c.Status == "" {
		c.Status = jobs.StatusPending
	}
	s.posts[p.ID] = &c
	return nil
}

func (s *memStore) GetPost(_ context.Context, id string) (*jobs.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, jobs.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *memStore) DeletePost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return jobs.ErrNotFound
	}
	delete(s.posts, id)
	return nil
}

func (s *memStore) ListPosts(context.Context, int, int) ([]jobs.Post, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) transition(id string, to jobs.Status, apply func(*jobs.Post)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return jobs.ErrNotFound
	}
	if !jobs.CanTransition(p.Status, to) {
		return jobs.ErrConflict
	}
	p.Status = to
	apply(p)
	return nil
}

func (s *memStore) StartProcessing(_ context.Context, id string) error {
	return s.transition(id, jobs.StatusProcessing, func(p *jobs.Post) { p.ErrorMessage = nil })
}

func (s *memStore) Complete(_ context.Context, id string, caption *string) error {
	return s.transition(id, jobs.StatusDone, func(p *jobs.Post) {
		if caption != nil {
			p.Caption = caption
		}
		p.Attempts++
	})
}

func (s *memStore) Fail(_ context.Context, id string, caption *string, errMsg string) error {
	return s.transition(id, jobs.StatusError, func(p *jobs.Post) {
		if caption != nil {
			p.Caption = caption
		}
		p.ErrorMessage = &errMsg
		p.Attempts++
	})
}

func (s *memStore) Close() error { return nil }

type captionMock struct {
	text  string
	err   error
	calls int
}

func (c *captionMock) GenerateCaption(context.Context, string) (string, error) {
	c.calls++
	return c.text, c.err
}

type posterMock struct {
	err        error
	gotPath    string
	gotCaption string
}

func (p *posterMock) Post(_ context.Context, imagePath, caption string) error {
	p.gotPath, p.gotCaption = imagePath, caption
	return p.err
}

func strptr(s string) *string { return &s }

func seed(t *testing.T, s jobs.Store, p jobs.Post) {
	t.Helper()
	if err := s.CreatePost(context.Background(), &p); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func get(t *testing.T, s jobs.Store, id string) *jobs.Post {
	t.Helper()
	p, err := s.GetPost(context.Background(), id)
	if err != nil {
		t.Fatalf("get post: %v", err)
	}
	return p
}

func TestProcess_GeneratesCaptionAndPublishes(t *testing.T) {
	store := newMemStore()
	seed(t, store, jobs.Post{ID: "j1", ImagePath: "x.jpg"})
	gen := &captionMock{text: "AI Caption"}
	poster := &posterMock{}

	if err := New(nil, store, gen, poster).Process(context.Background(), "j1"); err != nil {
		t.Fatalf("Process error: %v", err)
	}

	got := get(t, store, "j1")
	if got.Status != jobs.StatusDone || got.Attempts != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Caption == nil || *got.Caption != "AI Caption" {
		t.Fatalf("caption not stored: %v", got.Caption)
	}
	if got.ErrorMessage != nil {
		t.Fatalf("unexpected error message %q", *got.ErrorMessage)
	}
	if poster.gotPath != "x.jpg" || poster.gotCaption != "AI Caption" {
		t.Fatalf("poster got %q %q", poster.gotPath, poster.gotCaption)
	}
}

func TestProcess_PostFailureRecordsError(t *testing.T) {
	store := newMemStore()
	seed(t, store, jobs.Post{ID: "j1", ImagePath: "x.jpg"})
	gen := &captionMock{text: "AI Caption"}
	poster := &posterMock{err: errors.New("Upload Failed")}

	if err := New(nil, store, gen, poster).Process(context.Background(), "j1"); err != nil {
		t.Fatalf("processing failure must not propagate: %v", err)
	}

	got := get(t, store, "j1")
	if got.Status != jobs.StatusError || got.Attempts != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "Upload Failed") {
		t.Fatalf("error message not recorded: %v", got.ErrorMessage)
	}
	if got.Caption == nil || *got.Caption != "AI Caption" {
		t.Fatalf("generated caption should be kept on failure: %v", got.Caption)
	}
}

func TestProcess_CaptionFailureRecordsError(t *testing.T) {
	store := newMemStore()
	seed(t, store, jobs.Post{ID: "j1", ImagePath: "x.jpg"})
	poster := &posterMock{}

	err := New(nil, store, &captionMock{err: errors.New("model offline")}, poster).Process(context.Background(), "j1")
	if err != nil {
		t.Fatalf("processing failure must not propagate: %v", err)
	}
	got := get(t, store, "j1")
	if got.Status != jobs.StatusError || got.Attempts != 1 || got.Caption != nil {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "model offline") {
		t.Fatalf("error message not recorded: %v", got.ErrorMessage)
	}
	if poster.gotPath != "" {
		t.Fatalf("poster should not be called after caption failure")
	}
}

func TestProcess_SuppliedCaptionIsKept(t *testing.T) {
	store := newMemStore()
	seed(t, store, jobs.Post{ID: "j1", ImagePath: "x.jpg", Caption: strptr("mine")})
	gen := &captionMock{text: "AI Caption"}
	poster := &posterMock{}

	if err := New(nil, store, gen, poster).Process(context.Background(), "j1"); err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("caption generator called %d times", gen.calls)
	}
	got := get(t, store, "j1")
	if *got.Caption != "mine" || poster.gotCaption != "mine" || got.Status != jobs.StatusDone {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestProcess_MissingPost(t *testing.T) {
	err := New(nil, newMemStore(), &captionMock{}, &posterMock{}).Process(context.Background(), "nope")
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProcess_DonePostIsNotReprocessed(t *testing.T) {
	store := newMemStore()
	seed(t, store, jobs.Post{ID: "j1", ImagePath: "x.jpg", Status: jobs.StatusDone, Attempts: 1})
	poster := &posterMock{}

	err := New(nil, store, &captionMock{text: "c"}, poster).Process(context.Background(), "j1")
	if !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := get(t, store, "j1"); got.Attempts != 1 || poster.gotPath != "" {
		t.Fatalf("done post was touched: %+v", got)
	}
}

func TestProcess_ResubmitAfterErrorCountsAttempts(t *testing.T) {
	store := newMemStore()
	seed(t, store, jobs.Post{ID: "j1", ImagePath: "x.jpg"})
	poster := &posterMock{err: errors.New("Upload Failed")}
	p := New(nil, store, &captionMock{text: "AI Caption"}, poster)

	if err := p.Process(context.Background(), "j1"); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	poster.err = nil
	if err := p.Process(context.Background(), "j1"); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	got := get(t, store, "j1")
	if got.Status != jobs.StatusDone || got.Attempts != 2 || got.ErrorMessage != nil {
		t.Fatalf("unexpected record after resubmit: %+v", got)
	}
}

// Runs the full submit path: SQLite store, queue worker and mock poster.
func TestProcess_ThroughQueueAndSQLite(t *testing.T) {
	store, err := jobs.NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()
	seed(t, store, jobs.Post{ID: "j1", ImagePath: "x.jpg"})

	poster := &platform.Mock{}
	q := jobs.NewQueue(nil, 4, 1)
	if err := q.Start(context.Background(), New(nil, store, &captionMock{text: "AI Caption"}, poster)); err != nil {
		t.Fatalf("start queue: %v", err)
	}
	if err := q.Submit("j1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if got := get(t, store, "j1"); got.Status == jobs.StatusDone {
			if got.Attempts != 1 || got.Caption == nil || *got.Caption != "AI Caption" {
				t.Fatalf("unexpected record: %+v", got)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for DONE")
		}
		time.Sleep(10 * time.Millisecond)
	}
	q.Shutdown(time.Second)
	if posts := poster.Posts(); len(posts) != 1 || posts[0].Caption != "AI Caption" {
		t.Fatalf("unexpected published posts: %+v", posts)
	}
}
