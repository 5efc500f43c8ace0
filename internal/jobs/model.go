package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a publishing job.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusDone       Status = "DONE"
	StatusError      Status = "ERROR"
)

// AllStatuses lists every Status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusProcessing, StatusDone, StatusError}

func (s Status) String() string { return string(s) }

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusError:
		return true
	}
	return false
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

// CanTransition reports whether a job may move from one status to another.
// ERROR -> PROCESSING is the re-submission path.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusDone || to == StatusError
	case StatusError:
		return to == StatusProcessing
	case StatusDone:
		return false
	}
	return false
}

// Post describes a single media item to publish.
type Post struct {
	ID           string    `json:"id"`
	ImagePath    string    `json:"image_path"`
	Caption      *string   `json:"caption"`
	Status       Status    `json:"status"`
	Attempts     int       `json:"attempts"`
	ErrorMessage *string   `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}

var (
	// ErrNotFound is returned when no post has the requested id.
	ErrNotFound = errors.New("post not found")
	// ErrConflict is returned when a status compare-and-set loses.
	ErrConflict = errors.New("post status conflict")
)

// Store defines persistence for Posts and their lifecycle. Every method
// runs on its own connection from the pool, so callers in different
// goroutines never share a session.
type Store interface {
	CreatePost(ctx context.Context, p *Post) error
	GetPost(ctx context.Context, id string) (*Post, error)
	ListPosts(ctx context.Context, skip, limit int) ([]Post, error)
	// StartProcessing moves a PENDING or ERROR post to PROCESSING and clears its error.
	StartProcessing(ctx context.Context, id string) error
	// Complete moves a PROCESSING post to DONE, stores caption and counts the attempt.
	Complete(ctx context.Context, id string, caption *string) error
	// Fail moves a PROCESSING post to ERROR, stores caption and errMsg and counts the attempt.
	Fail(ctx context.Context, id string, caption *string, errMsg string) error
	// DeletePost removes a post, returning ErrNotFound when it does not exist.
	DeletePost(ctx context.Context, id string) error
	Close() error
}

// Submitter hands a job id to background processing without waiting for it.
type Submitter interface {
	Submit(id string) error
}
