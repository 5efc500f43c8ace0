// Package dispatch delivers payloads to the downstream automation webhook.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jo-hoe/instaauto/internal/common"
	"github.com/jo-hoe/instaauto/internal/filemeta"
)

// ErrNotConfigured is reported when no webhook URL is set. No request is made.
var ErrNotConfigured = errors.New("webhook url not configured")

const (
	defaultNotifyTimeout = 10 * time.Second
	defaultUploadTimeout = 30 * time.Second
	defaultMaxRetries    = 3
	defaultBackoff       = 1 * time.Second
	bodySnippetLimit     = 4096

	dateLayout    = "2006-01-02"
	captionSuffix = " - Gerado em: "
	folderPrefix  = "Postagens_"

	fieldFile     = "file"
	fieldSchedule = "agendamento"
	fieldCaption  = "caption"
)

var retryStatuses = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Config controls where and how payloads are sent.
type Config struct {
	URL           string
	Token         string
	NotifyTimeout time.Duration
	UploadTimeout time.Duration
	MaxRetries    int // 0 selects the default, negative disables retries
	Backoff       time.Duration
}

// Result is the outcome of one dispatch, after retries.
type Result struct {
	OK         bool
	StatusCode int
	Body       string
	Attempts   int
	Err        error
}

// Upload describes a file to send. Nil Schedule or Caption are omitted from the form.
type Upload struct {
	Path     string
	Schedule *time.Time
	Caption  *string
}

// Dispatcher posts to the webhook with bounded retry on transient failures.
// A Dispatcher without a URL is valid but every call fails with ErrNotConfigured.
type Dispatcher struct {
	log  *slog.Logger
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu    sync.RWMutex
	token string
}

// New creates a Dispatcher, filling zero Config fields with defaults.
func New(log *slog.Logger, cfg Config) *Dispatcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = defaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	return &Dispatcher{
		log:   log,
		cfg:   cfg,
		http:  &http.Client{},
		now:   time.Now,
		token: cfg.Token,
	}
}

// WithHTTPClient allows tests to inject a custom HTTP client.
func (d *Dispatcher) WithHTTPClient(c *http.Client) *Dispatcher {
	d.http = c
	return d
}

// Configured reports whether a webhook URL is set.
func (d *Dispatcher) Configured() bool { return d.cfg.URL != "" }

// UpdateToken replaces the bearer token sent with subsequent requests.
func (d *Dispatcher) UpdateToken(token string) {
	d.mu.Lock()
	d.token = token
	d.mu.Unlock()
}

func (d *Dispatcher) currentToken() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.token
}

type notification struct {
	ImageURL   string `json:"image_url"`
	Caption    string `json:"caption"`
	FolderName string `json:"folder_name"`
}

// Notify sends a JSON notification referencing imageURL. The caption gets the
// current date appended and the folder name is derived from the same date.
func (d *Dispatcher) Notify(ctx context.Context, imageURL, caption string) Result {
	if !d.Configured() {
		d.log.Error("dispatch skipped", "err", ErrNotConfigured)
		return Result{Err: ErrNotConfigured}
	}
	today := d.now().Format(dateLayout)
	body, err := json.Marshal(notification{
		ImageURL:   imageURL,
		Caption:    caption + captionSuffix + today,
		FolderName: folderPrefix + today,
	})
	if err != nil {
		return Result{Err: fmt.Errorf("marshal notification: %w", err)}
	}

	res := d.send(ctx, d.cfg.NotifyTimeout, common.ContentTypeJSON, body)
	d.logResult("notification", res)
	return res
}

// UploadFile sends the file as multipart form data with optional schedule and caption fields.
func (d *Dispatcher) UploadFile(ctx context.Context, u Upload) Result {
	if !d.Configured() {
		d.log.Error("dispatch skipped", "path", u.Path, "err", ErrNotConfigured)
		return Result{Err: ErrNotConfigured}
	}
	body, contentType, err := buildForm(u)
	if err != nil {
		d.log.Error("upload form", "path", u.Path, "err", err)
		return Result{Err: err}
	}

	res := d.send(ctx, d.cfg.UploadTimeout, contentType, body)
	d.logResult("upload", res, "path", u.Path)
	return res
}

func buildForm(u Upload) ([]byte, string, error) {
	f, err := os.Open(u.Path)
	if err != nil {
		return nil, "", fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(fieldFile, filepath.Base(u.Path))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, "", fmt.Errorf("copy file: %w", err)
	}
	if u.Schedule != nil {
		if err := mw.WriteField(fieldSchedule, u.Schedule.Format(filemeta.ScheduleLayout)); err != nil {
			return nil, "", fmt.Errorf("write schedule: %w", err)
		}
	}
	if u.Caption != nil && *u.Caption != "" {
		if err := mw.WriteField(fieldCaption, *u.Caption); err != nil {
			return nil, "", fmt.Errorf("write caption: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (d *Dispatcher) send(ctx context.Context, timeout time.Duration, contentType string, body []byte) Result {
	var res Result
	for attempt := 0; ; attempt++ {
		res = d.do(ctx, timeout, contentType, body)
		res.Attempts = attempt + 1
		if !retryable(res) || attempt >= d.cfg.MaxRetries {
			return res
		}
		wait := d.cfg.Backoff << attempt
		d.log.Debug("dispatch retry", "attempt", res.Attempts, "status", res.StatusCode, "err", res.Err, "wait", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if res.Err == nil {
				res.Err = ctx.Err()
			}
			return res
		case <-timer.C:
		}
	}
}

func (d *Dispatcher) do(ctx context.Context, timeout time.Duration, contentType string, body []byte) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set(common.HeaderContentType, contentType)
	if tok := d.currentToken(); tok != "" {
		req.Header.Set(common.HeaderAuthorization, common.AuthSchemeBearer+" "+tok)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return Result{Err: fmt.Errorf("webhook request: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLimit))
	return Result{
		OK:         resp.StatusCode == http.StatusOK,
		StatusCode: resp.StatusCode,
		Body:       string(b),
	}
}

func retryable(res Result) bool {
	if res.Err != nil {
		return isDialError(res.Err)
	}
	return retryStatuses[res.StatusCode]
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (d *Dispatcher) logResult(kind string, res Result, attrs ...any) {
	attrs = append(attrs, "kind", kind, "status", res.StatusCode, "attempts", res.Attempts)
	switch {
	case res.OK:
		d.log.Info("dispatch ok", attrs...)
	case res.Err != nil:
		d.log.Error("dispatch error", append(attrs, "err", res.Err)...)
	default:
		d.log.Warn("dispatch failed", append(attrs, "body", res.Body)...)
	}
}
