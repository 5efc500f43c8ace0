package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/jo-hoe/instaauto/internal/common"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout is fixed width so that lexical order on the TEXT column matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLStore persists Posts in SQLite or Postgres through database/sql.
type SQLStore struct {
	db       *sql.DB
	postgres bool
	now      func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at path.
func NewSQLiteStore(path string) (*SQLStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	return open(DriverSQLite, dsn)
}

// NewPostgresStore connects to Postgres using a lib/pq DSN or URL.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	return open(DriverPostgres, dsn)
}

// Open selects the driver by name.
func Open(driver, dsnOrPath string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStore(dsnOrPath)
	case DriverPostgres:
		return NewPostgresStore(dsnOrPath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func open(driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	s := &SQLStore{db: db, postgres: driver == DriverPostgres, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			image_path TEXT NOT NULL,
			caption TEXT,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) stamp() string { return s.now().UTC().Format(timeLayout) }

func (s *SQLStore) CreatePost(ctx context.Context, p *Post) error {
	if p == nil {
		return errors.New("post is nil")
	}
	if p.ID == "" {
		return errors.New("post.ID is required")
	}
	if strings.TrimSpace(p.ImagePath) == "" {
		return errors.New("post.ImagePath is required")
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid status %q", p.Status)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	created := p.CreatedAt.UTC().Format(timeLayout)

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO posts (id, image_path, caption, status, attempts, error_message, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.ImagePath, nullable(p.Caption), string(p.Status), p.Attempts, nullable(p.ErrorMessage), created, created,
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, image_path, caption, status, attempts, error_message, created_at FROM posts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var p Post
	var caption, errMsg sql.NullString
	var status, created string
	if err := row.Scan(&p.ID, &p.ImagePath, &caption, &status, &p.Attempts, &errMsg, &created); err != nil {
		return nil, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", p.ID, err)
	}
	p.Status = st
	if caption.Valid {
		v := caption.String
		p.Caption = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		p.ErrorMessage = &v
	}
	if t, err := time.Parse(timeLayout, created); err == nil {
		p.CreatedAt = t
	}
	return &p, nil
}

func (s *SQLStore) GetPost(ctx context.Context, id string) (*Post, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectColumns+` WHERE id = ?`), id)
	p, err := scanPost(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan post: %w", err)
	}
	return p, nil
}

func (s *SQLStore) ListPosts(ctx context.Context, skip, limit int) ([]Post, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = common.DefaultPageLimit
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`), limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Post, 0, limit)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *SQLStore) StartProcessing(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusProcessing, "error_message = NULL")
}

func (s *SQLStore) Complete(ctx context.Context, id string, caption *string) error {
	return s.transition(ctx, id, StatusDone,
		"caption = COALESCE(CAST(? AS TEXT), caption), error_message = NULL, attempts = attempts + 1",
		nullable(caption))
}

func (s *SQLStore) Fail(ctx context.Context, id string, caption *string, errMsg string) error {
	return s.transition(ctx, id, StatusError,
		"caption = COALESCE(CAST(? AS TEXT), caption), error_message = ?, attempts = attempts + 1",
		nullable(caption), errMsg)
}

// transition moves id to status to, applying set (with its args) in the same
// UPDATE. The row only changes when its current status may move to to
// according to CanTransition.
func (s *SQLStore) transition(ctx context.Context, id string, to Status, set string, args ...any) error {
	from := sourcesFor(to)
	if len(from) == 0 {
		return fmt.Errorf("%w: no status may move to %s", ErrConflict, to)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	q := `UPDATE posts SET status = ?, ` + set + `, updated_at = ? WHERE id = ? AND status IN (` + marks + `)`

	params := make([]any, 0, len(args)+3+len(from))
	params = append(params, string(to))
	params = append(params, args...)
	params = append(params, s.stamp(), id)
	for _, st := range from {
		params = append(params, string(st))
	}
	res, err := s.db.ExecContext(ctx, s.rebind(q), params...)
	if err != nil {
		return fmt.Errorf("set status %s: %w", to, err)
	}
	return s.checkAffected(ctx, res, id, to)
}

// sourcesFor lists, in lifecycle order, the statuses allowed to move to to.
func sourcesFor(to Status) []Status {
	var out []Status
	for _, from := range AllStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// DeletePost removes a post. It is used to undo a creation that could not be queued.
func (s *SQLStore) DeletePost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM posts WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// checkAffected turns a zero-row update into ErrNotFound or ErrConflict.
func (s *SQLStore) checkAffected(ctx context.Context, res sql.Result, id string, to Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	p, err := s.GetPost(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrConflict, p.Status, to)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
