package storage

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jo-hoe/instaauto/internal/common"
)

// ErrTooLarge is returned when an upload exceeds the allowed size.
var ErrTooLarge = errors.New("upload too large")

// Uploader stores media received through the API under baseDir/uploads.
// Stored files are referenced by posts and are not removed after processing.
type Uploader struct {
	baseDir string
}

var allowedMediaMimes = map[string]string{
	common.MimeImagePNG:  ".png",
	common.MimeImageJPEG: ".jpg",
	common.MimeImageJPG:  ".jpg",
	common.MimeVideoMP4:  ".mp4",
}

// NewUploader creates an uploader that stores to baseDir/uploads.
func NewUploader(baseDir string) *Uploader {
	return &Uploader{baseDir: filepath.Join(baseDir, common.UploadsDirName)}
}

// SaveMultipartMedia validates and stores an uploaded png, jpg or mp4 file.
// It returns the absolute path of the stored file.
func (u *Uploader) SaveMultipartMedia(fileHeader *multipart.FileHeader, maxBytes int64) (string, error) {
	if fileHeader == nil {
		return "", fmt.Errorf("no file provided")
	}
	mimeType := detectMime(fileHeader)
	if !isAllowedMediaMime(mimeType) {
		return "", fmt.Errorf("unsupported content type: %s", mimeType)
	}

	if err := os.MkdirAll(u.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure uploads dir: %w", err)
	}
	base, err := filepath.Abs(u.baseDir)
	if err != nil {
		return "", fmt.Errorf("resolve uploads dir: %w", err)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = src.Close() }()

	dstPath := filepath.Join(base, uuid.NewString()+pickExtension(mimeType, fileHeader.Filename))
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	var r io.Reader = src
	if maxBytes > 0 {
		r = io.LimitReader(src, maxBytes+1)
	}
	n, err := io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err == nil && maxBytes > 0 && n > maxBytes {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("copy upload: %w", err)
	}
	return dstPath, nil
}

// Remove deletes a stored upload. Paths outside the uploads dir are refused.
func (u *Uploader) Remove(path string) error {
	base, err := filepath.Abs(u.baseDir)
	if err != nil {
		return err
	}
	if filepath.Dir(filepath.Clean(path)) != base {
		return fmt.Errorf("refusing to remove %q outside uploads dir", path)
	}
	return os.Remove(path)
}

// Some clients send application/octet-stream; fall back to the extension then.
func detectMime(fh *multipart.FileHeader) string {
	mt := strings.TrimSpace(fh.Header.Get(common.HeaderContentType))
	if mt == "" || strings.EqualFold(mt, "application/octet-stream") {
		mt = mime.TypeByExtension(strings.ToLower(filepath.Ext(fh.Filename)))
	}
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	return strings.ToLower(mt)
}

func isAllowedMediaMime(mimeType string) bool {
	_, ok := allowedMediaMimes[mimeType]
	return ok
}

func pickExtension(mimeType, original string) string {
	if ext, ok := allowedMediaMimes[mimeType]; ok {
		return ext
	}
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		return ".bin"
	}
	return ext
}
