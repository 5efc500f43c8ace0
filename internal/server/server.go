package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jo-hoe/instaauto/internal/common"
	"github.com/jo-hoe/instaauto/internal/config"
	"github.com/jo-hoe/instaauto/internal/jobs"
	"github.com/jo-hoe/instaauto/internal/storage"
)

// TokenUpdater replaces the credential used for outbound platform calls.
type TokenUpdater interface {
	UpdateToken(token string)
}

type Service struct {
	Log      *slog.Logger
	Cfg      *config.Config
	Store    jobs.Store
	Queue    jobs.Submitter
	Uploader *storage.Uploader
	Tokens   TokenUpdater
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	if svc.Log == nil {
		svc.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealth, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodPost+" "+common.PathSchedule, svc.withCommon(svc.handleCreatePost))
	mux.HandleFunc(http.MethodGet+" "+common.PathPosts, svc.withCommon(svc.handleListPosts))
	mux.HandleFunc(http.MethodGet+" "+common.PathPosts+"/{id}", svc.withCommon(svc.handleGetPost))
	mux.HandleFunc(http.MethodPost+" "+common.PathAdminToken, svc.withCommon(svc.handleUpdateToken))

	return &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux, svc.Log), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		// Enforce max body size
		if max := safeInt64(svc.Cfg.Server.MaxUploadSize); max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

type createRequest struct {
	ImagePath string  `json:"image_path"`
	Caption   *string `json:"caption"`

	uploaded bool
}

func (svc *Service) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	req, status, err := svc.decodeCreate(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	post := jobs.Post{
		ID:        uuid.NewString(),
		ImagePath: req.ImagePath,
		Caption:   req.Caption,
		Status:    jobs.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := svc.Store.CreatePost(r.Context(), &post); err != nil {
		svc.Log.Error("persist post", "err", err)
		svc.dropUpload(req)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	svc.Log.Info("post created", "job_id", post.ID, "path", post.ImagePath)

	// A post that cannot be queued is rolled back so no PENDING row is orphaned.
	if err := svc.Queue.Submit(post.ID); err != nil {
		svc.Log.Error("submit post", "job_id", post.ID, "err", err)
		if derr := svc.Store.DeletePost(context.WithoutCancel(r.Context()), post.ID); derr != nil {
			svc.Log.Error("roll back post", "job_id", post.ID, "err", derr)
		}
		svc.dropUpload(req)
		http.Error(w, "queue full, try later", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, post)
}

// dropUpload removes the media file saved for req, if any.
func (svc *Service) dropUpload(req createRequest) {
	if !req.uploaded {
		return
	}
	if err := svc.Uploader.Remove(req.ImagePath); err != nil {
		svc.Log.Warn("remove upload", "path", req.ImagePath, "err", err)
	}
}

// decodeCreate reads either a JSON body or a multipart form carrying the media file.
func (svc *Service) decodeCreate(r *http.Request) (createRequest, int, error) {
	var req createRequest
	mt, _, _ := mime.ParseMediaType(r.Header.Get(common.HeaderContentType))
	if mt == common.ContentTypeForm {
		if svc.Uploader == nil {
			return req, http.StatusUnsupportedMediaType, errors.New("file uploads are disabled")
		}
		if err := r.ParseMultipartForm(safeInt64(svc.Cfg.Server.MaxUploadSize)); err != nil {
			return req, http.StatusBadRequest, errors.New("invalid form: " + err.Error())
		}
		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			return req, http.StatusBadRequest, errors.New("file is required")
		}
		path, err := svc.Uploader.SaveMultipartMedia(files[0], safeInt64(svc.Cfg.Server.MaxUploadSize))
		if err != nil {
			return req, http.StatusBadRequest, errors.New("upload failed: " + err.Error())
		}
		req.ImagePath = path
		req.uploaded = true
		req.Caption = parseOptionalString(r.FormValue("caption"))
		return req, 0, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, http.StatusBadRequest, errors.New("invalid json body")
	}
	req.ImagePath = strings.TrimSpace(req.ImagePath)
	if req.ImagePath == "" {
		return req, http.StatusBadRequest, errors.New("image_path is required")
	}
	return req, 0, nil
}

func (svc *Service) handleListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, err := queryInt(q.Get("skip"), 0)
	if err != nil || skip < 0 {
		http.Error(w, "invalid skip", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(q.Get("limit"), common.DefaultPageLimit)
	if err != nil || limit < 1 {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	limit = min(limit, common.MaxPageLimit)

	posts, err := svc.Store.ListPosts(r.Context(), skip, limit)
	if err != nil {
		svc.Log.Error("list posts", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if posts == nil {
		posts = []jobs.Post{}
	}
	writeJSON(w, http.StatusOK, posts)
}

func (svc *Service) handleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := svc.Store.GetPost(r.Context(), r.PathValue("id"))
	if errors.Is(err, jobs.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		svc.Log.Error("get post", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (svc *Service) handleUpdateToken(w http.ResponseWriter, r *http.Request) {
	if svc.Tokens == nil {
		http.Error(w, "token updates not supported", http.StatusNotImplemented)
		return
	}
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}
	svc.Tokens.UpdateToken(token)
	svc.Log.Info("platform token updated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "Token updated"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(common.HeaderContentType, common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func queryInt(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func parseOptionalString(s string) *string {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return &v
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("panic in handler", "path", r.URL.Path, "panic", rec)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
