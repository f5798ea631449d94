// Package web serves the editor over HTTP: a JSON API around the session's
// editor controller, a WebSocket state stream and the embedded page.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pastelflow/internal/editor"
	"pastelflow/internal/imagedata"
	"pastelflow/internal/presets"
	"pastelflow/internal/session"
)

//go:embed static/*
var staticFS embed.FS

const (
	cookieName     = "pastelflow_session"
	maxPromptBytes = 64 << 10
)

type Options struct {
	Sessions *session.Store
	Presets  *presets.Catalog
	Hub      *Hub
	Logger   *slog.Logger

	MaxUploadBytes int64
	// GenerateLimit is the number of generate calls allowed per client IP
	// per minute.
	GenerateLimit int
	Now           func() time.Time
}

type Server struct {
	sessions       *session.Store
	presets        *presets.Catalog
	hub            *Hub
	logger         *slog.Logger
	maxUploadBytes int64
	generateLimit  int
	now            func() time.Time
}

type apiError struct {
	Error string `json:"error"`
}

type presetsResponse struct {
	Presets []presets.Preset `json:"presets"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type uploadResponse struct {
	State    editor.State `json:"state"`
	MimeType string       `json:"mimeType"`
	Size     int          `json:"size"`
	Width    int          `json:"width,omitempty"`
	Height   int          `json:"height,omitempty"`
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	catalog := opts.Presets
	if catalog == nil {
		catalog = presets.Default()
	}

	hub := opts.Hub
	if hub == nil {
		hub = NewHub(logger)
	}

	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}

	limit := opts.GenerateLimit
	if limit <= 0 {
		limit = 10
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Server{
		sessions:       opts.Sessions,
		presets:        catalog,
		hub:            hub,
		logger:         logger,
		maxUploadBytes: maxUpload,
		generateLimit:  limit,
		now:            now,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		withLogging(s.logger),
	)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/presets", s.handlePresets)

	r.Route("/api/session", func(r chi.Router) {
		r.Use(s.withSession)
		r.Get("/", s.handleState)
		r.Delete("/", s.handleReset)
		r.Post("/image", s.handleImage)
		r.Put("/prompt", s.handlePrompt)
		r.Post("/presets/{key}", s.handlePreset)
		r.With(rateLimit(s.generateLimit, time.Minute, s.now)).Post("/generate", s.handleGenerate)
		r.Post("/discard", s.handleDiscard)
		r.Get("/download", s.handleDownload)
		r.Get("/ws", s.handleWebSocket)
	})

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	r.Handle("/*", http.FileServer(http.FS(staticSub)))

	return r
}

type sessionKey struct{}

// withSession resolves the cookie to a live session, starting a new one
// when the cookie is missing or expired.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sess *session.Session
		if c, err := r.Cookie(cookieName); err == nil {
			sess, _ = s.sessions.Get(c.Value)
		}
		if sess == nil {
			sess = s.startSession(w, r)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) *session.Session {
	sess := s.sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(sessionKey{}).(*session.Session)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
		"clients":  s.hub.Clients(),
	})
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, presetsResponse{Presets: s.presets.All()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).Editor.Snapshot())
}

// handleReset ends the session and hands the client a fresh one.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	old := sessionFrom(r)
	s.sessions.Discard(old.ID)
	s.logger.Info("session reset", "session", old.ID)

	writeJSON(w, http.StatusOK, s.startSession(w, r).Editor.Snapshot())
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	const formOverhead = 1 << 20
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+formOverhead)

	if err := r.ParseMultipartForm(s.maxUploadBytes + formOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, apiError{Error: imagedata.ErrTooLarge.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "missing image"})
		return
	}
	defer file.Close()

	up, err := imagedata.ReadUpload(file, header.Header.Get("Content-Type"), s.maxUploadBytes)
	switch {
	case errors.Is(err, imagedata.ErrTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, apiError{Error: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	sess := sessionFrom(r)
	st := sess.Editor.SelectImage(up.DataURL)
	s.logger.Info("image selected", "session", sess.ID, "mime", up.MimeType, "bytes", up.Size, "width", up.Width, "height", up.Height)

	writeJSON(w, http.StatusOK, uploadResponse{
		State:    st,
		MimeType: up.MimeType,
		Size:     up.Size,
		Width:    up.Width,
		Height:   up.Height,
	})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPromptBytes)

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid payload"})
		return
	}
	writeJSON(w, http.StatusOK, sessionFrom(r).Editor.SetPrompt(req.Prompt))
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	p, ok := s.presets.Lookup(chi.URLParam(r, "key"))
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "unknown preset"})
		return
	}
	writeJSON(w, http.StatusOK, sessionFrom(r).Editor.ApplyPreset(p.Text))
}

// handleGenerate starts a generation. With ?wait=1 it answers once the call
// has resolved, otherwise immediately with 202.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	done, err := sess.Editor.Generate()
	if err != nil {
		writeJSON(w, http.StatusConflict, apiError{Error: err.Error()})
		return
	}
	s.logger.Info("generation started", "session", sess.ID)

	if !wantsWait(r) {
		writeJSON(w, http.StatusAccepted, sess.Editor.Snapshot())
		return
	}

	select {
	case <-done:
		writeJSON(w, http.StatusOK, sess.Editor.Snapshot())
	case <-r.Context().Done():
	}
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).Editor.DiscardResult())
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r).Editor.Snapshot()
	if !st.HasResult() {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no generated image"})
		return
	}

	data, contentType, err := imagedata.ExportPNG(st.GeneratedImage)
	if err != nil {
		s.logger.Error("export failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "could not export image"})
		return
	}

	w.Header().Set("content-type", contentType)
	w.Header().Set("content-disposition", `attachment; filename="`+imagedata.DownloadName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	s.hub.Serve(w, r, sess.ID, sess.Editor.Snapshot)
}

func wantsWait(r *http.Request) bool {
	switch r.URL.Query().Get("wait") {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
