package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pastelflow/internal/editor"
)

// Session binds one editor to a browser cookie or a chat.
type Session struct {
	ID           string
	Editor       *editor.Controller
	CreatedAt    time.Time
	LastActivity time.Time
}

type Options struct {
	// TTL is how long an idle session is kept. Sessions with a generation in
	// flight are never expired.
	TTL time.Duration
	// NewEditor builds the controller for a new session id.
	NewEditor func(id string) *editor.Controller
	Logger    *slog.Logger
	Now       func() time.Time
}

type Store struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	ttl       time.Duration
	newEditor func(id string) *editor.Controller
	logger    *slog.Logger
	now       func() time.Time
}

func NewStore(opts Options) *Store {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	newEditor := opts.NewEditor
	if newEditor == nil {
		newEditor = func(string) *editor.Controller { return editor.New(editor.Options{}) }
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		sessions:  make(map[string]*Session),
		ttl:       ttl,
		newEditor: newEditor,
		logger:    logger,
		now:       now,
	}
}

// Create starts a session under a fresh random id.
func (s *Store) Create() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	for s.sessions[id] != nil {
		id = uuid.NewString()
	}
	return s.createLocked(id)
}

// Get returns a live session and marks it active.
func (s *Store) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.LastActivity = s.now()
	return sess, true
}

// Open returns the session for a caller chosen id, creating it if needed.
func (s *Store) Open(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		sess.LastActivity = s.now()
		return sess
	}
	return s.createLocked(id)
}

// Discard ends a session and abandons its in-flight generation.
func (s *Store) Discard(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		sess.Editor.Reset()
	}
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops idle sessions and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) < s.ttl {
			continue
		}
		if sess.Editor.Snapshot().IsLoading {
			continue
		}
		delete(s.sessions, id)
		expired = append(expired, sess)
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Editor.Reset()
	}
	if len(expired) > 0 {
		s.logger.Info("sessions expired", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Store) createLocked(id string) *Session {
	now := s.now()
	sess := &Session{
		ID:           id,
		Editor:       s.newEditor(id),
		CreatedAt:    now,
		LastActivity: now,
	}
	s.sessions[id] = sess
	s.logger.Debug("session created", "session", id)
	return sess
}
