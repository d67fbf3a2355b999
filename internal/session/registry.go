package session

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"komikbot/internal/cancel"
	"komikbot/internal/fetch"
)

type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Errorf(string, ...any)
}

// Registry is the synchronized session table. Handlers on the input surface
// and per-session workers touch it concurrently; every map access goes
// through the mutex and callers never see the backing map.
type Registry struct {
	mu          sync.Mutex
	sessions    map[int64]*Session
	downloadDir string
	log         Logger
}

func NewRegistry(downloadDir string, log Logger) *Registry {
	return &Registry{
		sessions:    make(map[int64]*Session),
		downloadDir: downloadDir,
		log:         log,
	}
}

// Create replaces any existing session for the chat with a fresh one at the
// link step. The old session's assets are cleaned up first.
func (r *Registry) Create(chatID int64, mode fetch.Mode) *Session {
	r.mu.Lock()
	old := r.sessions[chatID]
	s := &Session{
		ChatID:    chatID,
		Step:      StepLink,
		FetchMode: mode,
		Token:     cancel.NewToken(),
		LastSeen:  time.Now(),
	}
	r.sessions[chatID] = s
	r.mu.Unlock()

	if old != nil {
		old.Token.Cancel()
		r.CleanupAssets(old)
	}

	return s
}

func (r *Registry) Get(chatID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[chatID]
	if ok {
		s.LastSeen = time.Now()
	}
	return s, ok
}

// Delete removes the session and cleans up its chapter folders. Safe to call
// for unknown chats.
func (r *Registry) Delete(chatID int64) {
	r.mu.Lock()
	s := r.sessions[chatID]
	delete(r.sessions, chatID)
	r.mu.Unlock()

	if s != nil {
		s.Token.Cancel()
		r.CleanupAssets(s)
	}
}

// Cancel flips the session's cancellation token and cleans up whatever has
// been fetched so far. Reports whether a session existed.
func (r *Registry) Cancel(chatID int64) bool {
	r.mu.Lock()
	s, ok := r.sessions[chatID]
	r.mu.Unlock()

	if !ok {
		return false
	}

	s.Token.Cancel()
	r.CleanupAssets(s)
	return true
}

// CleanupAssets removes every chapter folder belonging to the session's
// resolved range. Best effort: a failed removal is logged and skipped.
func (r *Registry) CleanupAssets(s *Session) {
	for _, id := range s.Range {
		folder := filepath.Join(r.downloadDir, fetch.FolderName(id, s.FetchMode))
		if err := os.RemoveAll(folder); err != nil {
			r.log.Errorf("cleanup %s: %v\n", folder, err)
		}
	}
}

// Sweep evicts sessions idle beyond ttl, cascading into asset cleanup.
// Returns how many sessions were evicted.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.LastSeen.Before(cutoff) {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.Token.Cancel()
		r.CleanupAssets(s)
	}

	if len(expired) > 0 {
		r.log.Infof("evicted %d idle sessions\n", len(expired))
	}
	return len(expired)
}

// StartSweeper runs Sweep on a fixed interval until stop is closed.
func (r *Registry) StartSweeper(interval, ttl time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Sweep(ttl)
			case <-stop:
				return
			}
		}
	}()
}
