package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/observe"
)

// Registry maps session identifiers to session records. It keeps an
// in-memory cache in front of Storage and enforces a per-user session cap
// via LRU eviction.
type Registry struct {
	storage    Storage
	timeout    time.Duration
	maxPerUser int
	obs        *observe.Observer

	mu     sync.Mutex
	active map[string]*Session
}

// NewRegistry creates a Registry over the given storage.
func NewRegistry(storage Storage, timeout time.Duration, maxPerUser int, obs *observe.Observer) *Registry {
	return &Registry{
		storage:    storage,
		timeout:    timeout,
		maxPerUser: maxPerUser,
		obs:        obs,
		active:     make(map[string]*Session),
	}
}

// GetOrCreate returns the session for sessionID when it exists and is not
// expired, consulting the cache first and then storage. Otherwise it
// returns a brand-new unsaved session with an empty identifier, evicting
// the user's least-recently-used session when the cap is reached.
func (r *Registry) GetOrCreate(ctx context.Context, userID int64, workingDir, sessionID string) (*Session, error) {
	if sessionID != "" {
		r.mu.Lock()
		cached := r.active[sessionID]
		r.mu.Unlock()
		if cached != nil && !cached.Expired(r.timeout) {
			return cached, nil
		}

		loaded, err := r.storage.Load(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
		}
		if loaded != nil && !loaded.Expired(r.timeout) {
			r.mu.Lock()
			r.active[sessionID] = loaded
			r.mu.Unlock()
			r.obs.Log().Info().Str("session_id", sessionID).Msg("loaded session from storage")
			return loaded, nil
		}
	}

	userSessions, err := r.storage.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(userSessions) >= r.maxPerUser {
		oldest := userSessions[0]
		for _, s := range userSessions[1:] {
			if s.LastUsed.Before(oldest.LastUsed) {
				oldest = s
			}
		}
		if err := r.Remove(ctx, oldest.ID); err != nil {
			return nil, fmt.Errorf("failed to evict session %s: %w", oldest.ID, err)
		}
		r.obs.Log().Info().
			Str("session_id", oldest.ID).
			Msg("evicted least-recently-used session at cap")
	}

	now := time.Now().UTC()
	fresh := &Session{
		UserID:     userID,
		WorkingDir: workingDir,
		CreatedAt:  now,
		LastUsed:   now,
		IsNew:      true,
	}

	// Not persisted yet: storage only sees the session once codex has
	// handed back a real identifier (via Update).
	r.obs.Log().Info().
		Str("working_dir", workingDir).
		Msg("created new session pending codex session id")

	return fresh, nil
}

// Update merges an execution result into the session. A new session is
// assigned the result's identifier first; a session that never received a
// real identifier is discarded rather than stored under an empty key.
func (r *Registry) Update(ctx context.Context, s *Session, res *agent.Result) error {
	if s.IsNew {
		if res.SessionID != "" {
			s.ID = res.SessionID
		} else {
			r.obs.Log().Warn().
				Str("working_dir", s.WorkingDir).
				Msg("codex returned no session id for new session; session will not be resumable")
		}
		s.IsNew = false
	}

	s.recordUsage(res)

	if s.ID == "" {
		return nil
	}

	r.mu.Lock()
	r.active[s.ID] = s
	r.mu.Unlock()

	if err := r.storage.Save(ctx, s); err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.ID, err)
	}

	r.obs.Log().Debug().
		Str("session_id", s.ID).
		Int("messages", s.MessageCount).
		Msg("session updated")
	return nil
}

// Remove drops a session from cache and storage.
func (r *Registry) Remove(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.active, sessionID)
	r.mu.Unlock()

	if err := r.storage.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// FindResumable returns the most recently used non-expired session with a
// real identifier for (userID, workingDir), or nil when none exists.
func (r *Registry) FindResumable(ctx context.Context, userID int64, workingDir string) (*Session, error) {
	sessions, err := r.storage.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var best *Session
	for _, s := range sessions {
		if s.WorkingDir != workingDir || !s.Resumable(r.timeout) {
			continue
		}
		if best == nil || s.LastUsed.After(best.LastUsed) {
			best = s
		}
	}
	return best, nil
}

// CleanupExpired sweeps persisted sessions and removes expired ones from
// both cache and storage. Returns the number removed.
func (r *Registry) CleanupExpired(ctx context.Context) (int, error) {
	sessions, err := r.storage.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	removed := 0
	for _, s := range sessions {
		if !s.Expired(r.timeout) {
			continue
		}
		if err := r.Remove(ctx, s.ID); err != nil {
			return removed, err
		}
		removed++
	}

	r.obs.Log().Info().Int("removed", removed).Msg("session cleanup completed")
	return removed, nil
}

// Info returns the session record for sessionID from cache or storage,
// or nil when unknown.
func (r *Registry) Info(ctx context.Context, sessionID string) (*Session, error) {
	r.mu.Lock()
	cached := r.active[sessionID]
	r.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	return r.storage.Load(ctx, sessionID)
}

// UserSummary aggregates a user's sessions.
type UserSummary struct {
	UserID        int64
	TotalSessions int
	Active        int
	TotalCost     float64
	TotalMessages int
	Projects      []string
}

// Summarize builds a UserSummary for userID.
func (r *Registry) Summarize(ctx context.Context, userID int64) (UserSummary, error) {
	sessions, err := r.storage.ListByUser(ctx, userID)
	if err != nil {
		return UserSummary{}, fmt.Errorf("failed to list sessions: %w", err)
	}

	summary := UserSummary{UserID: userID, TotalSessions: len(sessions)}
	projects := make(map[string]bool)
	for _, s := range sessions {
		summary.TotalCost += s.TotalCost
		summary.TotalMessages += s.MessageCount
		if !s.Expired(r.timeout) {
			summary.Active++
		}
		projects[s.WorkingDir] = true
	}
	for p := range projects {
		summary.Projects = append(summary.Projects, p)
	}
	return summary, nil
}

// Sessions lists a user's sessions, most recently used first.
func (r *Registry) Sessions(ctx context.Context, userID int64) ([]*Session, error) {
	sessions, err := r.storage.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastUsed.After(sessions[j].LastUsed)
	})
	return sessions, nil
}

// Timeout returns the configured session timeout window.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}
