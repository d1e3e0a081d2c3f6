// Package session tracks logical agent conversations per user and working
// directory, with an in-memory cache over pluggable persistence.
package session

import (
	"context"
	"time"

	"github.com/wardenhq/warden/internal/agent"
)

// Session identifies one logical conversation with the agent for a given
// user and working directory. The identifier stays empty until the agent
// process assigns a real one.
type Session struct {
	ID           string
	UserID       int64
	WorkingDir   string
	CreatedAt    time.Time
	LastUsed     time.Time
	TotalCost    float64
	TotalTurns   int
	MessageCount int
	ToolsUsed    []string

	// IsNew marks a session that has not been sent to codex yet. Cleared
	// permanently by the first successful Update.
	IsNew bool
}

// Expired reports whether the session's last use is outside the timeout
// window.
func (s *Session) Expired(timeout time.Duration) bool {
	return time.Since(s.LastUsed) > timeout
}

// Resumable reports whether the session can be resumed: it needs a real
// identifier and a recent enough last use.
func (s *Session) Resumable(timeout time.Duration) bool {
	return s.ID != "" && !s.Expired(timeout)
}

// recordUsage merges one execution result into the session counters.
func (s *Session) recordUsage(res *agent.Result) {
	s.LastUsed = time.Now().UTC()
	s.TotalCost += res.Cost
	s.TotalTurns += res.NumTurns
	s.MessageCount++

	for _, tool := range res.ToolsUsed {
		name := string(tool.Name)
		if name == "" {
			continue
		}
		seen := false
		for _, existing := range s.ToolsUsed {
			if existing == name {
				seen = true
				break
			}
		}
		if !seen {
			s.ToolsUsed = append(s.ToolsUsed, name)
		}
	}
}

// Storage is the persistence contract the registry depends on. Load
// returns (nil, nil) when the session does not exist.
type Storage interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID int64) ([]*Session, error)
	ListAll(ctx context.Context) ([]*Session, error)
}
