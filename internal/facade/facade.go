// Package facade orchestrates the execution engine: session resolution,
// process execution, the retry-as-fresh-session policy, and result
// write-back.
package facade

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/gate"
	"github.com/wardenhq/warden/internal/observe"
	"github.com/wardenhq/warden/internal/session"
)

// Executor abstracts the process execution adapter.
type Executor interface {
	Execute(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// RunRequest describes one caller-facing run.
type RunRequest struct {
	Prompt     string
	WorkingDir string
	UserID     int64
	SessionID  string
	ForceNew   bool
	OnStream   agent.StreamFunc
}

// Facade is the main integration point for driving the agent.
type Facade struct {
	exec     Executor
	registry *session.Registry
	gate     *gate.Authorizer
	cfg      config.Config
	obs      *observe.Observer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Facade over an executor, registry, and authorization gate.
func New(exec Executor, registry *session.Registry, authorizer *gate.Authorizer, cfg config.Config, obs *observe.Observer) *Facade {
	return &Facade{
		exec:     exec,
		registry: registry,
		gate:     authorizer,
		cfg:      cfg,
		obs:      obs,
		locks:    make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex serializing runs for one
// (user, working directory) key, so concurrent requests against the same
// session queue instead of racing on the session counters.
func (f *Facade) sessionLock(userID int64, workingDir string) *sync.Mutex {
	key := strconv.FormatInt(userID, 10) + "\x00" + workingDir
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[key] = lock
	}
	return lock
}

// Run executes a prompt for a user in a working directory. When no
// session id is given (and ForceNew is unset) the most recent resumable
// session is adopted; a failed resume is retried once as a fresh session
// for retryable error classes.
func (f *Facade) Run(ctx context.Context, req RunRequest) (*agent.Result, error) {
	ctx, span := f.obs.StartSpan(ctx, "facade.Run")
	defer span.End()

	lock := f.sessionLock(req.UserID, req.WorkingDir)
	lock.Lock()
	defer lock.Unlock()

	f.obs.Log().Info().
		Str("working_dir", req.WorkingDir).
		Str("session_id", req.SessionID).
		Int("prompt_len", len(req.Prompt)).
		Bool("force_new", req.ForceNew).
		Msg("running codex command")

	sessionID := req.SessionID
	if sessionID == "" && !req.ForceNew {
		existing, err := f.registry.FindResumable(ctx, req.UserID, req.WorkingDir)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			sessionID = existing.ID
			f.obs.Log().Info().
				Str("session_id", sessionID).
				Str("working_dir", req.WorkingDir).
				Msg("auto-resuming existing session for project")
		}
	}

	sess, err := f.registry.GetOrCreate(ctx, req.UserID, req.WorkingDir, sessionID)
	if err != nil {
		return nil, err
	}

	authorize := f.authorizeFunc(req.UserID, req.WorkingDir)

	shouldContinue := !sess.IsNew && sess.ID != ""
	execSessionID := ""
	if shouldContinue {
		execSessionID = sess.ID
	}

	result, err := f.exec.Execute(ctx, agent.Request{
		Prompt:     req.Prompt,
		WorkingDir: req.WorkingDir,
		SessionID:  execSessionID,
		Continue:   shouldContinue,
		OnStream:   req.OnStream,
		Authorize:  authorize,
	})
	if err != nil {
		f.enrichToolError(err)
		if !shouldContinue || !agent.Retryable(err) {
			f.obs.Log().Error().Str("session_id", sess.ID).Err(err).Msg("codex command failed")
			return nil, err
		}

		// The session is stale on codex's side; discard it and retry
		// once from scratch.
		f.obs.Log().Warn().
			Str("failed_session_id", execSessionID).
			Err(err).
			Msg("session resume failed, starting fresh session")

		if rmErr := f.registry.Remove(ctx, sess.ID); rmErr != nil {
			f.obs.Log().Warn().Str("session_id", sess.ID).Err(rmErr).Msg("failed to remove stale session")
		}

		sess, err = f.registry.GetOrCreate(ctx, req.UserID, req.WorkingDir, "")
		if err != nil {
			return nil, err
		}

		result, err = f.exec.Execute(ctx, agent.Request{
			Prompt:     req.Prompt,
			WorkingDir: req.WorkingDir,
			Continue:   false,
			OnStream:   req.OnStream,
			Authorize:  authorize,
		})
		if err != nil {
			f.enrichToolError(err)
			f.obs.Log().Error().Err(err).Msg("codex command failed")
			return nil, err
		}
	}

	if err := f.registry.Update(ctx, sess, result); err != nil {
		return nil, err
	}

	// The caller always receives the authoritative id.
	result.SessionID = sess.ID
	if result.SessionID == "" {
		f.obs.Log().Warn().Msg("no session id after execution; session cannot be resumed")
	}

	f.obs.Log().Info().
		Str("session_id", result.SessionID).
		Int("num_turns", result.NumTurns).
		Str("duration", result.Duration.String()).
		Msg("codex command completed")

	return result, nil
}

// ContinueSession resumes the most recent session for (userID,
// workingDir). Returns (nil, nil) when no resumable session exists. An
// empty prompt is replaced by a continuation placeholder downstream.
func (f *Facade) ContinueSession(ctx context.Context, userID int64, workingDir, prompt string, onStream agent.StreamFunc) (*agent.Result, error) {
	existing, err := f.registry.FindResumable(ctx, userID, workingDir)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		f.obs.Log().Info().Str("working_dir", workingDir).Msg("no matching sessions found")
		return nil, nil
	}

	return f.Run(ctx, RunRequest{
		Prompt:     prompt,
		WorkingDir: workingDir,
		UserID:     userID,
		SessionID:  existing.ID,
		OnStream:   onStream,
	})
}

// UserSessions lists a user's sessions, most recent first.
func (f *Facade) UserSessions(ctx context.Context, userID int64) ([]*session.Session, error) {
	return f.registry.Sessions(ctx, userID)
}

// UserSummary aggregates a user's session and security record.
func (f *Facade) UserSummary(ctx context.Context, userID int64) (session.UserSummary, gate.UserUsage, error) {
	summary, err := f.registry.Summarize(ctx, userID)
	if err != nil {
		return session.UserSummary{}, gate.UserUsage{}, err
	}
	return summary, f.gate.UserStats(userID), nil
}

// CleanupExpiredSessions removes expired sessions, returning the count.
func (f *Facade) CleanupExpiredSessions(ctx context.Context) (int, error) {
	return f.registry.CleanupExpired(ctx)
}

// ToolStats returns aggregate tool usage statistics.
func (f *Facade) ToolStats() gate.Stats {
	return f.gate.Stats()
}

// Shutdown cleans up before exit.
func (f *Facade) Shutdown(ctx context.Context) error {
	f.obs.Log().Info().Msg("shutting down codex integration")
	_, err := f.registry.CleanupExpired(ctx)
	return err
}

// enrichToolError attaches the currently-allowed tool set to a
// validation error so the caller can render remediation guidance.
func (f *Facade) enrichToolError(err error) {
	var tv *agent.ToolValidationError
	if errors.As(err, &tv) && len(tv.Allowed) == 0 && f.gate != nil {
		tv.Allowed = f.gate.AllowedTools()
	}
}

// authorizeFunc adapts the gate to the adapter's callback contract,
// attaching the allowed tool set for remediation messaging.
func (f *Facade) authorizeFunc(userID int64, workingDir string) agent.AuthorizeFunc {
	if f.gate == nil {
		return nil
	}
	return func(toolName string, toolInput map[string]any) (bool, string, error) {
		allowed, reason := f.gate.Authorize(toolName, toolInput, workingDir, userID)
		if allowed {
			return true, "", nil
		}
		return false, reason, nil
	}
}
