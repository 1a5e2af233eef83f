package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/Jhons14/LocalAI/agent/contract"
	historyx "github.com/Jhons14/LocalAI/agent/history"
	nodex "github.com/Jhons14/LocalAI/agent/nodes"
	promptx "github.com/Jhons14/LocalAI/agent/prompt"
	workflowx "github.com/Jhons14/LocalAI/agent/workflow"
)

// ModelFactory builds a chat model for a session configuration. The resolved
// credential is passed separately so configs never carry raw secrets.
type ModelFactory interface {
	New(ctx context.Context, cfg contractx.SessionConfig, credential string) (einomodel.ToolCallingChatModel, error)
}

// ToolProviderFactory builds a tool provider scoped to a session's user. It
// must return contract.ErrCredentialMissing when neither the session
// credential nor a process-level credential is available.
type ToolProviderFactory interface {
	New(ctx context.Context, cfg contractx.SessionConfig, credential string) (contractx.ToolProvider, error)
}

// Deps are the process-level collaborators shared by all sessions.
type Deps struct {
	Models        ModelFactory
	ToolProviders ToolProviderFactory // nil disables tool-bearing sessions
	Memory        contractx.MemoryStore
	History       historyx.Store
	Prompts       promptx.Set
	Policy        nodex.Policy
	Defaults      contractx.SessionConfig

	AuthWaitTimeout time.Duration
}

// Registry maps thread ids to live sessions. Operations on distinct threads
// never contend; operations on the same thread serialize on the session's
// own mutex.
type Registry struct {
	deps  Deps
	vault *CredentialVault

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Models == nil {
		return nil, fmt.Errorf("%w: model factory is required", contractx.ErrValidation)
	}
	if deps.History == nil {
		deps.History = historyx.NewMemoryStore()
	}
	if deps.Prompts == (promptx.Set{}) {
		deps.Prompts = promptx.LoadSet()
	}

	return &Registry{
		deps:     deps,
		vault:    NewCredentialVault(),
		sessions: make(map[string]*Session),
	}, nil
}

// Get returns the session for a thread id, if configured.
func (r *Registry) Get(threadID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[threadID]
	return sess, ok
}

// Exists reports whether a thread id has a configured session.
func (r *Registry) Exists(threadID string) bool {
	_, ok := r.Get(threadID)
	return ok
}

// CurrentToolkits returns the ordered toolkit set of a session.
func (r *Registry) CurrentToolkits(threadID string) ([]string, error) {
	sess, ok := r.Get(threadID)
	if !ok {
		return nil, fmt.Errorf("%w: thread %s", contractx.ErrSessionNotFound, threadID)
	}
	return sess.Toolkits(), nil
}

// CreateOrReplace configures a session for the thread id, loading any
// persisted history. An existing session for the id is replaced; its
// conversation history is preserved.
func (r *Registry) CreateOrReplace(ctx context.Context, cfg contractx.SessionConfig, credential string) (*Session, error) {
	cfg.Normalize()
	if cfg.ThreadID == "" {
		return nil, fmt.Errorf("%w: thread id is required", contractx.ErrValidation)
	}

	ref := r.vault.Store(credential)
	if ref != "" {
		cfg.CredentialRef = ref
	}

	engine, err := r.buildEngine(ctx, cfg)
	if err != nil {
		r.vault.Drop(ref)
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[cfg.ThreadID]; ok {
		prev.mu.Lock()
		history := prev.history
		if prev.config.CredentialRef != "" && prev.config.CredentialRef != cfg.CredentialRef {
			r.vault.Drop(prev.config.CredentialRef)
		}
		prev.config = cfg
		prev.engine = engine
		prev.history = history
		prev.mu.Unlock()
		return prev, nil
	}

	history, err := r.deps.History.Load(ctx, cfg.ThreadID)
	if err != nil {
		log.Warn().Err(err).Str("thread_id", cfg.ThreadID).Msg("history load failed, starting empty")
		history = nil
	}

	sess := &Session{config: cfg, engine: engine, history: history}
	r.sessions[cfg.ThreadID] = sess
	return sess, nil
}

// Delete removes a session, its persisted history, and its stored
// credential. Deleting an absent thread reports not-found without error.
func (r *Registry) Delete(ctx context.Context, threadID string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[threadID]
	delete(r.sessions, threadID)
	r.mu.Unlock()

	if !ok {
		return false
	}

	sess.mu.Lock()
	ref := sess.config.CredentialRef
	sess.mu.Unlock()
	r.vault.Drop(ref)

	if err := r.deps.History.Delete(ctx, threadID); err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("history delete failed")
	}
	return true
}

// Reconfigure atomically swaps the session's toolkit set, rebuilding the
// tool binding and the compiled turn graph in place. History is preserved.
// If building the new engine fails (including a missing credential for a
// non-empty toolkit set), the session is left untouched.
func (r *Registry) Reconfigure(
	ctx context.Context,
	threadID string,
	toolkits []string,
	credential string,
) (contractx.ToolkitChanges, error) {
	sess, ok := r.Get(threadID)
	if !ok {
		return contractx.ToolkitChanges{}, fmt.Errorf("%w: thread %s", contractx.ErrSessionNotFound, threadID)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	next := contractx.NormalizeToolkits(toolkits)
	changes := diffToolkits(sess.config.Toolkits, next)

	cfg := sess.config
	cfg.Toolkits = next

	ref := r.vault.Store(credential)
	if ref != "" {
		cfg.CredentialRef = ref
	}

	engine, err := r.buildEngine(ctx, cfg)
	if err != nil {
		r.vault.Drop(ref)
		return contractx.ToolkitChanges{}, err
	}

	if ref != "" && sess.config.CredentialRef != "" && sess.config.CredentialRef != ref {
		r.vault.Drop(sess.config.CredentialRef)
	}
	sess.config = cfg
	sess.engine = engine
	if !changes.Empty() {
		sess.pendingNotice = changes.Summary()
	}

	log.Info().
		Str("thread_id", threadID).
		Strs("added", changes.Added).
		Strs("removed", changes.Removed).
		Msg("session reconfigured")
	return changes, nil
}

// ChatRequest is one inbound turn. Config is consulted only when the thread
// has no session yet (first-time configuration); Toolkits triggers
// reconfiguration when it differs from the session's current set.
type ChatRequest struct {
	ThreadID   string
	Prompt     string
	Config     *contractx.SessionConfig
	Credential string
}

// Chat runs one turn for the thread, streaming assistant text to emit.
// Unknown threads are auto-configured from the request or the registry
// defaults. Turns for the same thread are processed sequentially.
func (r *Registry) Chat(ctx context.Context, req ChatRequest, emit func(string)) error {
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		return fmt.Errorf("%w: thread id is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", contractx.ErrValidation)
	}

	sess, err := r.ensureSession(ctx, threadID, req)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	engine := sess.engine
	before := len(sess.history)

	notice := sess.pendingNotice
	if notice != "" {
		sess.history = append(sess.history, schema.SystemMessage(notice))
		sess.pendingNotice = ""
	}
	sess.history = append(sess.history, schema.UserMessage(req.Prompt))

	updated, err := engine.RunTurn(ctx, sess.history, emit)
	if err != nil {
		// The turn did not complete; keep the session as it was rather
		// than persisting partial state. That includes re-arming the
		// notice so the model still learns of the capability change.
		sess.history = sess.history[:before]
		sess.pendingNotice = notice
		return fmt.Errorf("turn failed for thread %s: %w", threadID, err)
	}
	sess.history = updated

	if err := r.deps.History.Append(ctx, threadID, updated[before:]); err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("history append failed")
	}
	return nil
}

func (r *Registry) ensureSession(ctx context.Context, threadID string, req ChatRequest) (*Session, error) {
	if sess, ok := r.Get(threadID); ok {
		if req.Config != nil {
			requested := contractx.NormalizeToolkits(req.Config.Toolkits)
			if !equalToolkits(sess.Toolkits(), requested) {
				if _, err := r.Reconfigure(ctx, threadID, requested, req.Credential); err != nil {
					return nil, err
				}
			}
		}
		return sess, nil
	}

	cfg := r.deps.Defaults
	if req.Config != nil {
		cfg = *req.Config
	}
	cfg.ThreadID = threadID
	return r.CreateOrReplace(ctx, cfg, req.Credential)
}

func (r *Registry) buildEngine(ctx context.Context, cfg contractx.SessionConfig) (*workflowx.Engine, error) {
	credential, _ := r.vault.Resolve(cfg.CredentialRef)

	chatModel, err := r.deps.Models.New(ctx, cfg, credential)
	if err != nil {
		return nil, fmt.Errorf("build model for thread %s: %w", cfg.ThreadID, err)
	}

	var tools contractx.ToolProvider
	if len(cfg.Toolkits) > 0 {
		if r.deps.ToolProviders == nil {
			return nil, fmt.Errorf("%w: no tool provider configured", contractx.ErrCredentialMissing)
		}
		tools, err = r.deps.ToolProviders.New(ctx, cfg, credential)
		if err != nil {
			return nil, fmt.Errorf("build tool provider for thread %s: %w", cfg.ThreadID, err)
		}
	}

	return workflowx.New(ctx, cfg, workflowx.Deps{
		Model:           chatModel,
		Tools:           tools,
		Memory:          r.deps.Memory,
		Prompts:         r.deps.Prompts,
		Policy:          r.deps.Policy,
		AuthWaitTimeout: r.deps.AuthWaitTimeout,
	})
}

func diffToolkits(current, next []string) contractx.ToolkitChanges {
	curSet := make(map[string]struct{}, len(current))
	for _, tk := range current {
		curSet[tk] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, tk := range next {
		nextSet[tk] = struct{}{}
	}

	var changes contractx.ToolkitChanges
	for _, tk := range next {
		if _, ok := curSet[tk]; !ok {
			changes.Added = append(changes.Added, tk)
		}
	}
	for _, tk := range current {
		if _, ok := nextSet[tk]; !ok {
			changes.Removed = append(changes.Removed, tk)
		}
	}
	return changes
}

func equalToolkits(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
