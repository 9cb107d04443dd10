// Package assigner implements the prompt dispatcher: a priority-ordered
// prompt queue that matches pending prompts to idle terminal sessions,
// injects prompt text through the Terminal Adapter, and detects
// completion, timeout, retry, and reassignment.
package assigner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/clock"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/storage"
	"github.com/cuemby/fleetctl/pkg/terminal"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/rs/zerolog"
)

// Config holds the assigner's tunables, sourced from the Assigner
// section of the declarative configuration.
type Config struct {
	TickInterval         time.Duration
	CompletionInterval   time.Duration
	MatchBatchSize       int
	ExcludedSessions     map[string]bool
	DefaultMaxRetries    int
	DefaultPromptTimeout time.Duration
	Markers              map[types.Provider]terminal.MarkerSet
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:         3 * time.Second,
		CompletionInterval:   5 * time.Second,
		MatchBatchSize:       50,
		ExcludedSessions:     map[string]bool{},
		DefaultMaxRetries:    3,
		DefaultPromptTimeout: 30 * time.Minute,
		Markers:              map[types.Provider]terminal.MarkerSet{},
	}
}

// Assigner owns the prompt-matching and completion-detection ticks.
type Assigner struct {
	store  storage.Store
	term   *terminal.Adapter
	clock  clock.Clock
	broker *events.Broker
	cfg    Config
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*types.Session // in-memory cache, mirrored from store

	// assignOffsets tracks the byte offset captured at assignment time,
	// so completion detection can diff the trailing output.
	assignOffsets map[string]int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds an Assigner. Call LoadSessions before Start to warm the
// in-memory session cache from the store.
func New(store storage.Store, term *terminal.Adapter, clk clock.Clock, broker *events.Broker, cfg Config) *Assigner {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Assigner{
		store:         store,
		term:          term,
		clock:         clk,
		broker:        broker,
		cfg:           cfg,
		logger:        log.WithComponent("assigner"),
		sessions:      make(map[string]*types.Session),
		assignOffsets: make(map[string]int),
		stopCh:        make(chan struct{}),
	}
}

// ApplyConfig swaps in a freshly-reloaded configuration: exclusions
// and defaults take effect on the next tick, and marker sets are
// re-registered for every known session's provider.
func (a *Assigner) ApplyConfig(cfg Config) {
	a.mu.Lock()
	a.cfg = cfg
	sessions := make([]*types.Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		cp := *s
		sessions = append(sessions, &cp)
	}
	a.mu.Unlock()

	for _, s := range sessions {
		if set, ok := cfg.Markers[s.Provider]; ok {
			a.term.RegisterMarkers(s.Name, set)
		}
	}
}

// config returns a snapshot of the current configuration; the Markers
// and ExcludedSessions maps are replaced wholesale on ApplyConfig,
// never mutated in place, so sharing them in a snapshot is safe.
func (a *Assigner) config() Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// LoadSessions warms the in-memory session cache from the store.
func (a *Assigner) LoadSessions() error {
	sessions, err := a.store.ListSessions()
	if err != nil {
		return apierr.Wrap(apierr.Transport, "load sessions", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range sessions {
		a.sessions[s.Name] = s
	}
	return nil
}

// RegisterSession adds or updates a session in both the store and the
// in-memory cache.
func (a *Assigner) RegisterSession(s *types.Session) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = a.clock.Now()
	}
	if err := a.store.CreateSession(s); err != nil {
		return apierr.Wrap(apierr.Transport, "register session", err)
	}
	a.mu.Lock()
	a.sessions[s.Name] = s
	a.mu.Unlock()

	if set, ok := a.config().Markers[s.Provider]; ok {
		a.term.RegisterMarkers(s.Name, set)
	}
	return nil
}

func (a *Assigner) snapshotSessions() []*types.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*types.Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out
}

func (a *Assigner) cacheSession(s *types.Session) {
	a.mu.Lock()
	a.sessions[s.Name] = s
	a.mu.Unlock()
}

func (a *Assigner) getSession(name string) (*types.Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[name]
	return s, ok
}

// Start launches the matching and completion-detection ticks as
// independent goroutines.
func (a *Assigner) Start(ctx context.Context) {
	a.wg.Add(2)
	go a.runTicker(ctx, a.cfg.TickInterval, a.matchTick, "matching")
	go a.runTicker(ctx, a.cfg.CompletionInterval, a.completionTick, "completion")
}

// Stop signals both ticks to exit and waits for in-flight work to
// finish (Assigner finishes any in-flight SendText before releasing
// sessions).
func (a *Assigner) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

func (a *Assigner) runTicker(ctx context.Context, interval time.Duration, fn func(context.Context), name string) {
	defer a.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SubmitOptions carries the optional fields a caller may set on a new prompt.
type SubmitOptions struct {
	TargetSession     string
	TargetProvider    types.Provider
	FallbackProviders []types.Provider
	MaxRetries        int
	Timeout           time.Duration
	Metadata          map[string]string
}

// SubmitPrompt creates a new pending prompt.
func (a *Assigner) SubmitPrompt(content, source string, priority int, opts SubmitOptions) (*types.Prompt, error) {
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = a.config().DefaultMaxRetries
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = a.config().DefaultPromptTimeout
	}

	p := &types.Prompt{
		Content:           content,
		Source:            source,
		Priority:          priority,
		Status:            types.PromptPending,
		TargetSession:     opts.TargetSession,
		TargetProvider:    opts.TargetProvider,
		FallbackProviders: opts.FallbackProviders,
		MaxRetries:        maxRetries,
		Timeout:           timeout,
		CreatedAt:         a.clock.Now(),
		Metadata:          opts.Metadata,
	}
	if err := a.store.CreatePrompt(p); err != nil {
		return nil, apierr.Wrap(apierr.Transport, "create prompt", err)
	}
	return p, nil
}

// RetryPrompt re-queues a failed prompt: legal only when status is
// failed and retry_count < max_retries. The original target_session
// is kept; only ReassignPrompt changes it.
func (a *Assigner) RetryPrompt(id int64) (bool, error) {
	p, err := a.store.GetPrompt(id)
	if err != nil {
		return false, apierr.Wrap(apierr.NotFound, fmt.Sprintf("prompt %d", id), err)
	}
	if p.Status != types.PromptFailed || p.RetryCount >= p.MaxRetries {
		return false, nil
	}

	p.Status = types.PromptPending
	p.AssignedSession = ""
	p.RetryCount++
	if err := a.store.UpdatePrompt(p); err != nil {
		return false, apierr.Wrap(apierr.Transport, "update prompt", err)
	}
	a.appendHistory(p.ID, "", types.HistoryRetried, "manual retry")
	metrics.PromptsRetriedTotal.Inc()
	return true, nil
}

// RetryAllFailed retries every eligible failed prompt and returns the
// count actually retried.
func (a *Assigner) RetryAllFailed() (int, error) {
	prompts, err := a.store.ListPromptsByStatus(types.PromptFailed)
	if err != nil {
		return 0, apierr.Wrap(apierr.Transport, "list failed prompts", err)
	}
	var n int
	for _, p := range prompts {
		ok, err := a.RetryPrompt(p.ID)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// ReassignPrompt always sets status to pending, clears assigned_session,
// and sets target_session to newTargetSession. Does not bump retry_count.
func (a *Assigner) ReassignPrompt(id int64, newTargetSession string) error {
	p, err := a.store.GetPrompt(id)
	if err != nil {
		return apierr.Wrap(apierr.NotFound, fmt.Sprintf("prompt %d", id), err)
	}

	prevSession := p.AssignedSession
	p.Status = types.PromptPending
	p.AssignedSession = ""
	p.TargetSession = newTargetSession
	if err := a.store.UpdatePrompt(p); err != nil {
		return apierr.Wrap(apierr.Transport, "update prompt", err)
	}

	if prevSession != "" {
		if s, ok := a.getSession(prevSession); ok && s.CurrentTaskID == id {
			s.CurrentTaskID = 0
			s.Status = types.SessionIdle
			s.UpdatedAt = a.clock.Now()
			a.persistSession(s)
		}
	}

	a.appendHistory(p.ID, newTargetSession, types.HistoryReassigned, "manual reassign")
	return nil
}

func (a *Assigner) persistSession(s *types.Session) {
	if err := a.store.UpdateSession(s); err != nil {
		a.logger.Error().Err(err).Str("session", s.Name).Msg("failed to persist session")
	}
	a.cacheSession(s)
}

func (a *Assigner) appendHistory(promptID int64, session string, action types.HistoryAction, details string) {
	entry := &types.HistoryEntry{
		PromptID:    promptID,
		SessionName: session,
		Action:      action,
		CreatedAt:   a.clock.Now(),
		Details:     details,
	}
	if err := a.store.AppendHistory(entry); err != nil {
		a.logger.Error().Err(err).Int64("prompt_id", promptID).Msg("failed to append assignment history")
	}
}

func (a *Assigner) notify(severity events.Severity, promptID int64, session, msg string) {
	if a.broker == nil {
		return
	}
	a.broker.Publish(&events.Event{
		Type:      events.EventPromptFailed,
		Severity:  severity,
		PromptID:  promptID,
		ServiceID: session,
		Message:   msg,
	})
}

// sortPendingByPriority orders prompts (priority desc, created-at asc)
// so matching order is deterministic within a tick.
func sortPendingByPriority(prompts []*types.Prompt) {
	sort.SliceStable(prompts, func(i, j int) bool {
		if prompts[i].Priority != prompts[j].Priority {
			return prompts[i].Priority > prompts[j].Priority
		}
		return prompts[i].CreatedAt.Before(prompts[j].CreatedAt)
	})
}
