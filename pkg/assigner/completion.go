package assigner

import (
	"context"
	"strings"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/terminal"
	"github.com/cuemby/fleetctl/pkg/types"
)

// assign runs the injection protocol for prompt p matched
// to session target.
func (a *Assigner) assign(ctx context.Context, p *types.Prompt, target *types.Session) {
	now := a.clock.Now()

	p.Status = types.PromptAssigned
	p.AssignedSession = target.Name
	p.AssignedAt = now
	if err := a.store.UpdatePrompt(p); err != nil {
		a.logger.Error().Err(err).Int64("prompt_id", p.ID).Msg("failed to persist assignment")
		return
	}

	target.CurrentTaskID = p.ID
	target.Status = types.SessionBusy
	target.UpdatedAt = now
	a.persistSession(target)
	a.appendHistory(p.ID, target.Name, types.HistoryAssigned, "matched by assigner")

	capture, _ := a.term.Capture(ctx, target.Name, 0)
	a.mu.Lock()
	a.assignOffsets[target.Name] = len(capture)
	a.mu.Unlock()

	err := a.term.SendText(ctx, target.Name, p.Content)
	if err == nil {
		err = a.term.SendKey(ctx, target.Name, terminal.KeyEnter)
	}
	if err != nil {
		a.failInjection(p, target, err)
		return
	}

	metrics.PromptsAssignedTotal.Inc()
}

func (a *Assigner) failInjection(p *types.Prompt, target *types.Session, cause error) {
	// Revert: free the session, increment retry, mark prompt failed.
	p.Status = types.PromptFailed
	p.Error = cause.Error()
	p.RetryCount++
	if err := a.store.UpdatePrompt(p); err != nil {
		a.logger.Error().Err(err).Int64("prompt_id", p.ID).Msg("failed to persist injection failure")
	}

	target.CurrentTaskID = 0
	target.Status = types.SessionIdle
	target.UpdatedAt = a.clock.Now()
	a.persistSession(target)

	a.appendHistory(p.ID, target.Name, types.HistoryFailed, cause.Error())
	a.notify(events.SeverityWarning, p.ID, target.Name, "injection failed: "+cause.Error())
	metrics.PromptsFailedTotal.Inc()
}

// completionTick captures every busy session, classifies it, and
// advances matching prompts to completed or failed-on-timeout.
// Timeout is enforced per-prompt against assigned_at+timeout.
func (a *Assigner) completionTick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CompletionTickDuration)

	a.syncPanes(ctx)

	busySessions := a.busySessions()
	for _, s := range busySessions {
		select {
		case <-ctx.Done():
			return
		default:
		}
		a.evaluateSession(ctx, s)
	}
	a.refreshGauges()
}

// syncPanes reconciles the session cache against the panes the
// multiplexer actually knows: a registered session whose pane has
// vanished is demoted to unknown so matching stops routing to it.
func (a *Assigner) syncPanes(ctx context.Context) {
	panes, err := a.term.List(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("pane listing failed during completion tick")
		return
	}
	attached := make(map[string]bool, len(panes))
	for _, p := range panes {
		attached[p.Name] = true
	}

	for _, s := range a.snapshotSessions() {
		if attached[s.Name] || s.Status == types.SessionUnknown {
			continue
		}
		s.Status = types.SessionUnknown
		s.UpdatedAt = a.clock.Now()
		a.persistSession(s)
	}
}

// refreshGauges republishes the per-status prompt and session counts.
func (a *Assigner) refreshGauges() {
	prompts, err := a.store.ListPrompts()
	if err != nil {
		return
	}
	promptCounts := make(map[types.PromptStatus]int)
	for _, p := range prompts {
		promptCounts[p.Status]++
	}
	for _, st := range []types.PromptStatus{
		types.PromptPending, types.PromptAssigned, types.PromptInProgress,
		types.PromptCompleted, types.PromptFailed, types.PromptCancelled,
	} {
		metrics.PromptsTotal.WithLabelValues(string(st)).Set(float64(promptCounts[st]))
	}

	sessionCounts := make(map[types.SessionStatus]int)
	for _, s := range a.snapshotSessions() {
		sessionCounts[s.Status]++
	}
	for _, st := range []types.SessionStatus{
		types.SessionIdle, types.SessionBusy, types.SessionWaitingInput, types.SessionUnknown,
	} {
		metrics.SessionsTotal.WithLabelValues(string(st)).Set(float64(sessionCounts[st]))
	}
}

func (a *Assigner) busySessions() []*types.Session {
	all := a.snapshotSessions()
	out := make([]*types.Session, 0, len(all))
	for _, s := range all {
		if s.CurrentTaskID != 0 {
			out = append(out, s)
		}
	}
	return out
}

func (a *Assigner) evaluateSession(ctx context.Context, s *types.Session) {
	p, err := a.store.GetPrompt(s.CurrentTaskID)
	if err != nil {
		a.logger.Error().Err(err).Int64("prompt_id", s.CurrentTaskID).Msg("session references unknown prompt")
		return
	}

	capture, err := a.term.Capture(ctx, s.Name, 0)
	if err != nil {
		a.logger.Warn().Err(err).Str("session", s.Name).Msg("capture failed during completion tick")
		return
	}

	status := a.term.Classify(s.Name, capture)
	if status == types.SessionBusy && p.Status == types.PromptAssigned {
		p.Status = types.PromptInProgress
		_ = a.store.UpdatePrompt(p)
	}
	if status == types.SessionIdle {
		a.completePrompt(s, p, capture)
		return
	}
	// busy, waiting_input, or unknown: still subject to the deadline.
	a.checkTimeout(s, p)
}

func (a *Assigner) completePrompt(s *types.Session, p *types.Prompt, capture string) {
	now := a.clock.Now()

	a.mu.Lock()
	offset := a.assignOffsets[s.Name]
	delete(a.assignOffsets, s.Name)
	a.mu.Unlock()

	response := capture
	if offset >= 0 && offset <= len(capture) {
		response = strings.TrimSpace(capture[offset:])
	}

	p.Status = types.PromptCompleted
	p.CompletedAt = now
	p.Response = response
	if err := a.store.UpdatePrompt(p); err != nil {
		a.logger.Error().Err(err).Int64("prompt_id", p.ID).Msg("failed to persist completion")
		return
	}

	s.CurrentTaskID = 0
	s.Status = types.SessionIdle
	s.LastActivity = now
	s.LastOutput = response
	s.UpdatedAt = now
	a.persistSession(s)

	a.appendHistory(p.ID, s.Name, types.HistoryCompleted, "idle marker observed")
	metrics.PromptsCompletedTotal.Inc()
}

func (a *Assigner) checkTimeout(s *types.Session, p *types.Prompt) {
	if p.Timeout <= 0 {
		return
	}
	deadline := p.AssignedAt.Add(p.Timeout)
	if a.clock.Now().Before(deadline) {
		return
	}

	now := a.clock.Now()
	p.Status = types.PromptFailed
	p.Error = apierr.New(apierr.Timeout, "prompt exceeded its deadline without an idle marker").Error()
	if err := a.store.UpdatePrompt(p); err != nil {
		a.logger.Error().Err(err).Int64("prompt_id", p.ID).Msg("failed to persist timeout")
		return
	}

	s.CurrentTaskID = 0
	s.Status = types.SessionIdle
	s.UpdatedAt = now
	a.persistSession(s)

	a.appendHistory(p.ID, s.Name, types.HistoryFailed, "timeout")
	a.notify(events.SeverityWarning, p.ID, s.Name, "prompt timed out")
	metrics.PromptsFailedTotal.Inc()
}
