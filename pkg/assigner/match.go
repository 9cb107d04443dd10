package assigner

import (
	"context"
	"sort"

	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/types"
)

// matchTick runs one pass of the matching algorithm over every
// currently-pending prompt, in priority order, so a high-priority
// prompt whose hard target is busy does not starve lower-priority
// prompts that can be placed this tick.
func (a *Assigner) matchTick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MatchingTickDuration)

	pending, err := a.store.ListPromptsByStatus(types.PromptPending)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list pending prompts")
		return
	}
	sortPendingByPriority(pending)
	if batch := a.config().MatchBatchSize; batch > 0 && len(pending) > batch {
		pending = pending[:batch]
	}

	// candidates is refreshed between prompts since each successful
	// match removes its session from the pool within this tick.
	for _, p := range pending {
		select {
		case <-ctx.Done():
			return
		default:
		}

		candidates := a.idleCandidates()
		target := pickCandidate(p, candidates)
		if target == nil {
			continue
		}
		a.assign(ctx, p, target)
	}
}

// idleCandidates returns every registered, non-excluded session whose
// status is idle.
func (a *Assigner) idleCandidates() []*types.Session {
	all := a.snapshotSessions()
	excluded := a.config().ExcludedSessions
	out := make([]*types.Session, 0, len(all))
	for _, s := range all {
		if s.Excluded || excluded[s.Name] {
			continue
		}
		if s.Status != types.SessionIdle {
			continue
		}
		out = append(out, s)
	}
	return out
}

// pickCandidate narrows the candidate pool for a single prompt against
// the current candidate pool.
func pickCandidate(p *types.Prompt, candidates []*types.Session) *types.Session {
	// Step 2: hard target.
	if p.TargetSession != "" {
		for _, s := range candidates {
			if s.Name == p.TargetSession {
				return s
			}
		}
		return nil // do not relax the hard target
	}

	// Step 3: provider preference with fallback walk.
	if p.TargetProvider != "" {
		if match := filterByProvider(candidates, p.TargetProvider); len(match) > 0 {
			return loadTieBreak(match)
		}
		for _, fb := range p.FallbackProviders {
			if match := filterByProvider(candidates, fb); len(match) > 0 {
				return loadTieBreak(match)
			}
		}
		return nil
	}

	// No target/provider hint: any idle candidate, load tie-break.
	if len(candidates) == 0 {
		return nil
	}
	return loadTieBreak(candidates)
}

func filterByProvider(candidates []*types.Session, provider types.Provider) []*types.Session {
	out := make([]*types.Session, 0, len(candidates))
	for _, s := range candidates {
		if s.Provider == provider {
			out = append(out, s)
		}
	}
	return out
}

// loadTieBreak picks the oldest last_activity, ties broken
// lexicographically by session name for determinism.
func loadTieBreak(candidates []*types.Session) *types.Session {
	sorted := append([]*types.Session(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].LastActivity.Equal(sorted[j].LastActivity) {
			return sorted[i].LastActivity.Before(sorted[j].LastActivity)
		}
		return sorted[i].Name < sorted[j].Name
	})
	return sorted[0]
}
