package engine

import (
	"context"

	"taskline/internal/domain"
)

// unblockDependents re-evaluates every blocked task that depends on the
// just-completed one. Each dependent's full dependency set is re-read
// live, never derived from the triggering event, so concurrent completes
// can race without leaving a task blocked forever: whichever evaluation
// runs last sees every dependency done.
//
// Failures are collected per dependent and reported as one retryable
// warning; the completed task stays completed either way.
func (e Engine) unblockDependents(ctx context.Context, ec domain.ExecutionContext, completedID string) ([]string, *domain.Error) {
	dependents, err := e.Store.TasksDependingOn(ctx, completedID)
	if err != nil {
		return nil, propagationWarning(completedID, 0, err)
	}
	now := e.nowRFC3339()
	var unblocked []string
	var failed int
	var firstErr error
	for _, dep := range dependents {
		if dep.Status != domain.StatusBlocked {
			continue
		}
		all, err := e.Store.TasksByIDs(ctx, dep.DependsOn)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		done := make(map[string]bool, len(all))
		for _, d := range all {
			done[d.ID] = d.Status == domain.StatusDone
		}
		var remaining []string
		for _, id := range dep.DependsOn {
			if !done[id] {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			dep.Status = domain.StatusBacklog
			dep.BlockedBy = nil
			dep.UpdatedAt = now
			if err := e.Store.SaveTask(ctx, dep); err != nil {
				failed++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			unblocked = append(unblocked, dep.ID)
			e.record(ctx, ec, "task.unblocked", "task", dep.ID, map[string]any{"after": completedID})
			continue
		}
		if equalStrings(remaining, dep.BlockedBy) {
			continue
		}
		dep.BlockedBy = remaining
		dep.UpdatedAt = now
		if err := e.Store.SaveTask(ctx, dep); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if failed > 0 {
		return unblocked, propagationWarning(completedID, failed, firstErr)
	}
	return unblocked, nil
}

// propagationWarning marks an incomplete unblocking pass. It is retryable:
// completing or reopening any dependency re-runs the evaluation, and a
// dependent stuck blocked can always be re-checked by a later completion.
func propagationWarning(completedID string, failed int, cause error) *domain.Error {
	w := domain.Internalf("unblocking after %s incomplete: %v", completedID, cause)
	if failed > 0 {
		w = w.WithDetail("failed_dependents", failed)
	}
	return w.WithDetail("completed_id", completedID)
}
