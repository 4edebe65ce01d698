package engine

import (
	"context"

	"taskline/internal/domain"
)

// unmetDependencies resolves every dependency id, one at a time, failing
// fast with NOT_FOUND on the first miss. It returns the subset whose
// status is not done, preserving input order; that subset is the new
// task's initial blocked_by set.
func (e Engine) unmetDependencies(ctx context.Context, deps []string) ([]string, error) {
	var unmet []string
	for _, id := range deps {
		dep, err := e.Store.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if dep == nil {
			return nil, domain.NotFound("task", id)
		}
		if dep.Status != domain.StatusDone {
			unmet = append(unmet, id)
		}
	}
	return unmet, nil
}

type depFrame struct {
	id       string
	expanded bool
}

// wouldCreateCycle walks the dependency edges reachable from roots with an
// explicit stack. A gray hit (a node already on the current path) means a
// cycle. Missing records are dead ends; existence is the caller's check.
func (e Engine) wouldCreateCycle(ctx context.Context, roots []string) (bool, error) {
	visited := map[string]bool{}
	onPath := map[string]bool{}
	for _, root := range roots {
		if visited[root] {
			continue
		}
		stack := []depFrame{{id: root}}
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			if f.expanded {
				onPath[f.id] = false
				visited[f.id] = true
				stack = stack[:len(stack)-1]
				continue
			}
			f.expanded = true
			if visited[f.id] {
				stack = stack[:len(stack)-1]
				continue
			}
			onPath[f.id] = true
			t, err := e.Store.GetTask(ctx, f.id)
			if err != nil {
				return false, err
			}
			if t == nil {
				continue
			}
			for _, dep := range t.DependsOn {
				if onPath[dep] {
					return true, nil
				}
				if !visited[dep] {
					stack = append(stack, depFrame{id: dep})
				}
			}
		}
	}
	return false, nil
}
