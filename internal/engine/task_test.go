package engine_test

import (
	"testing"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
)

func TestStartTask(t *testing.T) {
	v := newEnv(t)
	owner := v.worker("ana")
	other := v.worker("bob")
	p := v.project("core", owner.ID, other.ID)

	tk := v.task(p.ID, owner.ID, "work")

	_, err := v.eng.StartTask(v.ctx, ctxFor(other.ID, auth.TaskStart), tk.ID)
	wantCode(t, err, domain.ErrForbidden)

	started, err := v.eng.StartTask(v.ctx, ctxFor(owner.ID, auth.TaskStart), tk.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != domain.StatusActive {
		t.Fatalf("want active, got %s", started.Status)
	}

	_, err = v.eng.StartTask(v.ctx, ctxFor(owner.ID, auth.TaskStart), tk.ID)
	wantCode(t, err, domain.ErrConflict)

	// task:manage overrides the ownership guard
	managed := v.task(p.ID, owner.ID, "managed")
	if _, err := v.eng.StartTask(v.ctx, ctxFor(other.ID, auth.TaskStart, auth.TaskManage), managed.ID); err != nil {
		t.Fatalf("start with manage: %v", err)
	}
}

func TestStartTaskBlockedAndStaleDependencies(t *testing.T) {
	v := newEnv(t)
	w := v.worker("ana")
	p := v.project("core", w.ID)

	dep := v.task(p.ID, w.ID, "dep")
	blocked := v.task(p.ID, w.ID, "gated", dep.ID)
	_, err := v.eng.StartTask(v.ctx, v.admin, blocked.ID)
	wantCode(t, err, domain.ErrConflict)

	// Unblock by finishing the dependency, then reopen it: the dependent
	// stays backlog but the start guard re-reads the dependency live.
	v.finish(dep.ID)
	if got := v.reload(blocked.ID); got.Status != domain.StatusBacklog {
		t.Fatalf("want backlog after dep done, got %s", got.Status)
	}
	if _, err := v.eng.ReopenTask(v.ctx, v.admin, dep.ID); err != nil {
		t.Fatalf("reopen dep: %v", err)
	}
	if got := v.reload(blocked.ID); got.Status != domain.StatusBacklog {
		t.Fatalf("reopen must not re-block dependents, got %s", got.Status)
	}
	_, err = v.eng.StartTask(v.ctx, v.admin, blocked.ID)
	wantCode(t, err, domain.ErrConflict)

	v.finish(dep.ID)
	if _, err := v.eng.StartTask(v.ctx, v.admin, blocked.ID); err != nil {
		t.Fatalf("start after dep done again: %v", err)
	}
}

func TestCompleteTaskReviewFlow(t *testing.T) {
	v := newEnv(t)
	owner := v.worker("ana") // no task:approve on the record
	p := v.project("core", owner.ID)
	tk := v.task(p.ID, owner.ID, "work")

	ec := ctxFor(owner.ID, auth.TaskStart, auth.TaskComplete)
	if _, err := v.eng.StartTask(v.ctx, ec, tk.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := v.eng.CompleteTask(v.ctx, ec, tk.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Task.Status != domain.StatusReview {
		t.Fatalf("want review, got %s", res.Task.Status)
	}
	if res.Task.Approval != nil || res.Task.CompletedAt != nil {
		t.Fatalf("review must carry no approval: %+v", res.Task)
	}
	if len(res.Unblocked) != 0 {
		t.Fatalf("review must not propagate: %v", res.Unblocked)
	}

	_, err = v.eng.CompleteTask(v.ctx, ec, tk.ID)
	wantCode(t, err, domain.ErrConflict)
}

func TestCompleteTaskAutoApproval(t *testing.T) {
	v := newEnv(t)
	owner := v.worker("ana", auth.TaskApprove)
	p := v.project("core", owner.ID)
	tk := v.task(p.ID, owner.ID, "work")
	gated := v.task(p.ID, owner.ID, "gated", tk.ID)

	// quick completion straight from backlog
	res, err := v.eng.CompleteTask(v.ctx, ctxFor(owner.ID, auth.TaskComplete), tk.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Task.Status != domain.StatusDone {
		t.Fatalf("want done, got %s", res.Task.Status)
	}
	ap := res.Task.Approval
	if ap == nil || ap.Mode != domain.ApprovalAuto || ap.ApproverID != owner.ID {
		t.Fatalf("bad approval record: %+v", ap)
	}
	if res.Task.CompletedAt == nil {
		t.Fatalf("completed_at not stamped")
	}
	if len(res.Unblocked) != 1 || res.Unblocked[0] != gated.ID {
		t.Fatalf("want unblocked [%s], got %v", gated.ID, res.Unblocked)
	}
	if res.Warning != nil {
		t.Fatalf("unexpected warning: %v", res.Warning)
	}
}

func TestApproveTask(t *testing.T) {
	v := newEnv(t)
	owner := v.worker("ana")
	approver := v.worker("rex", auth.TaskApprove)
	p := v.project("core", owner.ID, approver.ID)
	tk := v.task(p.ID, owner.ID, "work")
	gated := v.task(p.ID, owner.ID, "gated", tk.ID)

	_, err := v.eng.ApproveTask(v.ctx, ctxFor(approver.ID, auth.TaskApprove), tk.ID)
	wantCode(t, err, domain.ErrConflict) // not in review

	ec := ctxFor(owner.ID, auth.TaskStart, auth.TaskComplete)
	if _, err := v.eng.StartTask(v.ctx, ec, tk.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := v.eng.CompleteTask(v.ctx, ec, tk.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err = v.eng.ApproveTask(v.ctx, ctxFor(owner.ID, auth.TaskComplete), tk.ID)
	wantCode(t, err, domain.ErrForbidden)

	res, err := v.eng.ApproveTask(v.ctx, ctxFor(approver.ID, auth.TaskApprove), tk.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Task.Status != domain.StatusDone {
		t.Fatalf("want done, got %s", res.Task.Status)
	}
	if res.Task.Approval == nil || res.Task.Approval.Mode != domain.ApprovalManual || res.Task.Approval.ApproverID != approver.ID {
		t.Fatalf("bad approval record: %+v", res.Task.Approval)
	}
	if len(res.Unblocked) != 1 || res.Unblocked[0] != gated.ID {
		t.Fatalf("approval must propagate, got %v", res.Unblocked)
	}
}

func TestReopenTask(t *testing.T) {
	v := newEnv(t)
	w := v.worker("ana", auth.TaskApprove)
	p := v.project("core", w.ID)
	tk := v.task(p.ID, w.ID, "work")

	_, err := v.eng.ReopenTask(v.ctx, v.admin, tk.ID)
	wantCode(t, err, domain.ErrConflict) // not done yet

	v.finish(tk.ID)
	reopened, err := v.eng.ReopenTask(v.ctx, v.admin, tk.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != domain.StatusBacklog {
		t.Fatalf("want backlog, got %s", reopened.Status)
	}
	if reopened.Approval != nil || reopened.CompletedAt != nil {
		t.Fatalf("approval must be cleared on reopen: %+v", reopened)
	}
}

func TestAssignTask(t *testing.T) {
	v := newEnv(t)
	ana := v.worker("ana")
	bob := v.worker("bob")
	out := v.worker("out")
	p := v.project("core", ana.ID, bob.ID)
	tk := v.task(p.ID, ana.ID, "work")

	_, err := v.eng.AssignTask(v.ctx, v.admin, tk.ID, "ghost")
	wantCode(t, err, domain.ErrNotFound)

	_, err = v.eng.AssignTask(v.ctx, v.admin, tk.ID, out.ID)
	wantCode(t, err, domain.ErrForbidden)

	got, err := v.eng.AssignTask(v.ctx, v.admin, tk.ID, bob.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.OwnerID != bob.ID {
		t.Fatalf("want owner %s, got %s", bob.ID, got.OwnerID)
	}
}

func TestMoveTask(t *testing.T) {
	v := newEnv(t)
	ana := v.worker("ana")
	p1 := v.project("one", ana.ID)
	p2 := v.project("two", ana.ID)
	p3 := v.project("three") // ana is not a member
	tk := v.task(p1.ID, ana.ID, "work")

	_, err := v.eng.MoveTask(v.ctx, v.admin, tk.ID, "ghost")
	wantCode(t, err, domain.ErrNotFound)

	_, err = v.eng.MoveTask(v.ctx, v.admin, tk.ID, p3.ID)
	wantCode(t, err, domain.ErrForbidden)

	got, err := v.eng.MoveTask(v.ctx, v.admin, tk.ID, p2.ID)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if got.ProjectID != p2.ID {
		t.Fatalf("want project %s, got %s", p2.ID, got.ProjectID)
	}

	if _, err := v.eng.ArchiveProject(v.ctx, v.admin, p3.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	_, err = v.eng.MoveTask(v.ctx, v.admin, tk.ID, p3.ID)
	wantCode(t, err, domain.ErrConflict)
}

func TestUpdateTask(t *testing.T) {
	v := newEnv(t)
	w := v.worker("ana")
	p := v.project("core", w.ID)
	tk := v.task(p.ID, w.ID, "work")

	title := "renamed"
	prio := domain.P0
	goal := "ship it"
	got, err := v.eng.UpdateTask(v.ctx, v.admin, engine.TaskUpdateOptions{
		ID: tk.ID, Title: &title, Priority: &prio, Goal: &goal,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != "renamed" || got.Priority != domain.P0 || got.Goal != "ship it" {
		t.Fatalf("update lost fields: %+v", got)
	}
	if got.Status != tk.Status {
		t.Fatalf("update must not touch status")
	}

	empty := ""
	_, err = v.eng.UpdateTask(v.ctx, v.admin, engine.TaskUpdateOptions{ID: tk.ID, Title: &empty})
	wantCode(t, err, domain.ErrInvalidInput)
}

func TestDeleteTaskDependentGuard(t *testing.T) {
	v := newEnv(t)
	w := v.worker("ana")
	p := v.project("core", w.ID)

	dep := v.task(p.ID, w.ID, "dep")
	child := v.task(p.ID, w.ID, "child", dep.ID)

	err := v.eng.DeleteTask(v.ctx, v.admin, dep.ID)
	wantCode(t, err, domain.ErrConflict)
	if de := domain.AsError(err); de.Details["dependent_ids"] == nil {
		t.Fatalf("conflict should name dependents: %+v", de.Details)
	}

	if err := v.eng.DeleteTask(v.ctx, v.admin, child.ID); err != nil {
		t.Fatalf("delete child: %v", err)
	}
	if err := v.eng.DeleteTask(v.ctx, v.admin, dep.ID); err != nil {
		t.Fatalf("delete dep after child gone: %v", err)
	}
	err = v.eng.DeleteTask(v.ctx, v.admin, dep.ID)
	wantCode(t, err, domain.ErrNotFound)
}
