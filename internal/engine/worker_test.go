package engine_test

import (
	"testing"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/storage"
)

func TestCreateWorker(t *testing.T) {
	v := newEnv(t)

	w, err := v.eng.CreateWorker(v.ctx, v.admin, engine.WorkerCreateOptions{Name: "ana"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Type != domain.WorkerHuman {
		t.Fatalf("want default type human, got %s", w.Type)
	}

	_, err = v.eng.CreateWorker(v.ctx, v.admin, engine.WorkerCreateOptions{Name: "bot", Type: "robot"})
	wantCode(t, err, domain.ErrInvalidInput)

	_, err = v.eng.CreateWorker(v.ctx, v.admin, engine.WorkerCreateOptions{Name: "bot", Permissions: []string{"task:fly"}})
	wantCode(t, err, domain.ErrInvalidInput)

	agent, err := v.eng.CreateWorker(v.ctx, v.admin, engine.WorkerCreateOptions{
		Name: "bot", Type: domain.WorkerAgent, Roles: []string{"contributor", "contributor"},
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if len(agent.Roles) != 1 {
		t.Fatalf("roles not deduplicated: %v", agent.Roles)
	}
}

func TestUpdateWorker(t *testing.T) {
	v := newEnv(t)
	w := v.worker("ana")

	name := "ana maria"
	perms := []string{auth.TaskApprove}
	got, err := v.eng.UpdateWorker(v.ctx, v.admin, engine.WorkerUpdateOptions{ID: w.ID, Name: &name, Permissions: &perms})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != "ana maria" || len(got.Permissions) != 1 {
		t.Fatalf("update lost fields: %+v", got)
	}

	bad := []string{"nope"}
	_, err = v.eng.UpdateWorker(v.ctx, v.admin, engine.WorkerUpdateOptions{ID: w.ID, Permissions: &bad})
	wantCode(t, err, domain.ErrInvalidInput)

	_, err = v.eng.UpdateWorker(v.ctx, v.admin, engine.WorkerUpdateOptions{ID: "ghost", Name: &name})
	wantCode(t, err, domain.ErrNotFound)
}

func TestDeleteWorkerOpenTaskGuard(t *testing.T) {
	v := newEnv(t)
	w := v.worker("ana")
	p := v.project("core", w.ID)
	tk := v.task(p.ID, w.ID, "work")

	err := v.eng.DeleteWorker(v.ctx, v.admin, w.ID)
	wantCode(t, err, domain.ErrConflict)
	if de := domain.AsError(err); de.Details["open_tasks"] != 1 {
		t.Fatalf("conflict should report open count: %+v", de.Details)
	}

	v.finish(tk.ID)
	if err := v.eng.DeleteWorker(v.ctx, v.admin, w.ID); err != nil {
		t.Fatalf("delete after done: %v", err)
	}
	err = v.eng.DeleteWorker(v.ctx, v.admin, w.ID)
	wantCode(t, err, domain.ErrNotFound)
}

func TestListWorkersByType(t *testing.T) {
	v := newEnv(t)
	v.worker("ana")
	if _, err := v.eng.CreateWorker(v.ctx, v.admin, engine.WorkerCreateOptions{Name: "bot", Type: domain.WorkerAgent}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	agents, err := v.eng.ListWorkers(v.ctx, v.admin, storage.WorkerFilter{Type: domain.WorkerAgent})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "bot" {
		t.Fatalf("type filter broken: %+v", agents)
	}
}
