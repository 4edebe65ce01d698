package sqlitestore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"

	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/migrate"
	"taskline/internal/storage"
	"taskline/internal/storage/sqlitestore"
)

func newTestStore(t *testing.T) *sqlitestore.Store {
	t.Helper()
	conn, err := db.OpenFile(filepath.Join(t.TempDir(), "taskline.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sqlitestore.New(conn)
}

func ts(minute int) string {
	return fmt.Sprintf("2024-05-01T10:%02d:00Z", minute)
}

func wantCode(t *testing.T, err error, code domain.ErrorCode) {
	t.Helper()
	de := domain.AsError(err)
	if de == nil || de.Code != code {
		t.Fatalf("want %s, got %v", code, err)
	}
}

func TestWorkerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := domain.Worker{
		ID:          "w1",
		Name:        "Ana",
		Type:        domain.WorkerHuman,
		Roles:       []string{"lead"},
		Permissions: []string{"task:create", "task:read"},
		CreatedAt:   ts(0),
		UpdatedAt:   ts(0),
	}
	if err := s.SaveWorker(ctx, w); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || !reflect.DeepEqual(*got, w) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if got, err := s.GetWorker(ctx, "ghost"); err != nil || got != nil {
		t.Fatalf("absent worker: got %v, err %v", got, err)
	}

	w.Name = "Ana M."
	w.Roles = nil
	w.UpdatedAt = ts(1)
	if err := s.SaveWorker(ctx, w); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err = s.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if got.Name != "Ana M." || got.Roles != nil || got.UpdatedAt != ts(1) {
		t.Fatalf("upsert not applied: %+v", got)
	}

	bot := domain.Worker{ID: "w2", Name: "builder", Type: domain.WorkerAgent, CreatedAt: ts(2), UpdatedAt: ts(2)}
	if err := s.SaveWorker(ctx, bot); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	agents, err := s.ListWorkers(ctx, storage.WorkerFilter{Type: domain.WorkerAgent})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "w2" {
		t.Fatalf("type filter: %+v", agents)
	}
	all, err := s.ListWorkers(ctx, storage.WorkerFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 || all[0].ID != "w1" || all[1].ID != "w2" {
		t.Fatalf("created_at order: %+v", all)
	}

	if err := s.DeleteWorker(ctx, "w1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	wantCode(t, s.DeleteWorker(ctx, "w1"), domain.ErrNotFound)
}

func TestProjectRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := domain.Project{ID: "p1", Name: "platform", Status: domain.ProjectActive, CreatedAt: ts(0), UpdatedAt: ts(0)}
	if err := s.SaveProject(ctx, root); err != nil {
		t.Fatalf("save root: %v", err)
	}
	parentID := "p1"
	child := domain.Project{
		ID:          "p2",
		Name:        "ingest",
		Description: "ingest pipeline",
		ParentID:    &parentID,
		MemberIDs:   []string{"w2", "w1"},
		Status:      domain.ProjectActive,
		CreatedAt:   ts(1),
		UpdatedAt:   ts(1),
	}
	if err := s.SaveProject(ctx, child); err != nil {
		t.Fatalf("save child: %v", err)
	}

	got, err := s.GetProject(ctx, "p2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ParentID == nil || *got.ParentID != "p1" {
		t.Fatalf("parent lost: %+v", got)
	}
	if !reflect.DeepEqual(got.MemberIDs, []string{"w2", "w1"}) {
		t.Fatalf("member order lost: %v", got.MemberIDs)
	}

	children, err := s.ListProjects(ctx, storage.ProjectFilter{ParentID: "p1"})
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 1 || children[0].ID != "p2" {
		t.Fatalf("parent filter: %+v", children)
	}

	child.MemberIDs = []string{"w1"}
	child.Status = domain.ProjectArchived
	child.UpdatedAt = ts(2)
	if err := s.SaveProject(ctx, child); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err = s.GetProject(ctx, "p2")
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if !reflect.DeepEqual(got.MemberIDs, []string{"w1"}) || got.Status != domain.ProjectArchived {
		t.Fatalf("membership not replaced: %+v", got)
	}

	archived, err := s.ListProjects(ctx, storage.ProjectFilter{Status: domain.ProjectArchived})
	if err != nil {
		t.Fatalf("list archived: %v", err)
	}
	if len(archived) != 1 || archived[0].ID != "p2" {
		t.Fatalf("status filter: %+v", archived)
	}

	if err := s.DeleteProject(ctx, "p2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	wantCode(t, s.DeleteProject(ctx, "p2"), domain.ErrNotFound)
	if got, err := s.GetProject(ctx, "p2"); err != nil || got != nil {
		t.Fatalf("deleted project still readable: %v, %v", got, err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	save := func(task domain.Task) {
		t.Helper()
		if err := s.SaveTask(ctx, task); err != nil {
			t.Fatalf("save %s: %v", task.ID, err)
		}
	}

	save(domain.Task{ID: "d1", ProjectID: "p1", Title: "schema", OwnerID: "w1", Status: domain.StatusDone, Priority: domain.P1, CreatedAt: ts(0), UpdatedAt: ts(0)})
	save(domain.Task{ID: "d2", ProjectID: "p1", Title: "parser", OwnerID: "w2", Status: domain.StatusBacklog, Priority: domain.P2, CreatedAt: ts(1), UpdatedAt: ts(1)})
	save(domain.Task{
		ID:        "t1",
		ProjectID: "p1",
		Title:     "wire it up",
		OwnerID:   "w1",
		Status:    domain.StatusBlocked,
		Priority:  domain.P0,
		DependsOn: []string{"d1", "d2"},
		BlockedBy: []string{"d2"},
		Context:   "follows the parser work",
		Goal:      "end to end flow",
		CreatedAt: ts(2),
		UpdatedAt: ts(2),
	})

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got.DependsOn, []string{"d1", "d2"}) {
		t.Fatalf("depends_on order lost: %v", got.DependsOn)
	}
	if !reflect.DeepEqual(got.BlockedBy, []string{"d2"}) {
		t.Fatalf("blocked_by lost: %v", got.BlockedBy)
	}
	if got.Context != "follows the parser work" || got.Goal != "end to end flow" {
		t.Fatalf("text fields lost: %+v", got)
	}

	// Clearing blocked_by keeps the dependency edges.
	got.Status = domain.StatusBacklog
	got.BlockedBy = nil
	got.UpdatedAt = ts(3)
	save(*got)
	got, err = s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get after unblock: %v", err)
	}
	if len(got.BlockedBy) != 0 || !reflect.DeepEqual(got.DependsOn, []string{"d1", "d2"}) {
		t.Fatalf("unblock lost edges: %+v", got)
	}

	completed := ts(4)
	save(domain.Task{
		ID:          "t2",
		ProjectID:   "p2",
		Title:       "ship report",
		OwnerID:     "w2",
		Status:      domain.StatusDone,
		Priority:    domain.P3,
		Deliverable: "pdf in bucket",
		Approval:    &domain.Approval{Mode: domain.ApprovalManual, ApproverID: "w9", ApprovedAt: ts(4)},
		CreatedAt:   ts(3),
		UpdatedAt:   ts(4),
		CompletedAt: &completed,
	})
	t2, err := s.GetTask(ctx, "t2")
	if err != nil {
		t.Fatalf("get t2: %v", err)
	}
	if t2.Approval == nil || t2.Approval.Mode != domain.ApprovalManual || t2.Approval.ApproverID != "w9" {
		t.Fatalf("approval lost: %+v", t2.Approval)
	}
	if t2.CompletedAt == nil || *t2.CompletedAt != completed {
		t.Fatalf("completed_at lost: %+v", t2.CompletedAt)
	}

	dependents, err := s.TasksDependingOn(ctx, "d2")
	if err != nil {
		t.Fatalf("depending on: %v", err)
	}
	if len(dependents) != 1 || dependents[0].ID != "t1" {
		t.Fatalf("reverse index: %+v", dependents)
	}

	batch, err := s.TasksByIDs(ctx, []string{"d2", "t1", "ghost"})
	if err != nil {
		t.Fatalf("by ids: %v", err)
	}
	if len(batch) != 2 || batch[0].ID != "d2" || batch[1].ID != "t1" {
		t.Fatalf("batch order: %+v", batch)
	}

	p0 := domain.P0
	filtered, err := s.ListTasks(ctx, storage.TaskFilter{ProjectID: "p1", Priority: &p0})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "t1" {
		t.Fatalf("priority filter: %+v", filtered)
	}
	byOwner, err := s.ListTasks(ctx, storage.TaskFilter{OwnerID: "w1"})
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(byOwner) != 2 || byOwner[0].ID != "d1" || byOwner[1].ID != "t1" {
		t.Fatalf("owner filter order: %+v", byOwner)
	}

	if err := s.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	wantCode(t, s.DeleteTask(ctx, "t1"), domain.ErrNotFound)
	// The cascade removed t1's dependency rows.
	dependents, err = s.TasksDependingOn(ctx, "d1")
	if err != nil {
		t.Fatalf("depending on after delete: %v", err)
	}
	if len(dependents) != 0 {
		t.Fatalf("stale dependency rows: %+v", dependents)
	}
}

func TestEventLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record := func(typ, kind, id string, payload map[string]any) {
		t.Helper()
		e := domain.Event{TS: ts(0), Type: typ, EntityKind: kind, EntityID: id, ActorID: "w1", Payload: payload}
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	record("task.created", "task", "t1", map[string]any{"project_id": "p1"})
	record("task.started", "task", "t1", nil)
	record("project.archived", "project", "p1", map[string]any{"parent_id": ""})

	events, err := s.ListEvents(ctx, storage.EventFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("want 3 events, got %d", len(events))
	}
	if events[0].Type != "project.archived" || events[2].Type != "task.created" {
		t.Fatalf("not newest first: %+v", events)
	}
	if events[0].ID <= events[1].ID {
		t.Fatalf("ids not monotonic: %+v", events)
	}
	if events[1].Payload != nil {
		t.Fatalf("nil payload round trip: %+v", events[1].Payload)
	}
	if events[2].Payload["project_id"] != "p1" {
		t.Fatalf("payload round trip: %+v", events[2].Payload)
	}

	tasksOnly, err := s.ListEvents(ctx, storage.EventFilter{EntityKind: "task", Limit: 1})
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(tasksOnly) != 1 || tasksOnly[0].Type != "task.started" {
		t.Fatalf("filter with limit: %+v", tasksOnly)
	}
}
