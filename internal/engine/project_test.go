package engine_test

import (
	"testing"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/storage"
)

func TestCreateProjectValidation(t *testing.T) {
	v := newEnv(t)

	_, err := v.eng.CreateProject(v.ctx, v.admin, engine.ProjectCreateOptions{})
	wantCode(t, err, domain.ErrInvalidInput)

	_, err = v.eng.CreateProject(v.ctx, v.admin, engine.ProjectCreateOptions{Name: "x", ParentID: "ghost"})
	wantCode(t, err, domain.ErrNotFound)

	_, err = v.eng.CreateProject(v.ctx, v.admin, engine.ProjectCreateOptions{Name: "x", MemberIDs: []string{"ghost"}})
	wantCode(t, err, domain.ErrNotFound)

	root := v.project("root")
	if _, err := v.eng.ArchiveProject(v.ctx, v.admin, root.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	_, err = v.eng.CreateProject(v.ctx, v.admin, engine.ProjectCreateOptions{Name: "x", ParentID: root.ID})
	wantCode(t, err, domain.ErrConflict)
}

func TestArchiveProjectCascades(t *testing.T) {
	v := newEnv(t)
	w := v.worker("ana")
	root := v.project("root", w.ID)
	child := v.subProject("child", root.ID, w.ID)
	grand := v.subProject("grand", child.ID, w.ID)
	side := v.subProject("side", root.ID, w.ID)

	tk := v.task(grand.ID, w.ID, "deep work")
	v.finish(tk.ID)

	got, err := v.eng.ArchiveProject(v.ctx, v.admin, root.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if got.Status != domain.ProjectArchived {
		t.Fatalf("root not archived: %s", got.Status)
	}
	for _, id := range []string{child.ID, grand.ID, side.ID} {
		p, err := v.eng.GetProject(v.ctx, v.admin, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if p.Status != domain.ProjectArchived {
			t.Fatalf("project %s not archived", id)
		}
	}
}

func TestArchiveProjectConflictLeavesTreeUntouched(t *testing.T) {
	v := newEnv(t)
	w := v.worker("ana")
	root := v.project("root", w.ID)
	child := v.subProject("child", root.ID, w.ID)
	v.task(child.ID, w.ID, "open work")

	_, err := v.eng.ArchiveProject(v.ctx, v.admin, root.ID)
	wantCode(t, err, domain.ErrConflict)
	de := domain.AsError(err)
	if de.Details["incomplete_tasks"] != 1 {
		t.Fatalf("conflict should report the count: %+v", de.Details)
	}

	// validation precedes every write: nothing was archived
	for _, id := range []string{root.ID, child.ID} {
		p, err := v.eng.GetProject(v.ctx, v.admin, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if p.Status != domain.ProjectActive {
			t.Fatalf("project %s archived despite conflict", id)
		}
	}
}

func TestArchiveProjectIdempotent(t *testing.T) {
	v := newEnv(t)
	root := v.project("root")
	child := v.subProject("child", root.ID)

	if _, err := v.eng.ArchiveProject(v.ctx, v.admin, child.ID); err != nil {
		t.Fatalf("archive child: %v", err)
	}
	archivedChild, err := v.eng.GetProject(v.ctx, v.admin, child.ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}

	if _, err := v.eng.ArchiveProject(v.ctx, v.admin, root.ID); err != nil {
		t.Fatalf("archive root: %v", err)
	}
	// already-archived child must not be re-stamped
	after, err := v.eng.GetProject(v.ctx, v.admin, child.ID)
	if err != nil {
		t.Fatalf("get child: %v", err)
	}
	if after.UpdatedAt != archivedChild.UpdatedAt {
		t.Fatalf("archived child re-written: %s -> %s", archivedChild.UpdatedAt, after.UpdatedAt)
	}

	// and archiving the root again is a no-op
	rootBefore, _ := v.eng.GetProject(v.ctx, v.admin, root.ID)
	again, err := v.eng.ArchiveProject(v.ctx, v.admin, root.ID)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if again.UpdatedAt != rootBefore.UpdatedAt {
		t.Fatalf("no-op archive must not modify the project")
	}
}

func TestDeleteProjectGuards(t *testing.T) {
	v := newEnv(t)
	w := v.worker("ana")
	root := v.project("root", w.ID)
	child := v.subProject("child", root.ID, w.ID)
	tk := v.task(root.ID, w.ID, "work")
	v.finish(tk.ID)

	err := v.eng.DeleteProject(v.ctx, v.admin, root.ID)
	wantCode(t, err, domain.ErrConflict) // not archived

	if _, err := v.eng.ArchiveProject(v.ctx, v.admin, root.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	err = v.eng.DeleteProject(v.ctx, v.admin, root.ID)
	wantCode(t, err, domain.ErrConflict) // sub-project exists

	if err := v.eng.DeleteProject(v.ctx, v.admin, child.ID); err != nil {
		t.Fatalf("delete child: %v", err)
	}
	err = v.eng.DeleteProject(v.ctx, v.admin, root.ID)
	wantCode(t, err, domain.ErrConflict) // done task still recorded

	if err := v.eng.DeleteTask(v.ctx, v.admin, tk.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if err := v.eng.DeleteProject(v.ctx, v.admin, root.ID); err != nil {
		t.Fatalf("delete root: %v", err)
	}
	err = v.eng.DeleteProject(v.ctx, v.admin, root.ID)
	wantCode(t, err, domain.ErrNotFound)
}

func TestProjectMembers(t *testing.T) {
	v := newEnv(t)
	ana := v.worker("ana")
	bob := v.worker("bob")
	p := v.project("core", ana.ID)

	_, err := v.eng.AddMember(v.ctx, v.admin, p.ID, "ghost")
	wantCode(t, err, domain.ErrNotFound)

	_, err = v.eng.AddMember(v.ctx, v.admin, p.ID, ana.ID)
	wantCode(t, err, domain.ErrConflict) // already a member

	got, err := v.eng.AddMember(v.ctx, v.admin, p.ID, bob.ID)
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	if !got.HasMember(bob.ID) {
		t.Fatalf("bob not added: %v", got.MemberIDs)
	}

	_, err = v.eng.RemoveMember(v.ctx, v.admin, p.ID, "ghost")
	wantCode(t, err, domain.ErrNotFound)

	tk := v.task(p.ID, bob.ID, "bob's work")
	_, err = v.eng.RemoveMember(v.ctx, v.admin, p.ID, bob.ID)
	wantCode(t, err, domain.ErrConflict) // owns an open task

	v.finish(tk.ID)
	got, err = v.eng.RemoveMember(v.ctx, v.admin, p.ID, bob.ID)
	if err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if got.HasMember(bob.ID) {
		t.Fatalf("bob not removed: %v", got.MemberIDs)
	}
}

func TestArchivedProjectFreezes(t *testing.T) {
	v := newEnv(t)
	ana := v.worker("ana")
	bob := v.worker("bob")
	p := v.project("core", ana.ID, bob.ID)
	tk := v.task(p.ID, ana.ID, "work")
	v.finish(tk.ID)

	if _, err := v.eng.ArchiveProject(v.ctx, v.admin, p.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	_, err := v.eng.CreateTask(v.ctx, v.admin, engine.TaskCreateOptions{ProjectID: p.ID, Title: "late", OwnerID: ana.ID})
	wantCode(t, err, domain.ErrConflict)

	_, err = v.eng.AddMember(v.ctx, v.admin, p.ID, v.worker("carl").ID)
	wantCode(t, err, domain.ErrConflict)

	_, err = v.eng.RemoveMember(v.ctx, v.admin, p.ID, bob.ID)
	wantCode(t, err, domain.ErrConflict)

	name := "renamed"
	_, err = v.eng.UpdateProject(v.ctx, v.admin, engine.ProjectUpdateOptions{ID: p.ID, Name: &name})
	wantCode(t, err, domain.ErrConflict)

	_, err = v.eng.ReopenTask(v.ctx, v.admin, tk.ID)
	wantCode(t, err, domain.ErrConflict)

	title := "renamed"
	_, err = v.eng.UpdateTask(v.ctx, v.admin, engine.TaskUpdateOptions{ID: tk.ID, Title: &title})
	wantCode(t, err, domain.ErrConflict)
}

func TestListProjectsByParent(t *testing.T) {
	v := newEnv(t)
	root := v.project("root")
	c1 := v.subProject("c1", root.ID)
	c2 := v.subProject("c2", root.ID)
	v.project("other")

	children, err := v.eng.ListProjects(v.ctx, v.admin, storage.ProjectFilter{ParentID: root.ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("want 2 children, got %d", len(children))
	}
	if children[0].ID != c1.ID || children[1].ID != c2.ID {
		t.Fatalf("unexpected order: %s, %s", children[0].ID, children[1].ID)
	}
}
