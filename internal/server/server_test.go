package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"taskline/internal/config"
	"taskline/internal/engine"
	"taskline/internal/storage/memstore"
)

const testSecret = "server-test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	cfg := config.Default("taskline-test")
	e := engine.New(memstore.New())
	handler, err := New(Config{
		Engine: e,
		Cfg:    cfg,
		Auth:   AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func authHeaders(t *testing.T, actorID string, roles, permissions []string) map[string]string {
	t.Helper()
	token, err := MintToken(testSecret, actorID, roles, permissions, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Retryable bool           `json:"retryable"`
		Details   map[string]any `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func TestHealthNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeEnvelope(t, data)
	if env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d: %s", res.StatusCode, string(data))
	}

	expired, err := MintToken(testSecret, "root", nil, nil, -time.Minute)
	if err != nil {
		t.Fatalf("mint expired token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{
		"Authorization": "Bearer " + expired,
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with expired token, got %d: %s", res.StatusCode, string(data))
	}
}

func TestPermissionDenied(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	builder := authHeaders(t, "mallory", []string{"builder"}, nil)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"name": "Skunkworks",
	}, builder)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeEnvelope(t, data)
	if env.Error.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %q", env.Error.Code)
	}
	if env.Error.Retryable {
		t.Fatalf("permission errors must not be retryable")
	}
}

func TestTaskLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	root := authHeaders(t, "root", nil, nil)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/workers", map[string]any{
		"name": "Ada", "type": "human",
	}, root)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create worker: %d %s", res.StatusCode, string(data))
	}
	var ada WorkerResponse
	if err := json.Unmarshal(data, &ada); err != nil {
		t.Fatalf("unmarshal worker: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workers", map[string]any{
		"name": "Bot", "type": "agent", "roles": []string{"builder"},
	}, root)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create worker: %d %s", res.StatusCode, string(data))
	}
	var bot WorkerResponse
	_ = json.Unmarshal(data, &bot)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"name":       "Build",
		"member_ids": []string{ada.ID, bot.ID},
	}, root)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	var project ProjectResponse
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"project_id": project.ID,
		"title":      "Write schema",
		"owner_id":   ada.ID,
		"priority":   "P1",
	}, root)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create dep task: %d %s", res.StatusCode, string(data))
	}
	var dep TaskResponse
	if err := json.Unmarshal(data, &dep); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if dep.Status != "backlog" || dep.Priority != "P1" {
		t.Fatalf("unexpected dep task: %+v", dep)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"project_id": project.ID,
		"title":      "Build API",
		"owner_id":   bot.ID,
		"depends_on": []string{dep.ID},
	}, root)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create main task: %d %s", res.StatusCode, string(data))
	}
	var main TaskResponse
	_ = json.Unmarshal(data, &main)
	if main.Status != "blocked" {
		t.Fatalf("expected blocked, got %s", main.Status)
	}
	if len(main.BlockedBy) != 1 || main.BlockedBy[0] != dep.ID {
		t.Fatalf("expected blocked_by [%s], got %v", dep.ID, main.BlockedBy)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/ready?project_id="+project.ID, nil, root)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ready tasks: %d %s", res.StatusCode, string(data))
	}
	var ready []TaskResponse
	_ = json.Unmarshal(data, &ready)
	if len(ready) != 1 || ready[0].ID != dep.ID {
		t.Fatalf("expected ready [%s], got %+v", dep.ID, ready)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/blocked?project_id="+project.ID, nil, root)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("blocked tasks: %d %s", res.StatusCode, string(data))
	}
	var blocked []BlockedTaskResponse
	_ = json.Unmarshal(data, &blocked)
	if len(blocked) != 1 || blocked[0].Task.ID != main.ID || len(blocked[0].Blockers) != 1 {
		t.Fatalf("unexpected blocked list: %+v", blocked)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+dep.ID+"/start", nil, root)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start dep: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+dep.ID+"/complete", nil, root)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete dep: %d %s", res.StatusCode, string(data))
	}
	var completed CompletionResponse
	if err := json.Unmarshal(data, &completed); err != nil {
		t.Fatalf("unmarshal completion: %v", err)
	}
	if completed.Task.Status != "review" {
		t.Fatalf("owner without task:approve should land in review, got %s", completed.Task.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+dep.ID+"/approve", nil, root)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve dep: %d %s", res.StatusCode, string(data))
	}
	var approved CompletionResponse
	if err := json.Unmarshal(data, &approved); err != nil {
		t.Fatalf("unmarshal approval: %v", err)
	}
	if approved.Task.Status != "done" {
		t.Fatalf("expected done, got %s", approved.Task.Status)
	}
	if approved.Task.Approval == nil || approved.Task.Approval.Mode != "approved" {
		t.Fatalf("expected manual approval record, got %+v", approved.Task.Approval)
	}
	if len(approved.Unblocked) != 1 || approved.Unblocked[0] != main.ID {
		t.Fatalf("expected unblocked [%s], got %v", main.ID, approved.Unblocked)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+main.ID, nil, root)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get main: %d %s", res.StatusCode, string(data))
	}
	var unblocked TaskResponse
	_ = json.Unmarshal(data, &unblocked)
	if unblocked.Status != "backlog" || len(unblocked.BlockedBy) != 0 {
		t.Fatalf("expected unblocked backlog task, got %+v", unblocked)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/"+project.ID+"/stats", nil, root)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", res.StatusCode, string(data))
	}
	var stats engine.ProjectStats
	_ = json.Unmarshal(data, &stats)
	if stats.Total != 2 || stats.Completed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?entity_id="+main.ID, nil, root)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	_ = json.Unmarshal(data, &events)
	if len(events) == 0 {
		t.Fatalf("expected events for %s", main.ID)
	}
	if events[0].Type != "task.unblocked" {
		t.Fatalf("expected newest event task.unblocked, got %s", events[0].Type)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	root := authHeaders(t, "root", nil, nil)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/no-such-task", nil, root)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	env := decodeEnvelope(t, data)
	if env.Error.Code != "NOT_FOUND" || env.Error.Retryable {
		t.Fatalf("unexpected envelope: %+v", env.Error)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"project_id": "p", "title": "T", "owner_id": "w", "priority": "P9",
	}, root)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad priority, got %d: %s", res.StatusCode, string(data))
	}
	env = decodeEnvelope(t, data)
	if env.Error.Code != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/workers", map[string]any{
		"name": "Eve", "type": "human",
	}, root)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create worker: %d %s", res.StatusCode, string(data))
	}
	var eve WorkerResponse
	_ = json.Unmarshal(data, &eve)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{
		"name": "Guarded", "member_ids": []string{eve.ID},
	}, root)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	var project ProjectResponse
	_ = json.Unmarshal(data, &project)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"project_id": project.ID, "title": "A", "owner_id": eve.ID,
	}, root)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var a TaskResponse
	_ = json.Unmarshal(data, &a)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"project_id": project.ID, "title": "B", "owner_id": eve.ID, "depends_on": []string{a.ID},
	}, root)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create blocked task: %d %s", res.StatusCode, string(data))
	}
	var b TaskResponse
	_ = json.Unmarshal(data, &b)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+b.ID+"/start", nil, root)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 starting blocked task, got %d: %s", res.StatusCode, string(data))
	}
	env = decodeEnvelope(t, data)
	if env.Error.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"project_id": project.ID,
		"title":      "",
		"owner_id":   eve.ID,
	}, root)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty title, got %d: %s", res.StatusCode, string(data))
	}
	env = decodeEnvelope(t, data)
	if env.Error.Code != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT, got %q", env.Error.Code)
	}
}

func TestMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, authHeaders(t, "root", nil, nil))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var me WhoAmIResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ActorID != "root" || !me.Operator || len(me.Permissions) == 0 {
		t.Fatalf("unexpected me: %+v", me)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, authHeaders(t, "casey", []string{"reviewer"}, []string{"task:move"}))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &me)
	if me.Operator {
		t.Fatalf("casey must not be an operator")
	}
	found := map[string]bool{}
	for _, p := range me.Permissions {
		found[p] = true
	}
	if !found["task:move"] || !found["task:approve"] {
		t.Fatalf("expected union of direct and role permissions, got %v", me.Permissions)
	}
}
