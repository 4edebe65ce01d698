package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"taskline/internal/app"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/server"
)

// Manual smoke check: workspace, migrations, engine, API, one authed
// task round-trip. Run with `go run ./tmp/checkapi`.
func main() {
	workspace, err := os.MkdirTemp("", "taskline-check")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(workspace)

	env, err := app.Open(workspace, nil)
	if err != nil {
		panic(err)
	}
	defer env.Close()

	ctx := context.Background()
	admin := domain.ExecutionContext{ActorID: "root", WorkspaceID: env.Cfg.Workspace.ID, Permissions: auth.All()}
	w, err := env.Engine.CreateWorker(ctx, admin, engine.WorkerCreateOptions{Name: "tester", Permissions: []string{auth.TaskApprove}})
	if err != nil {
		panic(err)
	}
	p, err := env.Engine.CreateProject(ctx, admin, engine.ProjectCreateOptions{Name: "smoke", MemberIDs: []string{w.ID}})
	if err != nil {
		panic(err)
	}

	jwtSecret := "check-secret"
	h, err := server.New(server.Config{Engine: env.Engine, Cfg: env.Cfg, Auth: server.AuthConfig{JWTSecret: jwtSecret}})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()
	token, err := server.MintToken(jwtSecret, "root", nil, nil, time.Hour)
	if err != nil {
		panic(err)
	}

	status, resp := call(ts.URL+"/v1/tasks", token, map[string]any{
		"project_id": p.ID,
		"title":      "Smoke task",
		"owner_id":   w.ID,
		"priority":   "P0",
	})
	fmt.Printf("create: status=%d resp=%v\n", status, resp)

	task, _ := resp.(map[string]any)
	id, _ := task["id"].(string)
	status, resp = call(ts.URL+"/v1/tasks/"+id+"/complete", token, nil)
	fmt.Printf("complete: status=%d resp=%v\n", status, resp)
}

func call(url, token string, body map[string]any) (int, any) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	var resp any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	return res.StatusCode, resp
}
