package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"samanvay/internal/app"
	"samanvay/internal/db"
	"samanvay/internal/domain"
	"samanvay/internal/migrate"
	"samanvay/internal/repo"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	for _, a := range []struct{ id, typ string }{
		{"imp-1", domain.AgencyImplementing},
		{"nodal-1", domain.AgencyNodal},
		{"exec-1", domain.AgencyExecuting},
		{"exec-2", domain.AgencyExecuting},
		{"mon-1", domain.AgencyMonitoring},
	} {
		err := r.InsertAgency(ctx, domain.Agency{
			ID:        a.id,
			Name:      a.id,
			Type:      a.typ,
			Status:    "active",
			CreatedAt: "2026-03-01T00:00:00Z",
		})
		if err != nil {
			t.Fatalf("seed agency %s: %v", a.id, err)
		}
	}
	e := app.NewEngine(r, nil)
	handler, err := New(Config{
		Engine:   e,
		Repo:     r,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyAgencyHeader: true},
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
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
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

func asAgency(id string) map[string]string {
	return map[string]string{"X-Agency-Id": id}
}

func TestWorkflowLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows", map[string]any{
		"project_id":             "proj-1",
		"implementing_agency_id": "imp-1",
	}, asAgency("imp-1"))
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", createRes.StatusCode, string(data))
	}
	var created WorkflowResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal workflow: %v", err)
	}
	if created.CurrentStage != domain.StageNotifiedNodal {
		t.Fatalf("expected notified_nodal, got %s", created.CurrentStage)
	}

	act := func(agency string, body map[string]any, wantStage string) WorkflowResponse {
		t.Helper()
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows/proj-1/actions", body, asAgency(agency))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("action %v status %d: %s", body["action"], res.StatusCode, string(data))
		}
		var wf WorkflowResponse
		if err := json.Unmarshal(data, &wf); err != nil {
			t.Fatalf("unmarshal action response: %v", err)
		}
		if wf.CurrentStage != wantStage {
			t.Fatalf("action %v: expected stage %s, got %s", body["action"], wantStage, wf.CurrentStage)
		}
		return wf
	}

	act("nodal-1", map[string]any{"action": "begin_review", "agency_id": "nodal-1"}, domain.StageUnderReview)
	wf := act("nodal-1", map[string]any{"action": "approve", "agency_id": "nodal-1", "notes": "fine"}, domain.StageAssignedExecuting)
	if len(wf.ExecutingAgencies) != 2 {
		t.Fatalf("expected two executing agencies, got %v", wf.ExecutingAgencies)
	}
	act("exec-1", map[string]any{"action": "start_execution", "agency_id": "exec-1"}, domain.StageMonitoring)
	act("exec-2", map[string]any{"action": "update_progress", "agency_id": "exec-2", "progress": map[string]any{"percent_complete": 60}}, domain.StageMonitoring)
	wf = act("mon-1", map[string]any{"action": "complete", "agency_id": "mon-1", "final_report": map[string]any{"outcome": "delivered"}}, domain.StageCompleted)
	if len(wf.History) == 0 {
		t.Fatalf("expected history in response")
	}

	statsRes, statsData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/stats", nil, asAgency("imp-1"))
	if statsRes.StatusCode != http.StatusOK {
		t.Fatalf("stats status %d: %s", statsRes.StatusCode, string(statsData))
	}
	var stats StatsResponse
	if err := json.Unmarshal(statsData, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Total != 1 || stats.Stages[domain.StageCompleted] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	inboxRes, inboxData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/agencies/imp-1/notifications", nil, asAgency("imp-1"))
	if inboxRes.StatusCode != http.StatusOK {
		t.Fatalf("inbox status %d: %s", inboxRes.StatusCode, string(inboxData))
	}
	var inbox []domain.Notification
	if err := json.Unmarshal(inboxData, &inbox); err != nil {
		t.Fatalf("unmarshal inbox: %v", err)
	}
	if len(inbox) == 0 || inbox[0].Type != domain.NotifyProjectCompleted {
		t.Fatalf("expected completion notice first, got %+v", inbox)
	}
}

func TestActionOnBehalfOfAnotherAgency(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows", map[string]any{
		"project_id":             "proj-1",
		"implementing_agency_id": "imp-1",
	}, asAgency("imp-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows/proj-1/actions", map[string]any{
		"action":    "begin_review",
		"agency_id": "nodal-1",
	}, asAgency("exec-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
}

func TestInvalidTransitionConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows", map[string]any{
		"project_id":             "proj-1",
		"implementing_agency_id": "imp-1",
	}, asAgency("imp-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows/proj-1/actions", map[string]any{
		"action":    "start_execution",
		"agency_id": "exec-1",
	}, asAgency("exec-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition code, got %q", envelope.Error.Code)
	}
}

func TestUnknownWorkflowIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/workflows/nope", nil, asAgency("imp-1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/workflows", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected open health endpoint, got %d", res.StatusCode)
	}
}

func TestPendingForAgency(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows", map[string]any{
		"project_id":             "proj-1",
		"implementing_agency_id": "imp-1",
	}, asAgency("imp-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/agencies/nodal-1/pending", nil, asAgency("nodal-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pending status %d: %s", res.StatusCode, string(data))
	}
	var pending []WorkflowResponse
	if err := json.Unmarshal(data, &pending); err != nil {
		t.Fatalf("unmarshal pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ProjectID != "proj-1" {
		t.Fatalf("expected proj-1 pending for nodal-1, got %+v", pending)
	}
}

func TestIssueAndUseAPIKey(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/agencies/imp-1/keys", map[string]any{
		"name": "ci",
	}, asAgency("imp-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("issue key status %d: %s", res.StatusCode, string(data))
	}
	var issued APIKeyResponse
	if err := json.Unmarshal(data, &issued); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if issued.Key == "" {
		t.Fatalf("expected raw key in response")
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/workflows", map[string]any{
		"project_id":             "proj-1",
		"implementing_agency_id": "imp-1",
	}, map[string]string{"X-Api-Key": issued.Key})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with api key status %d: %s", res.StatusCode, string(data))
	}
}
