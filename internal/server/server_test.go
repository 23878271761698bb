package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"combinados/internal/config"
	"combinados/internal/db"
	"combinados/internal/domain"
	"combinados/internal/engine"
	"combinados/internal/migrate"
	"combinados/internal/storage"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
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
	cfg := config.Default("default")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Store = storage.Store{
		Bucket: filepath.Join(workspace, cfg.Storage.Bucket),
		Secret: testSecret,
		TTL:    time.Hour,
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			handler.Close()
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := SignToken(testSecret, userID, "", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func authed(t *testing.T, userID string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tokenFor(t, userID)}
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

func createAgreement(t *testing.T, srv *testServer) domain.Agreement {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agreements", map[string]any{
		"title":           "Plano de entrega",
		"meeting_date":    "2026-02-01T10:00:00Z",
		"due_date":        "2026-02-20T18:00:00Z",
		"participant_ids": []string{"ana", "bruno"},
		"checklist": []map[string]any{
			{"description": "Levantar dados", "assigned_to_id": "ana"},
		},
	}, authed(t, "carla"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create agreement status %d: %s", res.StatusCode, string(data))
	}
	var created CreateAgreementResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}
	if len(created.Degraded) != 0 {
		t.Fatalf("unexpected degraded steps: %v", created.Degraded)
	}
	return created.Agreement
}

func TestRequiresAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agreements", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected code unauthorized, got %q", envelope.Error.Code)
	}

	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestRespondFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ag := createAgreement(t, srv)

	// rejection without a justification is a 400 in the error envelope
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agreements/"+ag.ID+"/respond", map[string]any{
		"status": "REJECTED",
	}, authed(t, "ana"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agreements/"+ag.ID+"/respond", map[string]any{
		"status": "ACCEPTED",
	}, authed(t, "ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept status %d: %s", res.StatusCode, string(data))
	}
	var p domain.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal participant: %v", err)
	}
	if p.Status != domain.ParticipantAccepted || p.ResponseDate == nil {
		t.Fatalf("unexpected participant %+v", p)
	}

	// an outsider responding gets a 403
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agreements/"+ag.ID+"/respond", map[string]any{
		"status": "ACCEPTED",
	}, authed(t, "dora"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agreements/"+ag.ID+"/respond", map[string]any{
		"status": "ACCEPTED",
	}, authed(t, "bruno"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bruno accept status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agreements/"+ag.ID, nil, authed(t, "carla"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detail status %d: %s", res.StatusCode, string(data))
	}
	var view engine.AgreementView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.Agreement.Status != domain.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", view.Agreement.Status)
	}
	if len(view.Checklist) != 1 || len(view.Participants) != 2 {
		t.Fatalf("unexpected view shape %+v", view)
	}
}

func TestChecklistToggleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ag := createAgreement(t, srv)
	for _, userID := range []string{"ana", "bruno"} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agreements/"+ag.ID+"/respond", map[string]any{
			"status": "ACCEPTED",
		}, authed(t, userID))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s accept: %d %s", userID, res.StatusCode, string(data))
		}
	}
	items, err := srv.Engine.Repo.ListChecklistItems(context.Background(), ag.ID)
	if err != nil || len(items) != 1 {
		t.Fatalf("list items: %v %d", err, len(items))
	}

	// bruno is not the assignee
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/checklist/"+items[0].ID, map[string]any{
		"completed": true,
	}, authed(t, "bruno"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/checklist/"+items[0].ID, map[string]any{
		"completed": true,
	}, authed(t, "ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle status %d: %s", res.StatusCode, string(data))
	}
	var it domain.ChecklistItem
	if err := json.Unmarshal(data, &it); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if !it.IsCompleted {
		t.Fatalf("expected completed item")
	}

	// single item checked by the sole remaining work closes the agreement
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agreements/"+ag.ID, nil, authed(t, "carla"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detail: %d %s", res.StatusCode, string(data))
	}
	var view engine.AgreementView
	_ = json.Unmarshal(data, &view)
	if view.Agreement.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", view.Agreement.Status)
	}
}

func TestNotificationsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createAgreement(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/notifications", nil, authed(t, "ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var inbox notificationsResponse
	if err := json.Unmarshal(data, &inbox); err != nil {
		t.Fatalf("unmarshal inbox: %v", err)
	}
	if len(inbox.Items) != 1 || inbox.Unread != 1 {
		t.Fatalf("unexpected inbox %+v", inbox)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/notifications/read", nil, authed(t, "ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mark read status %d: %s", res.StatusCode, string(data))
	}
	var marked markReadResponse
	_ = json.Unmarshal(data, &marked)
	if marked.Updated != 1 {
		t.Fatalf("expected 1 updated, got %d", marked.Updated)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/notifications/read", nil, authed(t, "ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second mark read status %d", res.StatusCode)
	}
	_ = json.Unmarshal(data, &marked)
	if marked.Updated != 0 {
		t.Fatalf("expected idempotent mark read, got %d", marked.Updated)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/api-keys", map[string]any{
		"name": "ci",
	}, authed(t, "ana"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("mint status %d: %s", res.StatusCode, string(data))
	}
	var minted struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &minted); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if minted.Key == "" {
		t.Fatalf("expected plaintext key")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": minted.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.UserID != "ana" || who.Source != "api_key" {
		t.Fatalf("unexpected principal %+v", who)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "cmb_bogus"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bogus key, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAdminOnlyRoutes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deadlines/sweep", nil, authed(t, "ana"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/audit/feed", nil, authed(t, "ana"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on audit feed, got %d: %s", res.StatusCode, string(data))
	}

	if err := srv.Engine.Repo.GrantRole(context.Background(), "root", domain.RoleAdmin); err != nil {
		t.Fatalf("grant admin: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deadlines/sweep", nil, authed(t, "root"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin sweep status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/audit/feed", nil, authed(t, "root"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin feed status %d: %s", res.StatusCode, string(data))
	}
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ag := createAgreement(t, srv)

	content := []byte("ata da reuniao")
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v0/agreements/"+ag.ID+"/attachments?file_name=ata.txt", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "carla"))
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("upload status %d: %s", res.StatusCode, string(data))
	}
	var a domain.Attachment
	if err := json.Unmarshal(data, &a); err != nil {
		t.Fatalf("unmarshal attachment: %v", err)
	}
	if a.FileSize != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), a.FileSize)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/attachments/"+a.ID+"/url", nil, authed(t, "carla"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sign status %d: %s", res.StatusCode, string(data))
	}
	var signed signedURLResponse
	if err := json.Unmarshal(data, &signed); err != nil {
		t.Fatalf("unmarshal signed url: %v", err)
	}

	// the signed URL needs no other credential
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+signed.URL, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("download status %d: %s", res.StatusCode, string(data))
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("downloaded content mismatch: %q", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/attachments/download?token=bogus", nil, nil)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for bad token, got %d: %s", res.StatusCode, string(data))
	}
}

func TestWebhookDeliveryAndClose(t *testing.T) {
	received := make(chan string, 8)
	hookLn, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("hook listen: %v", err)
	}
	hookSrv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Combinados-Event")
	})}
	go hookSrv.Serve(hookLn)
	defer hookSrv.Shutdown(context.Background())

	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("default")
	cfg.Webhooks = []config.WebhookConfig{{
		ID:     "audit",
		URL:    "http://" + hookLn.Addr().String(),
		Events: []string{"agreement.created"},
	}}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	handler, err := New(Config{
		Engine:   engine.New(conn, cfg),
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatalf("build server: %v", err)
	}
	defer handler.Close()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	defer srv.Shutdown(context.Background())

	client := &http.Client{}
	res, data := doJSON(t, client, http.MethodPost, "http://"+ln.Addr().String()+"/v0/agreements", map[string]any{
		"title":        "Entrega auditada",
		"meeting_date": "2026-02-01T10:00:00Z",
		"due_date":     "2026-02-20T18:00:00Z",
	}, authed(t, "carla"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}

	select {
	case event := <-received:
		if event != "agreement.created" {
			t.Fatalf("unexpected event %q", event)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("webhook delivery timed out")
	}

	// stopping delivery is idempotent
	handler.Close()
	handler.Close()
}

func TestDevLogin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"user_id":   "ana",
		"full_name": "Ana Lima",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.UserID != "ana" || who.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", who)
	}

	// logging in materializes the profile and stamps last_login_at
	p, err := srv.Engine.Repo.GetProfile(context.Background(), "ana")
	if err != nil {
		t.Fatalf("profile after login: %v", err)
	}
	if p.FullName != "Ana Lima" {
		t.Fatalf("expected full name from the login, got %q", p.FullName)
	}
	if p.LastLoginAt == nil {
		t.Fatalf("expected last_login_at to be recorded")
	}
}

func TestAssignedChecklistOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ag := createAgreement(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agreements/"+ag.ID+"/checklist/mine", nil, authed(t, "ana"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mine status %d: %s", res.StatusCode, string(data))
	}
	var mine []domain.ChecklistItem
	if err := json.Unmarshal(data, &mine); err != nil {
		t.Fatalf("unmarshal items: %v", err)
	}
	if len(mine) != 1 || mine[0].AssignedToID == nil || *mine[0].AssignedToID != "ana" {
		t.Fatalf("unexpected assigned list %+v", mine)
	}

	// bruno has no assigned items on this agreement
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agreements/"+ag.ID+"/checklist/mine", nil, authed(t, "bruno"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bruno mine status %d: %s", res.StatusCode, string(data))
	}
	var theirs []domain.ChecklistItem
	if err := json.Unmarshal(data, &theirs); err != nil {
		t.Fatalf("unmarshal items: %v", err)
	}
	if len(theirs) != 0 {
		t.Fatalf("expected empty list for bruno, got %+v", theirs)
	}

	// outsiders get a 404
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agreements/"+ag.ID+"/checklist/mine", nil, authed(t, "dora"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for outsider, got %d: %s", res.StatusCode, string(data))
	}
}
