package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/appraise/internal/blob"
	"github.com/kalambet/appraise/internal/realtime"
	"github.com/kalambet/appraise/internal/report"
	"github.com/kalambet/appraise/internal/session"
	"github.com/kalambet/appraise/internal/storage"
	"github.com/kalambet/appraise/internal/upload"
)

const (
	testSecret   = "test-jwt-secret"
	testPipeline = "pipeline-token-12345"
)

type testEnv struct {
	handler http.Handler
	store   *storage.Store
	hub     *realtime.Hub
	issuer  *session.Issuer
}

func setupAppHandler(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	hub := realtime.NewHub(store, nil)
	store.SetChangeHook(hub.Notify)
	t.Cleanup(func() {
		hub.Close()
		store.Close()
	})

	const maxBytes = 1 << 20
	uploads := upload.New(store, blob.NewLocal(t.TempDir()), upload.Options{MaxBytes: maxBytes}, nil)

	handler := NewAppHandler(AppDeps{
		Store:          store,
		Uploads:        uploads,
		Watcher:        hub,
		Verifier:       session.NewVerifier(testSecret),
		PipelineToken:  testPipeline,
		MaxUploadBytes: maxBytes,
	})
	return &testEnv{
		handler: handler,
		store:   store,
		hub:     hub,
		issuer:  session.NewIssuer(testSecret, time.Hour),
	}
}

func (e *testEnv) token(t *testing.T, uid string) string {
	t.Helper()
	tok, err := e.issuer.Issue(session.Session{UserID: uid, Email: uid + "@example.com"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (e *testEnv) seed(t *testing.T, id, uid string) {
	t.Helper()
	if _, err := e.store.CreateReport(report.Report{ID: id, UID: uid, Name: id + ".pdf", ExpectedValue: 1}); err != nil {
		t.Fatalf("CreateReport: %v", err)
	}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Message
}

func multipartUpload(t *testing.T, fields map[string]string, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupAppHandler(t)

	rec := serve(env.handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("GET /health = %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(env.handler, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d", rec.Code)
	}
}

func TestSessionAuth(t *testing.T) {
	env := setupAppHandler(t)

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"missing", authReq(http.MethodGet, "/v1/reports", "", ""), http.StatusUnauthorized},
		{"garbage", authReq(http.MethodGet, "/v1/reports", "", "not-a-jwt"), http.StatusUnauthorized},
		{"pipeline token", authReq(http.MethodGet, "/v1/reports", "", testPipeline), http.StatusUnauthorized},
		{"valid", authReq(http.MethodGet, "/v1/reports", "", env.token(t, "u-1")), http.StatusOK},
		{"query param", httptest.NewRequest(http.MethodGet, "/v1/reports?access_token="+env.token(t, "u-1"), nil), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(env.handler, tt.req); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestUploadEndpoint(t *testing.T) {
	env := setupAppHandler(t)
	tok := env.token(t, "u-1")

	body, ctype := multipartUpload(t, map[string]string{
		"fullName":      "Jane Doe",
		"expectedValue": "$450,000",
	}, "appraisal.pdf", []byte("%PDF-1.4 test"))
	req := authReq(http.MethodPost, "/v1/reports", "", tok)
	req.Body = io.NopCloser(body)
	req.Header.Set("Content-Type", ctype)

	rec := serve(env.handler, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /v1/reports = %d %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["message"] != MessageUploaded || resp["fileId"] == "" {
		t.Errorf("response = %v", resp)
	}

	got, err := env.store.GetReport(resp["fileId"])
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.UID != "u-1" || got.Status != report.StatusProcessing || got.ExpectedValue != 450000 || got.FullName != "Jane Doe" {
		t.Errorf("stored report = %+v", got)
	}
}

func TestUploadEndpoint_MissingFields(t *testing.T) {
	env := setupAppHandler(t)
	tok := env.token(t, "u-1")

	tests := []struct {
		name   string
		fields map[string]string
		file   string
	}{
		{"no file", map[string]string{"fullName": "Jane", "expectedValue": "1"}, ""},
		{"no name", map[string]string{"expectedValue": "1"}, "a.pdf"},
		{"no value", map[string]string{"fullName": "Jane"}, "a.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ctype := multipartUpload(t, tt.fields, tt.file, []byte("%PDF"))
			req := authReq(http.MethodPost, "/v1/reports", "", tok)
			req.Body = io.NopCloser(body)
			req.Header.Set("Content-Type", ctype)

			rec := serve(env.handler, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if msg := errorMessage(t, rec); msg != upload.MessageRequired {
				t.Errorf("message = %q", msg)
			}
		})
	}

	reports, _ := env.store.ListReportsByOwner("u-1")
	if len(reports) != 0 {
		t.Errorf("reports created = %d, want 0", len(reports))
	}
}

func TestUploadEndpoint_NotJSONBody(t *testing.T) {
	env := setupAppHandler(t)
	rec := serve(env.handler, authReq(http.MethodPost, "/v1/reports", `{"a":1}`, env.token(t, "u-1")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListAndGetReports_OwnerScoped(t *testing.T) {
	env := setupAppHandler(t)
	env.seed(t, "r-1", "u-1")
	env.seed(t, "r-2", "u-1")
	env.seed(t, "r-3", "u-2")
	tok := env.token(t, "u-1")

	rec := serve(env.handler, authReq(http.MethodGet, "/v1/reports", "", tok))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/reports = %d", rec.Code)
	}
	var list []report.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "r-1" || list[1].ID != "r-2" {
		t.Errorf("list = %+v", list)
	}

	if rec := serve(env.handler, authReq(http.MethodGet, "/v1/reports/r-1", "", tok)); rec.Code != http.StatusOK {
		t.Errorf("GET own report = %d", rec.Code)
	}
	if rec := serve(env.handler, authReq(http.MethodGet, "/v1/reports/r-3", "", tok)); rec.Code != http.StatusNotFound {
		t.Errorf("GET other user's report = %d, want 404", rec.Code)
	}
	if rec := serve(env.handler, authReq(http.MethodGet, "/v1/reports/missing", "", tok)); rec.Code != http.StatusNotFound {
		t.Errorf("GET missing report = %d, want 404", rec.Code)
	}
}

func TestListReports_EmptyIsArray(t *testing.T) {
	env := setupAppHandler(t)
	rec := serve(env.handler, authReq(http.MethodGet, "/v1/reports", "", env.token(t, "nobody")))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestStagesEndpoint(t *testing.T) {
	env := setupAppHandler(t)
	env.seed(t, "r-1", "u-1")
	if _, err := env.store.MergeReportFields("r-1", map[string]any{
		"property_info": map[string]any{"PropertyAddress": "12 Elm St"},
	}); err != nil {
		t.Fatal(err)
	}

	rec := serve(env.handler, authReq(http.MethodGet, "/v1/reports/r-1/stages", "", env.token(t, "u-1")))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET stages = %d %s", rec.Code, rec.Body.String())
	}
	var resp StagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Percent != 14 {
		t.Errorf("percent = %d, want 14", resp.Percent)
	}
	if resp.Stages[0].Status != "complete" || resp.Stages[1].Status != "pending" {
		t.Errorf("stages = %+v", resp.Stages)
	}
	if len(resp.Stages[0].Output) == 0 {
		t.Error("stage 1 has no output lines")
	}
}

func TestMergeFieldsEndpoint(t *testing.T) {
	env := setupAppHandler(t)
	env.seed(t, "r-1", "u-1")

	tests := []struct {
		name  string
		path  string
		body  string
		token string
		want  int
	}{
		{"no token", "/v1/reports/r-1/fields", `{"red_flags":[]}`, "", http.StatusUnauthorized},
		{"session token rejected", "/v1/reports/r-1/fields", `{"red_flags":[]}`, env.token(t, "u-1"), http.StatusUnauthorized},
		{"bad json", "/v1/reports/r-1/fields", `{`, testPipeline, http.StatusBadRequest},
		{"empty", "/v1/reports/r-1/fields", `{}`, testPipeline, http.StatusBadRequest},
		{"reserved", "/v1/reports/r-1/fields", `{"uid":"u-2"}`, testPipeline, http.StatusBadRequest},
		{"bad status", "/v1/reports/r-1/fields", `{"status":7}`, testPipeline, http.StatusBadRequest},
		{"missing", "/v1/reports/nope/fields", `{"red_flags":[]}`, testPipeline, http.StatusNotFound},
		{"ok", "/v1/reports/r-1/fields", `{"red_flags":[{"details":"x","status":"Flagged"}],"status":"complete"}`, testPipeline, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(env.handler, authReq(http.MethodPatch, tt.path, tt.body, tt.token))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	got, err := env.store.GetReport("r-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "complete" || !got.Has("red_flags") || got.UID != "u-1" {
		t.Errorf("report after merge = %+v", got)
	}
}

func TestWatchOwner_ForbiddenForOtherOwner(t *testing.T) {
	env := setupAppHandler(t)
	rec := serve(env.handler, authReq(http.MethodGet, "/v1/reports/watch?owner=u-2", "", env.token(t, "u-1")))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestWatchReport_OtherOwnerNotFound(t *testing.T) {
	env := setupAppHandler(t)
	env.seed(t, "r-1", "u-2")
	rec := serve(env.handler, authReq(http.MethodGet, "/v1/reports/r-1/watch", "", env.token(t, "u-1")))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestWatchOwner_PushesSnapshots(t *testing.T) {
	env := setupAppHandler(t)
	env.seed(t, "r-1", "u-1")
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	remote := realtime.NewRemote(srv.URL, env.token(t, "u-1"), nil)
	snapshots := make(chan []report.Report, 8)
	sub, err := remote.WatchOwner("u-1", func(reports []report.Report) {
		snapshots <- reports
	}, func(err error) {
		t.Errorf("unexpected watch error: %v", err)
	})
	if err != nil {
		t.Fatalf("WatchOwner: %v", err)
	}
	defer sub.Cancel()

	first := receive(t, snapshots)
	if len(first) != 1 || first[0].ID != "r-1" {
		t.Fatalf("initial snapshot = %+v", first)
	}

	env.seed(t, "r-2", "u-1")
	env.seed(t, "r-3", "u-2")
	for {
		got := receive(t, snapshots)
		if len(got) == 2 {
			for _, r := range got {
				if r.UID != "u-1" {
					t.Errorf("snapshot leaked report %s of %s", r.ID, r.UID)
				}
			}
			return
		}
	}
}

func TestWatchReport_PushesDocument(t *testing.T) {
	env := setupAppHandler(t)
	env.seed(t, "r-1", "u-1")
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	remote := realtime.NewRemote(srv.URL, env.token(t, "u-1"), nil)
	docs := make(chan report.Report, 8)
	sub, err := remote.WatchReport("r-1", func(r report.Report, exists bool) {
		if exists {
			docs <- r
		}
	}, func(err error) {
		t.Errorf("unexpected watch error: %v", err)
	})
	if err != nil {
		t.Fatalf("WatchReport: %v", err)
	}
	defer sub.Cancel()

	if first := receive(t, docs); first.Has("red_flags") {
		t.Fatalf("initial document already has red_flags: %+v", first)
	}

	if _, err := env.store.MergeReportFields("r-1", map[string]any{"red_flags": []any{}}); err != nil {
		t.Fatal(err)
	}
	for {
		if got := receive(t, docs); got.Has("red_flags") {
			return
		}
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for push")
	}
	var zero T
	return zero
}
