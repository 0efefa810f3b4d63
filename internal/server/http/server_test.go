package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	cfgpkg "github.com/rosterhq/roster/internal/config"
	"github.com/rosterhq/roster/internal/notify"
	"github.com/rosterhq/roster/internal/runtime"
	"github.com/rosterhq/roster/internal/submission"
	"github.com/rosterhq/roster/pkg/log"
)

func openTestServer(t *testing.T) (*Server, *runtime.Runtime) {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: log.NewNop()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt), rt
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
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
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := openTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/v1/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: %d %s", w.Code, w.Body)
	}
}

func TestSubmitAcceptedAndVisible(t *testing.T) {
	srv, _ := openTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/v1/submissions", map[string]any{
		"operation": "create",
		"source":    "form",
		"payload":   map[string]string{"name": "Ada", "email": "ada@example.com", "gender": "female"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit: %d %s", w.Code, w.Body)
	}
	var acc struct {
		SubmissionIDs []string `json:"submission_ids"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &acc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(acc.SubmissionIDs) != 1 {
		t.Fatalf("want 1 id, got %v", acc)
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/submissions/"+acc.SubmissionIDs[0], nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d %s", w.Code, w.Body)
	}
	var rec submission.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Status != submission.StatusQueued || rec.Payload["email"] != "ada@example.com" {
		t.Fatalf("record wrong: %+v", rec)
	}
}

func TestSubmitRejectsBadRequest(t *testing.T) {
	srv, _ := openTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/v1/submissions", map[string]any{
		"operation": "upsert",
		"payload":   map[string]string{"name": "X"},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad operation: %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", strings.NewReader("{broken"))
	rw := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("broken json: %d", rw.Code)
	}
}

func TestGetSubmissionNotFound(t *testing.T) {
	srv, _ := openTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/v1/submissions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", w.Code)
	}
}

func TestListWithStatusAndFilter(t *testing.T) {
	srv, _ := openTestServer(t)
	for _, email := range []string{"a@x.com", "b@x.com"} {
		w := doJSON(t, srv, http.MethodPost, "/v1/submissions", map[string]any{
			"operation": "create",
			"payload":   map[string]string{"name": "N", "email": email, "gender": "other"},
		})
		if w.Code != http.StatusAccepted {
			t.Fatalf("submit: %d", w.Code)
		}
	}

	w := doJSON(t, srv, http.MethodGet, "/v1/submissions?status=queued", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body)
	}
	var out struct {
		Submissions []*submission.Record `json:"submissions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Submissions) != 2 {
		t.Fatalf("want 2 queued, got %d", len(out.Submissions))
	}

	w = doJSON(t, srv, http.MethodGet, `/v1/submissions?filter=`+
		`payload%5B%22email%22%5D%20%3D%3D%20%22a%40x.com%22`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("filtered list: %d %s", w.Code, w.Body)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Submissions) != 1 {
		t.Fatalf("filter missed: %d", len(out.Submissions))
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/submissions?status=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bogus status: %d", w.Code)
	}
}

func TestCSVUploadMultipart(t *testing.T) {
	srv, _ := openTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "students.csv")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := part.Write([]byte("name,email,gender\nAda,ada@example.com,female\n")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/submissions/csv", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("csv upload: %d %s", w.Code, w.Body)
	}
	var acc struct {
		SubmissionIDs []string `json:"submission_ids"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &acc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(acc.SubmissionIDs) != 1 {
		t.Fatalf("want 1 row, got %v", acc)
	}
}

func TestCSVUploadRawBody(t *testing.T) {
	srv, _ := openTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/submissions/csv?filename=x.csv",
		strings.NewReader("name,email,gender\nAda,ada@example.com,female\n"))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("raw csv upload: %d %s", w.Code, w.Body)
	}
}

func TestRequeueEndpoint(t *testing.T) {
	srv, rt := openTestServer(t)
	ctx := context.Background()

	w := doJSON(t, srv, http.MethodPost, "/v1/submissions", map[string]any{
		"operation": "create",
		"payload":   map[string]string{"name": "Ada", "email": "a@x.com", "gender": "female"},
	})
	var acc struct {
		SubmissionIDs []string `json:"submission_ids"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &acc)
	id := acc.SubmissionIDs[0]

	// Queued records cannot be re-queued.
	w = doJSON(t, srv, http.MethodPost, "/v1/submissions/"+id+"/requeue", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("requeue queued: %d", w.Code)
	}

	if _, err := rt.Store().UpdateSubmission(ctx, id, func(r *submission.Record) error {
		if err := r.Transition(submission.StatusProcessing, 2000); err != nil {
			return err
		}
		return r.Fail("boom", 2001)
	}); err != nil {
		t.Fatalf("force fail: %v", err)
	}

	w = doJSON(t, srv, http.MethodPost, "/v1/submissions/"+id+"/requeue", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("requeue failed record: %d %s", w.Code, w.Body)
	}

	w = doJSON(t, srv, http.MethodPost, "/v1/submissions/missing/requeue", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("requeue missing: %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := openTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d %s", w.Code, w.Body)
	}
	var out struct {
		Counters map[string]any   `json:"counters"`
		Queues   []map[string]any `json:"queues"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Queues) != 2 {
		t.Fatalf("want stats for both tubes, got %d", len(out.Queues))
	}
}

func TestNotificationsEndpoint(t *testing.T) {
	srv, rt := openTestServer(t)
	if _, err := rt.Notify().Create(context.Background(), "t", "m", notify.KindSuccess); err != nil {
		t.Fatalf("create notification: %v", err)
	}
	w := doJSON(t, srv, http.MethodGet, "/v1/notifications", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("notifications: %d %s", w.Code, w.Body)
	}
	var out struct {
		Notifications []map[string]any `json:"notifications"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Notifications) != 1 {
		t.Fatalf("want 1 notification, got %d", len(out.Notifications))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := openTestServer(t)
	w := doJSON(t, srv, http.MethodDelete, "/v1/submissions", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("delete on collection: %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodPost, "/v1/stats", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("post stats: %d", w.Code)
	}
}
