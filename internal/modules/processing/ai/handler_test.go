package ai

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/chaptr/internal/models"
	"github.com/mx-space/chaptr/internal/pkg/taskqueue"
)

func newTestRouter(b *fakeBackend, store *fakeStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := newTestService(b, store, taskqueue.NewMemoryQueue())
	r := gin.New()
	NewHandler(svc, nil, 1<<20).RegisterRoutes(r.Group("/api/v2"))
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Analyze(t *testing.T) {
	b := &fakeBackend{records: []RawSegment{{Title: "One", Summary: "first"}}}
	r := newTestRouter(b, newFakeStore())

	w := doJSON(r, http.MethodPost, "/api/v2/analyze", `{"title":"Doc","text":"some text"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var doc models.Document
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.ID == "" || doc.Title != "Doc" || len(doc.Segments) != 1 || doc.Segments[0].ID == "" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestHandler_AnalyzeAsync(t *testing.T) {
	r := newTestRouter(&fakeBackend{records: []RawSegment{{Title: "A"}}}, newFakeStore())

	w := doJSON(r, http.MethodPost, "/api/v2/analyze?async=true", `{"text":"some text"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var body struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.TaskID == "" {
		t.Fatalf("body = %s", w.Body)
	}
	if w := doJSON(r, http.MethodGet, "/api/v2/tasks/"+body.TaskID, ""); w.Code != http.StatusOK {
		t.Errorf("get task status = %d", w.Code)
	}
	if w := doJSON(r, http.MethodGet, "/api/v2/tasks/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing task status = %d", w.Code)
	}
}

func TestHandler_AnalyzeErrors(t *testing.T) {
	cases := []struct {
		name    string
		backend *fakeBackend
		body    string
		status  int
	}{
		{"empty text", &fakeBackend{}, `{"text":"  "}`, http.StatusBadRequest},
		{"missing key", &fakeBackend{}, `{"text":"x","config":{"api_key":""}}`, http.StatusBadRequest},
		{"too long", &fakeBackend{}, `{"text":"` + strings.Repeat("a", 101) + `"}`, http.StatusRequestEntityTooLarge},
		{"parse failure", &fakeBackend{analyzeErr: &ParseError{Reason: "bad json"}}, `{"text":"x"}`, http.StatusUnprocessableEntity},
		{"provider down", &fakeBackend{analyzeErr: &NetworkError{Status: 500, Body: "boom"}}, `{"text":"x"}`, http.StatusBadGateway},
		{"bad json", &fakeBackend{}, `{"text":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(newTestRouter(tc.backend, newFakeStore()), http.MethodPost, "/api/v2/analyze", tc.body)
			if w.Code != tc.status {
				t.Fatalf("status = %d body = %s", w.Code, w.Body)
			}
		})
	}
}

func TestHandler_ChatUnboundStreamsEvents(t *testing.T) {
	r := newTestRouter(&fakeBackend{tokens: []string{"Hel", "lo"}}, newFakeStore())

	w := doJSON(r, http.MethodPost, "/api/v2/chat", `{"message":"hi","segments":[{"id":"s1","title":"T","summary":"S"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		`data: {"type":"token","data":"Hel"}` + "\n\n",
		`data: {"type":"token","data":"lo"}` + "\n\n",
		`data: {"type":"done","data":{"status":"completed","text":"Hello","tokens":2}}` + "\n\n",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in %q", want, body)
		}
	}
}

func TestHandler_ChatFailureEvent(t *testing.T) {
	b := &fakeBackend{tokens: []string{"par"}, streamErr: &NetworkError{Status: 503, Body: "busy"}}
	w := doJSON(newTestRouter(b, newFakeStore()), http.MethodPost, "/api/v2/chat", `{"message":"hi"}`)

	want := `data: {"type":"error","data":{"status":"failed","text":"par","tokens":1,"error":"Provider Error (503): busy"}}`
	if !strings.Contains(w.Body.String(), want) {
		t.Fatalf("body = %q", w.Body)
	}
}

func TestHandler_ChatDocument(t *testing.T) {
	store := newFakeStore()
	store.put(models.Document{Base: models.Base{ID: "d1"}, Title: "Doc"})
	r := newTestRouter(&fakeBackend{tokens: []string{"ok"}}, store)

	w := doJSON(r, http.MethodPost, "/api/v2/documents/d1/chat", `{"message":"question"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"type":"done"`) {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	h := store.history("d1")
	if len(h) != 2 || h[1].Text != "ok" || h[1].Status != models.ReplyCompleted {
		t.Errorf("history = %+v", h)
	}

	if w := doJSON(r, http.MethodPost, "/api/v2/documents/nope/chat", `{"message":"q"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown document status = %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/api/v2/documents/d1/chat", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing message status = %d", w.Code)
	}
}

func TestHandler_Providers(t *testing.T) {
	w := doJSON(newTestRouter(&fakeBackend{}, newFakeStore()), http.MethodGet, "/api/v2/providers", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"kind":"completion-compatible"`) {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
}
