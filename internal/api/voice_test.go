package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/44xclub/voicesched/internal/domain"
	"github.com/44xclub/voicesched/internal/identity"
	"github.com/44xclub/voicesched/internal/pipeline"
	"github.com/44xclub/voicesched/internal/store"
)

type stubTranscriber struct {
	text string
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return s.text, nil
}

type stubParser struct {
	result *domain.ParseResult
}

func (s *stubParser) Parse(ctx context.Context, transcript, timezone, nowLocal string) (*domain.ParseResult, error) {
	return s.result, nil
}

// testIdentity reads the user from a test header so each request can pick
// its identity without cookie plumbing.
func testIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get("X-Test-User"); userID != "" {
			r = r.WithContext(identity.WithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestServer(t *testing.T) (*httptest.Server, store.Repository) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})

	transcriber := &stubTranscriber{text: "schedule leg day friday at 6pm"}
	parser := &stubParser{result: &domain.ParseResult{
		Action: domain.ProposedAction{
			Intent: domain.IntentCreateBlock,
			Create: &domain.CreateBlock{
				DateLocal:       "2024-03-01",
				StartTimeLocal:  "18:00",
				DurationMinutes: 60,
				Title:           "Leg day",
			},
		},
		Confidence: 0.9,
	}}

	svc := pipeline.NewService(repo, transcriber, parser, pipeline.Config{
		CaptureBaseURL: "https://app.example.com",
	})

	r := chi.NewRouter()
	r.Use(testIdentity)
	NewVoiceHandler(svc, 10<<20).RegisterRoutes(r)
	NewHealthHandler(repo).RegisterHealth(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func doJSON(t *testing.T, method, url, userID string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-Test-User", userID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func uploadAudio(t *testing.T, url, userID string, audio []byte, mimeType string) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="capture.webm"`)
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(audio); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Test-User", userID)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func TestSessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/voice/sessions", "u1", nil)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d, body %v", status, body)
	}
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatal("missing session_id")
	}
	if captureURL, _ := body["capture_url"].(string); captureURL == "" {
		t.Error("missing capture_url")
	}

	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/voice/sessions/"+sessionID, "u1", nil)
	if status != http.StatusOK {
		t.Fatalf("poll status = %d, body %v", status, body)
	}
	if got := body["status"]; got != "created" {
		t.Errorf("session status = %v, want created", got)
	}

	// Another user polling the same session is rejected without detail.
	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/voice/sessions/"+sessionID, "u2", nil)
	if status != http.StatusForbidden {
		t.Errorf("cross-user poll status = %d, want 403", status)
	}
	if got := body["code"]; got != "FORBIDDEN" {
		t.Errorf("code = %v, want FORBIDDEN", got)
	}

	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/voice/sessions/unknown", "u1", nil)
	if status != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", status)
	}
}

func TestUploadAudioEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, srv.URL+"/api/voice/sessions", "u1", nil)
	sessionID := created["session_id"].(string)
	audioURL := srv.URL + "/api/voice/sessions/" + sessionID + "/audio"

	status, body := uploadAudio(t, audioURL, "u1", []byte("fake-audio"), "audio/webm")
	if status != http.StatusOK {
		t.Fatalf("upload status = %d, body %v", status, body)
	}
	if got := body["status"]; got != "parsed" {
		t.Errorf("status = %v, want parsed", got)
	}
	if body["outcome"] == nil {
		t.Error("missing outcome")
	}

	// The session already consumed its one upload.
	status, body = uploadAudio(t, audioURL, "u1", []byte("fake-audio"), "audio/webm")
	if status != http.StatusConflict {
		t.Errorf("second upload status = %d, body %v", status, body)
	}
}

func TestUploadAudioMissingFile(t *testing.T) {
	srv, _ := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, srv.URL+"/api/voice/sessions", "u1", nil)
	sessionID := created["session_id"].(string)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "no audio here"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/voice/sessions/"+sessionID+"/audio", &buf)
	req.Header.Set("X-Test-User", "u1")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestParseAndExecuteEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/voice/parse", "u1",
		map[string]string{"transcript": "schedule leg day friday at 6pm"})
	if status != http.StatusOK {
		t.Fatalf("parse status = %d, body %v", status, body)
	}
	commandID, _ := body["command_id"].(string)
	if commandID == "" {
		t.Fatal("missing command_id")
	}
	if summary, _ := body["summary"].(string); summary == "" {
		t.Error("missing summary")
	}

	status, body = doJSON(t, http.MethodPost, srv.URL+"/api/voice/execute", "u1",
		map[string]string{"command_id": commandID})
	if status != http.StatusOK {
		t.Fatalf("execute status = %d, body %v", status, body)
	}
	if got := body["status"]; got != "executed" {
		t.Errorf("status = %v, want executed", got)
	}
	if blockID, _ := body["block_id"].(string); blockID == "" {
		t.Error("missing block_id")
	}

	// A retried confirmation reports the terminal state, not a new block.
	status, body = doJSON(t, http.MethodPost, srv.URL+"/api/voice/execute", "u1",
		map[string]string{"command_id": commandID})
	if status != http.StatusConflict {
		t.Fatalf("re-execute status = %d, body %v", status, body)
	}
	if got := body["code"]; got != "ALREADY_PROCESSED" {
		t.Errorf("code = %v, want ALREADY_PROCESSED", got)
	}

	// The audit record is owner-scoped.
	status, body = doJSON(t, http.MethodGet, srv.URL+"/api/voice/commands/"+commandID, "u1", nil)
	if status != http.StatusOK {
		t.Fatalf("get command status = %d, body %v", status, body)
	}
	if got := body["status"]; got != "executed" {
		t.Errorf("command status = %v, want executed", got)
	}
	status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/voice/commands/"+commandID, "u2", nil)
	if status != http.StatusForbidden {
		t.Errorf("cross-user get command status = %d, want 403", status)
	}
}

func TestParseEmptyTranscript(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/voice/parse", "u1",
		map[string]string{"transcript": "   "})
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if got := body["code"]; got != "NO_SPEECH" {
		t.Errorf("code = %v, want NO_SPEECH", got)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/api/voice/sessions", "", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, body %v", status, body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body %v", status, body)
	}
	if got := body["status"]; got != "healthy" {
		t.Errorf("status = %v, want healthy", got)
	}
}
