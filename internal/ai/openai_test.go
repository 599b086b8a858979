package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestGateway(handler http.Handler) (*OpenAIGateway, *httptest.Server) {
	server := httptest.NewServer(handler)
	gw := NewOpenAIGateway(BackendConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
	})
	return gw, server
}

func TestUploadFile(t *testing.T) {
	var gotAuth, gotBeta string
	gw, server := newTestGateway(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("OpenAI-Beta")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart failed: %v", err)
		}
		if purpose := r.FormValue("purpose"); purpose != "assistants" {
			t.Errorf("purpose = %q, want assistants", purpose)
		}
		w.Write([]byte(`{"id":"file-123"}`))
	}))
	defer server.Close()

	id, err := gw.UploadFile(context.Background(), "notes.pdf", []byte("pdf bytes"))
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if id != "file-123" {
		t.Fatalf("file id = %q, want file-123", id)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if gotBeta != "assistants=v2" {
		t.Fatalf("beta header = %q", gotBeta)
	}
}

func TestPollRunStatusMapping(t *testing.T) {
	cases := map[string]RunStatus{
		"queued":      RunPending,
		"in_progress": RunPending,
		"completed":   RunCompleted,
		"failed":      RunFailed,
		"expired":     RunFailed,
		"cancelled":   RunCancelled,
	}
	for remote, want := range cases {
		gw, server := newTestGateway(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"` + remote + `"}`))
		}))
		status, err := gw.PollRun(context.Background(), RunHandle{ThreadID: "t1", RunID: "r1"})
		server.Close()
		if err != nil {
			t.Fatalf("PollRun(%s) failed: %v", remote, err)
		}
		if status != want {
			t.Fatalf("PollRun(%s) = %s, want %s", remote, status, want)
		}
	}
}

func TestFetchNewMessagesFiltersAssistant(t *testing.T) {
	gw, server := newTestGateway(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("run_id"); got != "r1" {
			t.Errorf("run_id = %q, want r1", got)
		}
		w.Write([]byte(`{"data":[
			{"role":"user","content":[{"type":"text","text":{"value":"question"}}]},
			{"role":"assistant","content":[{"type":"text","text":{"value":"answer "}},{"type":"text","text":{"value":"part two"}}]}
		]}`))
	}))
	defer server.Close()

	msgs, err := gw.FetchNewMessages(context.Background(), RunHandle{ThreadID: "t1", RunID: "r1"})
	if err != nil {
		t.Fatalf("FetchNewMessages failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Role != "assistant" || msgs[0].Content != "answer part two" {
		t.Fatalf("unexpected message %+v", msgs[0])
	}
}

func TestErrorKinds(t *testing.T) {
	gw, server := newTestGateway(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	_, err := gw.CreateThread(context.Background())
	server.Close()
	if !IsTransient(err) {
		t.Fatalf("429 should be transient, got %v", err)
	}

	gw, server = newTestGateway(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	_, err = gw.CreateThread(context.Background())
	server.Close()
	if err == nil || IsTransient(err) {
		t.Fatalf("400 should be a rejection, got %v", err)
	}
	var be *BackendError
	if !errors.As(err, &be) || be.Kind != KindRejected {
		t.Fatalf("expected BackendError with KindRejected, got %v", err)
	}
}

func TestRetryStopsOnRejection(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		return rejectedErr("op", errors.New("bad input"))
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("rejection retried %d times, want 1 attempt", calls)
	}
}

func TestRetryRetriesTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return transientErr("op", errors.New("connection reset"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}
