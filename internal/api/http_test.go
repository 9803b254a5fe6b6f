package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/grocer/internal/agent"
)

// fakeRunner answers every turn with a canned string, or fails.
type fakeRunner struct {
	answer string
	err    error
	turns  int
}

func (f *fakeRunner) Run(_ context.Context, conv *agent.Conversation, _ string) (string, error) {
	f.turns++
	return f.answer, f.err
}

func newTestHandler(runner TurnRunner) http.Handler {
	return NewHandler(ChatDeps{
		Runner:   runner,
		Sessions: NewSessionStore(time.Hour),
	})
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestHandler(&fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestChat(t *testing.T) {
	h := newTestHandler(&fakeRunner{answer: "Here are some snacks."})

	rec := postChat(t, h, `{"message": "what snacks do you have?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Answer != "Here are some snacks." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.SessionID == "" {
		t.Error("response missing session_id")
	}
}

func TestChat_SessionContinuity(t *testing.T) {
	runner := &fakeRunner{answer: "ok"}
	sessions := NewSessionStore(time.Hour)
	h := NewHandler(ChatDeps{Runner: runner, Sessions: sessions})

	rec := postChat(t, h, `{"message": "first"}`)
	var first chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decoding first response: %v", err)
	}

	rec = postChat(t, h, fmt.Sprintf(`{"session_id": %q, "message": "second"}`, first.SessionID))
	var second chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decoding second response: %v", err)
	}

	if second.SessionID != first.SessionID {
		t.Errorf("session changed: %q then %q", first.SessionID, second.SessionID)
	}
	if sessions.Len() != 1 {
		t.Errorf("sessions = %d, want 1", sessions.Len())
	}
	if runner.turns != 2 {
		t.Errorf("turns = %d, want 2", runner.turns)
	}
}

func TestChat_MissingMessage(t *testing.T) {
	h := newTestHandler(&fakeRunner{})

	rec := postChat(t, h, `{"session_id": "s1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChat_InvalidBody(t *testing.T) {
	h := newTestHandler(&fakeRunner{})

	rec := postChat(t, h, `{broken`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChat_FailedTurnStillAnswers(t *testing.T) {
	// A turn that hits the step limit or a dead model still carries a
	// natural-language apology; the HTTP layer returns it as a normal reply.
	runner := &fakeRunner{
		answer: "I'm sorry, I wasn't able to finish answering that. Please try asking again.",
		err:    fmt.Errorf("%w: step limit reached", agent.ErrTurnFailed),
	}
	h := newTestHandler(runner)

	rec := postChat(t, h, `{"message": "loop"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !strings.Contains(resp.Answer, "sorry") {
		t.Errorf("answer = %q, want apology", resp.Answer)
	}
}

func TestRebuildEndpoint(t *testing.T) {
	rebuilt := false
	h := NewHandler(ChatDeps{
		Runner:   &fakeRunner{},
		Sessions: NewSessionStore(time.Hour),
		Rebuild: func(context.Context) error {
			rebuilt = true
			return nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/rebuild", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !rebuilt {
		t.Error("rebuild callback not invoked")
	}
}

func TestRebuildEndpoint_NotRegisteredWithoutCallback(t *testing.T) {
	h := newTestHandler(&fakeRunner{})

	req := httptest.NewRequest(http.MethodPost, "/admin/rebuild", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatalf("status = %d, want non-200 for unregistered route", rec.Code)
	}
}

func TestChat_UnexpectedError(t *testing.T) {
	h := newTestHandler(&fakeRunner{err: errors.New("disk on fire")})

	rec := postChat(t, h, `{"message": "hi"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
