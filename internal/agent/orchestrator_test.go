package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/grocer/internal/openai"
	"github.com/kalambet/grocer/internal/tools"
)

// scriptedLLM returns its responses in order, then keeps returning the last
// one. A nil script means every call fails with err.
type scriptedLLM struct {
	script []openai.Message
	err    error
	calls  int
}

func (s *scriptedLLM) Complete(_ context.Context, _ []openai.Message, _ []openai.ToolDef) (openai.Message, error) {
	s.calls++
	if s.err != nil {
		return openai.Message{}, s.err
	}
	i := s.calls - 1
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	return s.script[i], nil
}

// echoDispatcher answers every call with a result derived from the call id,
// optionally after a small stagger to shake out ordering bugs.
type echoDispatcher struct {
	mu      sync.Mutex
	seen    []string
	stagger time.Duration
}

func (d *echoDispatcher) Definitions() []openai.ToolDef { return nil }

func (d *echoDispatcher) Dispatch(_ context.Context, call openai.ToolCall) tools.Result {
	d.mu.Lock()
	d.seen = append(d.seen, call.Function.Name)
	d.mu.Unlock()
	if d.stagger > 0 {
		time.Sleep(d.stagger)
	}
	return tools.Result{CallID: call.ID, Content: "result for " + call.Function.Name}
}

func assistantText(content string) openai.Message {
	return openai.Message{Role: openai.RoleAssistant, Content: content}
}

func assistantToolCall(id, name string) openai.Message {
	return openai.Message{
		Role: openai.RoleAssistant,
		ToolCalls: []openai.ToolCall{{
			ID:   id,
			Type: "function",
			Function: openai.FunctionCall{Name: name, Arguments: "{}"},
		}},
	}
}

func TestRun_DirectAnswer(t *testing.T) {
	llm := &scriptedLLM{script: []openai.Message{assistantText("Hello!")}}
	o := New(llm, &echoDispatcher{}, 0, 0)
	conv := NewConversation("s1")

	answer, err := o.Run(context.Background(), conv, "hi")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "Hello!" {
		t.Errorf("answer = %q, want Hello!", answer)
	}

	// system, user, assistant.
	msgs := conv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(msgs))
	}
	if msgs[0].Role != openai.RoleSystem || msgs[1].Role != openai.RoleUser || msgs[2].Role != openai.RoleAssistant {
		t.Errorf("roles = [%s %s %s]", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
}

func TestRun_ToolCallThenAnswer(t *testing.T) {
	llm := &scriptedLLM{script: []openai.Message{
		assistantToolCall("c1", "search_products"),
		assistantText("Found some chips for you."),
	}}
	o := New(llm, &echoDispatcher{}, 0, 0)
	conv := NewConversation("s1")

	answer, err := o.Run(context.Background(), conv, "find chips")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if answer != "Found some chips for you." {
		t.Errorf("answer = %q", answer)
	}

	// Exactly four messages after the system prompt: user, assistant tool
	// request, tool result, final assistant answer.
	msgs := conv.Messages()[1:]
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	wantRoles := []string{openai.RoleUser, openai.RoleAssistant, openai.RoleTool, openai.RoleAssistant}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Errorf("msgs[%d].Role = %s, want %s", i, msgs[i].Role, want)
		}
	}
	if msgs[2].ToolCallID != "c1" {
		t.Errorf("tool result ToolCallID = %q, want c1", msgs[2].ToolCallID)
	}
	if conv.StepCount() != 1 {
		t.Errorf("StepCount = %d, want 1", conv.StepCount())
	}
}

func TestRun_ParallelCallsKeepOrder(t *testing.T) {
	// Three calls in one assistant message; results must land in the
	// transcript in call order even though dispatch is concurrent.
	toolMsg := openai.Message{
		Role: openai.RoleAssistant,
		ToolCalls: []openai.ToolCall{
			{ID: "c1", Type: "function", Function: openai.FunctionCall{Name: "alpha", Arguments: "{}"}},
			{ID: "c2", Type: "function", Function: openai.FunctionCall{Name: "beta", Arguments: "{}"}},
			{ID: "c3", Type: "function", Function: openai.FunctionCall{Name: "gamma", Arguments: "{}"}},
		},
	}
	llm := &scriptedLLM{script: []openai.Message{toolMsg, assistantText("done")}}
	o := New(llm, &echoDispatcher{stagger: 5 * time.Millisecond}, 0, 0)
	conv := NewConversation("s1")

	if _, err := o.Run(context.Background(), conv, "go"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var toolResults []openai.Message
	for _, m := range conv.Messages() {
		if m.Role == openai.RoleTool {
			toolResults = append(toolResults, m)
		}
	}
	if len(toolResults) != 3 {
		t.Fatalf("tool results = %d, want 3", len(toolResults))
	}
	wantIDs := []string{"c1", "c2", "c3"}
	for i, want := range wantIDs {
		if toolResults[i].ToolCallID != want {
			t.Errorf("toolResults[%d].ToolCallID = %q, want %q", i, toolResults[i].ToolCallID, want)
		}
		if !strings.Contains(toolResults[i].Content, []string{"alpha", "beta", "gamma"}[i]) {
			t.Errorf("toolResults[%d].Content = %q", i, toolResults[i].Content)
		}
	}
}

func TestRun_StepLimit(t *testing.T) {
	// The model never stops asking for tools; the loop guard must end the
	// turn with an apology after maxSteps dispatch cycles.
	llm := &scriptedLLM{script: []openai.Message{assistantToolCall("c1", "search_products")}}
	o := New(llm, &echoDispatcher{}, 3, 0)
	conv := NewConversation("s1")

	answer, err := o.Run(context.Background(), conv, "loop forever")
	if !errors.Is(err, ErrTurnFailed) {
		t.Fatalf("err = %v, want ErrTurnFailed", err)
	}
	if answer != apology {
		t.Errorf("answer = %q, want apology", answer)
	}
	if llm.calls != 3 {
		t.Errorf("model calls = %d, want 3", llm.calls)
	}
	if conv.StepCount() != 3 {
		t.Errorf("StepCount = %d, want 3", conv.StepCount())
	}

	// The transcript ends with the apology, and everything before it is
	// preserved.
	msgs := conv.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != openai.RoleAssistant || last.Content != apology {
		t.Errorf("last message = %+v, want apology", last)
	}
}

func TestRun_ModelFailure(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("retries exhausted")}
	o := New(llm, &echoDispatcher{}, 0, 0)
	conv := NewConversation("s1")

	answer, err := o.Run(context.Background(), conv, "hello")
	if !errors.Is(err, ErrTurnFailed) {
		t.Fatalf("err = %v, want ErrTurnFailed", err)
	}
	if answer != apology {
		t.Errorf("answer = %q, want apology", answer)
	}
}

func TestRun_StepCountResetsPerTurn(t *testing.T) {
	llm := &scriptedLLM{script: []openai.Message{
		assistantToolCall("c1", "search_products"),
		assistantText("first answer"),
		assistantToolCall("c2", "search_products"),
		assistantText("second answer"),
	}}
	o := New(llm, &echoDispatcher{}, 6, 0)
	conv := NewConversation("s1")

	if _, err := o.Run(context.Background(), conv, "one"); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if conv.StepCount() != 1 {
		t.Fatalf("StepCount after first turn = %d, want 1", conv.StepCount())
	}

	if _, err := o.Run(context.Background(), conv, "two"); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if conv.StepCount() != 1 {
		t.Errorf("StepCount after second turn = %d, want 1 (reset per turn)", conv.StepCount())
	}
}

func TestRun_FillsMissingCallIDs(t *testing.T) {
	llm := &scriptedLLM{script: []openai.Message{
		assistantToolCall("", "search_products"),
		assistantText("ok"),
	}}
	o := New(llm, &echoDispatcher{}, 0, 0)
	conv := NewConversation("s1")

	if _, err := o.Run(context.Background(), conv, "go"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var toolMsg *openai.Message
	for i := range conv.Messages() {
		if conv.Messages()[i].Role == openai.RoleTool {
			toolMsg = &conv.Messages()[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool message in transcript")
	}
	if toolMsg.ToolCallID == "" {
		t.Error("tool result has empty ToolCallID, want generated id")
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateAwaitModel:    "await_model",
		StateDispatchTools: "dispatch_tools",
		StateDone:          "done",
		StateFailed:        "failed",
		State(99):          "unknown",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestNewConversation(t *testing.T) {
	conv := NewConversation("")
	if conv.SessionID == "" {
		t.Error("empty session id not generated")
	}
	if conv.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (system prompt)", conv.Len())
	}
	if conv.Messages()[0].Role != openai.RoleSystem {
		t.Errorf("first message role = %s, want system", conv.Messages()[0].Role)
	}

	named := NewConversation("my-session")
	if named.SessionID != "my-session" {
		t.Errorf("SessionID = %q, want my-session", named.SessionID)
	}
}
