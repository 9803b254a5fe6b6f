// Package agent runs the bounded tool-calling loop: ask the model, execute
// any tools it requests, feed results back, and stop on a final answer or
// the step limit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/grocer/internal/openai"
	"github.com/kalambet/grocer/internal/tools"
)

// ErrTurnFailed indicates a turn ended in the FAILED state: the model stayed
// unreachable or kept requesting tools past the step limit. The apology
// appended to the conversation is the user-visible outcome; this error is
// for callers that need an exit code.
var ErrTurnFailed = errors.New("turn failed")

// Defaults applied when the corresponding constructor argument is zero.
const (
	DefaultMaxSteps    = 6
	DefaultTurnTimeout = 2 * time.Minute
)

// apology is appended when a turn cannot complete. Never a raw error
// payload: user-visible failure is always natural language.
const apology = "I'm sorry, I wasn't able to finish answering that. Please try asking again."

// State is the orchestrator's position in its turn state machine.
type State int

const (
	StateAwaitModel State = iota
	StateDispatchTools
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitModel:
		return "await_model"
	case StateDispatchTools:
		return "dispatch_tools"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CompletionClient produces one assistant message from a transcript and a
// tool catalog. Implementations handle their own retry/backoff; an error
// here means retries are exhausted.
type CompletionClient interface {
	Complete(ctx context.Context, messages []openai.Message, toolDefs []openai.ToolDef) (openai.Message, error)
}

// Dispatcher executes tool calls and describes the available tools.
type Dispatcher interface {
	Definitions() []openai.ToolDef
	Dispatch(ctx context.Context, call openai.ToolCall) tools.Result
}

// Orchestrator drives one turn at a time through the state machine. One
// instance may serve many sessions, but each Run owns its conversation for
// the duration of the turn; transitions are never interleaved.
type Orchestrator struct {
	llm         CompletionClient
	dispatcher  Dispatcher
	maxSteps    int
	turnTimeout time.Duration
	logger      *slog.Logger
}

// New creates an Orchestrator. Non-positive maxSteps or turnTimeout fall
// back to defaults.
func New(llm CompletionClient, dispatcher Dispatcher, maxSteps int, turnTimeout time.Duration) *Orchestrator {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if turnTimeout <= 0 {
		turnTimeout = DefaultTurnTimeout
	}
	return &Orchestrator{
		llm:         llm,
		dispatcher:  dispatcher,
		maxSteps:    maxSteps,
		turnTimeout: turnTimeout,
		logger:      slog.Default(),
	}
}

// Run executes one user turn: append the user message, loop through model
// and tool dispatch until the model answers in plain text, and return that
// answer. On failure the conversation gains an apology message and the
// returned error wraps ErrTurnFailed; everything appended before the
// failure is preserved.
func (o *Orchestrator) Run(ctx context.Context, conv *Conversation, userMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.turnTimeout)
	defer cancel()

	conv.beginTurn()
	conv.append(openai.Message{Role: openai.RoleUser, Content: userMessage})

	state := StateAwaitModel
	var pending []openai.ToolCall

	for {
		switch state {
		case StateAwaitModel:
			msg, err := o.llm.Complete(ctx, conv.Messages(), o.dispatcher.Definitions())
			if err != nil {
				o.logger.Error("model call failed", "session", conv.SessionID, "error", err)
				return o.fail(conv, fmt.Errorf("%w: %v", ErrTurnFailed, err))
			}
			conv.append(msg)

			if len(msg.ToolCalls) == 0 {
				o.logger.Debug("turn complete", "session", conv.SessionID, "steps", conv.StepCount())
				return msg.Content, nil // StateDone
			}
			pending = msg.ToolCalls
			state = StateDispatchTools

		case StateDispatchTools:
			results := o.dispatchAll(ctx, pending)
			for _, res := range results {
				conv.append(openai.Message{
					Role:       openai.RoleTool,
					Content:    res.Content,
					ToolCallID: res.CallID,
				})
			}
			conv.stepCount++

			// Loop guard: a model that keeps requesting tools must still
			// terminate within the step bound.
			if conv.stepCount >= o.maxSteps {
				o.logger.Warn("step limit reached", "session", conv.SessionID, "steps", conv.stepCount)
				return o.fail(conv, fmt.Errorf("%w: step limit %d reached", ErrTurnFailed, o.maxSteps))
			}
			state = StateAwaitModel
		}
	}
}

// fail transitions to StateFailed: append the apology so the user sees a
// natural-language message, and report the cause to the caller.
func (o *Orchestrator) fail(conv *Conversation, err error) (string, error) {
	conv.append(openai.Message{Role: openai.RoleAssistant, Content: apology})
	return apology, err
}

// dispatchAll executes the requested tools concurrently (they are read-only
// and independent) and reassembles results in the original call order so
// the transcript stays deterministic. Tool failures become error-flagged
// results, never aborted turns.
func (o *Orchestrator) dispatchAll(ctx context.Context, calls []openai.ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))
	g := new(errgroup.Group)

	for i, call := range calls {
		if call.ID == "" {
			// Some OpenAI-compatible servers omit call ids; results still
			// need a stable back-reference.
			call.ID = uuid.New().String()
			calls[i] = call
		}
		i, call := i, call
		g.Go(func() error {
			results[i] = o.dispatcher.Dispatch(ctx, call)
			return nil
		})
	}
	g.Wait()
	return results
}
