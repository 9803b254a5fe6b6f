package agent

import (
	"github.com/google/uuid"

	"github.com/kalambet/grocer/internal/openai"
)

// systemPrompt anchors the assistant persona for every session.
const systemPrompt = `You are a helpful grocery store assistant.
You help customers find products, suggest items for recipes, and provide information about grocery items.
Use the available tools to search for products and provide detailed, helpful recommendations.
Always be friendly and informative.`

// Conversation is the append-only message history for one session. It is
// exclusively owned by its session: the orchestrator mutates it only by
// appending, and nothing is ever edited or removed. Eviction of idle
// sessions is the session store's job, not the conversation's.
type Conversation struct {
	SessionID string

	messages  []openai.Message
	stepCount int
}

// NewConversation starts a session seeded with the system prompt. An empty
// sessionID gets a generated one.
func NewConversation(sessionID string) *Conversation {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return &Conversation{
		SessionID: sessionID,
		messages: []openai.Message{
			{Role: openai.RoleSystem, Content: systemPrompt},
		},
	}
}

// Messages returns the full ordered transcript. The slice is shared; treat
// it as read-only.
func (c *Conversation) Messages() []openai.Message {
	return c.messages
}

// Len returns the number of messages in the transcript.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// append adds a message to the end of the transcript.
func (c *Conversation) append(msg openai.Message) {
	c.messages = append(c.messages, msg)
}

// beginTurn resets the per-turn dispatch counter.
func (c *Conversation) beginTurn() {
	c.stepCount = 0
}

// StepCount returns the number of tool-dispatch cycles in the current turn.
func (c *Conversation) StepCount() int {
	return c.stepCount
}
