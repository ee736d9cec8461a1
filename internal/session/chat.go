package session

import (
	"sync"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role Role
	Text string
	At   time.Time
}

// Chat is the conversational state of a ChatReady session. The brief is fixed
// at creation; turns only ever append to the history.
type Chat struct {
	mu        sync.Mutex
	sessionID string
	brief     string
	history   []Message
	now       func() time.Time
}

// NewChat seeds a chat with the narrative brief.
func NewChat(sessionID, brief string) *Chat {
	return &Chat{sessionID: sessionID, brief: brief, now: time.Now}
}

func (c *Chat) SessionID() string { return c.sessionID }

// Brief returns the narrative brief the conversation is seeded with.
func (c *Chat) Brief() string { return c.brief }

// Append records a turn.
func (c *Chat) Append(role Role, text string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := Message{Role: role, Text: text, At: c.now()}
	c.history = append(c.history, msg)
	return msg
}

// History returns a copy of every turn in order.
func (c *Chat) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

// Window returns a copy of the last n turns.
func (c *Chat) Window(n int) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := 0
	if n >= 0 && len(c.history) > n {
		start = len(c.history) - n
	}
	out := make([]Message, len(c.history)-start)
	copy(out, c.history[start:])
	return out
}

func (c *Chat) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}
