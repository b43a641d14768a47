package assistant

import "sync"

// DefaultMaxHistory is the number of non-system turns kept per chat.
const DefaultMaxHistory = 6

// Contexts keeps a bounded conversation per chat. The system prompt is not
// stored with the history; Messages prefixes the current one on every read,
// so trimming can never evict it.
type Contexts struct {
	max int

	mu    sync.Mutex
	chats map[int64]*history
}

type history struct {
	mu    sync.Mutex
	turns []Message
}

// Session is exclusive access to one chat's history, held across a whole
// completion round trip. End releases it.
type Session struct {
	h   *history
	max int
}

func NewContexts(maxHistory int) *Contexts {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Contexts{max: maxHistory, chats: map[int64]*history{}}
}

// Max returns the history cap.
func (c *Contexts) Max() int { return c.max }

func (c *Contexts) get(chatID int64) *history {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.chats[chatID]
	if !ok {
		h = &history{}
		c.chats[chatID] = h
	}
	return h
}

// Begin locks chatID's history.
func (c *Contexts) Begin(chatID int64) *Session {
	h := c.get(chatID)
	h.mu.Lock()
	return &Session{h: h, max: c.max}
}

func (s *Session) End() { s.h.mu.Unlock() }

// Messages returns the system prompt followed by the stored turns.
func (s *Session) Messages(systemPrompt string) []Message {
	out := make([]Message, 0, len(s.h.turns)+1)
	if systemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(out, s.h.turns...)
}

// Append adds turns and drops the oldest beyond the cap. System turns are
// ignored.
func (s *Session) Append(turns ...Message) {
	for _, t := range turns {
		if t.Role == RoleSystem {
			continue
		}
		s.h.turns = append(s.h.turns, t)
	}
	if n := len(s.h.turns); n > s.max {
		s.h.turns = append(s.h.turns[:0:0], s.h.turns[n-s.max:]...)
	}
}

// Len returns the number of stored turns for chatID.
func (c *Contexts) Len(chatID int64) int {
	c.mu.Lock()
	h, ok := c.chats[chatID]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// Reset forgets chatID's conversation. A reply already in flight finishes
// against the discarded history.
func (c *Contexts) Reset(chatID int64) {
	c.mu.Lock()
	delete(c.chats, chatID)
	c.mu.Unlock()
}
