package device

import (
	"time"

	"github.com/mirrorlab/devicesim/internal/fault"
	"github.com/mirrorlab/devicesim/internal/query"
	"github.com/mirrorlab/devicesim/internal/thread"
)

// ChatMessage is one chat message, grouped into a conversation by the
// thread resolver.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Recipients     []string  `json:"recipients"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sent_at"`
}

// ChatInput is the payload for SendMessage. ConversationID is
// optional: when empty the conversation is derived from the
// participant set.
type ChatInput struct {
	ID             string
	ConversationID string
	Sender         string
	Recipients     []string
	Body           string
}

// ChatStore holds chat messages and their conversations.
type ChatStore struct {
	rt       *runtime
	messages []ChatMessage
	resolver *thread.Resolver
	meta     meta
}

func newChatStore(rt *runtime) *ChatStore {
	return &ChatStore{rt: rt, resolver: thread.NewResolver()}
}

var chatTable = query.Table[ChatMessage]{
	Timestamp: func(m ChatMessage) time.Time { return m.SentAt },
	Fields: map[string]func(ChatMessage) string{
		"sender":          func(m ChatMessage) string { return m.Sender },
		"conversation_id": func(m ChatMessage) string { return m.ConversationID },
	},
	Text: func(m ChatMessage) string { return m.Body },
	SortKeys: map[string]func(a, b ChatMessage) int{
		"sender": func(a, b ChatMessage) int {
			switch {
			case a.Sender < b.Sender:
				return -1
			case a.Sender > b.Sender:
				return 1
			}
			return 0
		},
	},
}

// SendMessage stores a message, stamping SentAt from the clock and
// resolving the conversation from the explicit id or the participant
// set (sender plus all recipients).
func (s *ChatStore) SendMessage(in ChatInput) (ChatMessage, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()

	if in.Sender == "" {
		return ChatMessage{}, fault.InvalidArgumentf("chat message sender is required")
	}

	now := s.rt.stamp()
	participants := append([]string{in.Sender}, in.Recipients...)
	convID, err := s.resolver.Resolve(in.ConversationID, participants, now)
	if err != nil {
		return ChatMessage{}, err
	}

	msg := ChatMessage{
		ID:             s.rt.newID(in.ID),
		ConversationID: convID,
		Sender:         in.Sender,
		Recipients:     append([]string(nil), in.Recipients...),
		Body:           in.Body,
		SentAt:         now,
	}
	s.messages = append(s.messages, msg)
	s.meta.touch(now)

	err = s.rt.record(FacetChat, OpChatSend, msg.ID, map[string]any{
		"id":              msg.ID,
		"conversation_id": in.ConversationID, // explicit id only; derived ids are recomputed on replay
		"sender":          msg.Sender,
		"recipients":      toAnySlice(msg.Recipients),
		"body":            msg.Body,
	})
	if err != nil {
		return ChatMessage{}, err
	}
	return msg, nil
}

// Messages queries chat messages.
func (s *ChatStore) Messages(spec query.Spec) (query.Result[ChatMessage], error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return query.Run(s.messages, chatTable, spec)
}

// Conversation returns one conversation's aggregate metadata.
func (s *ChatStore) Conversation(id string) (thread.Thread, error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.resolver.Thread(id)
}

// Conversations lists all conversations in deterministic order.
func (s *ChatStore) Conversations() []thread.Thread {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.resolver.Threads()
}

// State returns a point-in-time snapshot of the facet.
func (s *ChatStore) State() ChatState {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.stateLocked()
}

func (s *ChatStore) stateLocked() ChatState {
	return ChatState{
		Messages:      append([]ChatMessage{}, s.messages...),
		Conversations: s.resolver.Threads(),
		Meta:          s.meta.export(),
	}
}

// ChatState is the chat facet snapshot.
type ChatState struct {
	Messages      []ChatMessage   `json:"messages"`
	Conversations []thread.Thread `json:"conversations"`
	Meta          FacetMeta       `json:"meta"`
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
