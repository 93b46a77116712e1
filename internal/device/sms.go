package device

import (
	"time"

	"github.com/mirrorlab/devicesim/internal/fault"
	"github.com/mirrorlab/devicesim/internal/query"
	"github.com/mirrorlab/devicesim/internal/thread"
)

// Direction distinguishes sent from received messages.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SMSMessage is one text message. IsRead follows the two-state machine
// unread -> read; there is no reverse transition.
type SMSMessage struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Body      string    `json:"body"`
	Direction Direction `json:"direction"`
	IsRead    bool      `json:"is_read"`
	SentAt    time.Time `json:"sent_at"`
}

// SMSInput is the payload for Send and Receive.
type SMSInput struct {
	ID       string
	ThreadID string // optional explicit thread id
	From     string
	To       []string
	Body     string
}

// SMSStore holds text messages and their threads.
type SMSStore struct {
	rt       *runtime
	messages []SMSMessage
	byID     map[string]int
	resolver *thread.Resolver
	meta     meta
}

func newSMSStore(rt *runtime) *SMSStore {
	return &SMSStore{rt: rt, byID: make(map[string]int), resolver: thread.NewResolver()}
}

var smsTable = query.Table[SMSMessage]{
	Timestamp: func(m SMSMessage) time.Time { return m.SentAt },
	Fields: map[string]func(SMSMessage) string{
		"from":      func(m SMSMessage) string { return m.From },
		"thread_id": func(m SMSMessage) string { return m.ThreadID },
		"direction": func(m SMSMessage) string { return string(m.Direction) },
		"is_read":   func(m SMSMessage) string { return boolField(m.IsRead) },
	},
	Text: func(m SMSMessage) string { return m.Body },
}

// Send stores an outbound message. Outbound messages are born read -
// the device user wrote them.
func (s *SMSStore) Send(in SMSInput) (SMSMessage, error) {
	return s.append(in, DirectionOutbound, true, OpSMSSend)
}

// Receive stores an inbound message, unread.
func (s *SMSStore) Receive(in SMSInput) (SMSMessage, error) {
	return s.append(in, DirectionInbound, false, OpSMSReceive)
}

func (s *SMSStore) append(in SMSInput, dir Direction, read bool, op Op) (SMSMessage, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()

	if in.From == "" {
		return SMSMessage{}, fault.InvalidArgumentf("sms sender is required")
	}
	if len(in.To) == 0 {
		return SMSMessage{}, fault.InvalidArgumentf("sms requires at least one recipient")
	}

	now := s.rt.stamp()
	participants := append([]string{in.From}, in.To...)
	threadID, err := s.resolver.Resolve(in.ThreadID, participants, now)
	if err != nil {
		return SMSMessage{}, err
	}

	msg := SMSMessage{
		ID:        s.rt.newID(in.ID),
		ThreadID:  threadID,
		From:      in.From,
		To:        append([]string(nil), in.To...),
		Body:      in.Body,
		Direction: dir,
		IsRead:    read,
		SentAt:    now,
	}
	s.byID[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.meta.touch(now)

	err = s.rt.record(FacetSMS, op, msg.ID, map[string]any{
		"id":        msg.ID,
		"thread_id": in.ThreadID,
		"from":      msg.From,
		"to":        toAnySlice(msg.To),
		"body":      msg.Body,
	})
	if err != nil {
		return SMSMessage{}, err
	}
	return msg, nil
}

// MarkRead transitions the named messages from unread to read.
// All-or-nothing: if any id is unknown the call fails with NotFound and
// no message changes. Marking an already-read message is a no-op.
func (s *SMSStore) MarkRead(ids ...string) error {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.byID[id]; !ok {
			return fault.NotFoundf("sms message %q not found", id)
		}
	}
	for _, id := range ids {
		s.messages[s.byID[id]].IsRead = true
	}
	s.meta.touch(s.rt.stamp())

	return s.rt.record(FacetSMS, OpSMSMarkRead, "", map[string]any{
		"ids": toAnySlice(ids),
	})
}

// Messages queries text messages.
func (s *SMSStore) Messages(spec query.Spec) (query.Result[SMSMessage], error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return query.Run(s.messages, smsTable, spec)
}

// Thread returns one thread's aggregate metadata.
func (s *SMSStore) Thread(id string) (thread.Thread, error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.resolver.Thread(id)
}

// Threads lists all threads in deterministic order.
func (s *SMSStore) Threads() []thread.Thread {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.resolver.Threads()
}

// State returns a point-in-time snapshot of the facet.
func (s *SMSStore) State() SMSState {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.stateLocked()
}

func (s *SMSStore) stateLocked() SMSState {
	return SMSState{
		Messages: append([]SMSMessage{}, s.messages...),
		Threads:  s.resolver.Threads(),
		Meta:     s.meta.export(),
	}
}

// SMSState is the sms facet snapshot.
type SMSState struct {
	Messages []SMSMessage    `json:"messages"`
	Threads  []thread.Thread `json:"threads"`
	Meta     FacetMeta       `json:"meta"`
}

func boolField(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
