package device

import (
	"sort"
	"time"

	"github.com/mirrorlab/devicesim/internal/fault"
	"github.com/mirrorlab/devicesim/internal/query"
	"github.com/mirrorlab/devicesim/internal/thread"
)

// Standard folders present on every device; Folders() unions these
// with any folder a message was filed into.
var standardFolders = []string{"inbox", "sent", "drafts", "archive", "trash"}

// EmailMessage is one email. Folder placement: sent mail lands in
// "sent" born read, received mail defaults to "inbox" born unread.
type EmailMessage struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"thread_id"`
	From     string    `json:"from"`
	To       []string  `json:"to"`
	Cc       []string  `json:"cc,omitempty"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	Folder   string    `json:"folder"`
	IsRead   bool      `json:"is_read"`
	SentAt   time.Time `json:"sent_at"`
}

// EmailInput is the payload for Send and Receive. Folder applies to
// Receive only and defaults to "inbox".
type EmailInput struct {
	ID       string
	ThreadID string
	From     string
	To       []string
	Cc       []string
	Subject  string
	Body     string
	Folder   string
}

// EmailStore holds email messages and their threads.
type EmailStore struct {
	rt       *runtime
	messages []EmailMessage
	byID     map[string]int
	resolver *thread.Resolver
	meta     meta
}

func newEmailStore(rt *runtime) *EmailStore {
	return &EmailStore{rt: rt, byID: make(map[string]int), resolver: thread.NewResolver()}
}

var emailTable = query.Table[EmailMessage]{
	Timestamp: func(m EmailMessage) time.Time { return m.SentAt },
	Fields: map[string]func(EmailMessage) string{
		"from":      func(m EmailMessage) string { return m.From },
		"folder":    func(m EmailMessage) string { return m.Folder },
		"thread_id": func(m EmailMessage) string { return m.ThreadID },
		"is_read":   func(m EmailMessage) string { return boolField(m.IsRead) },
	},
	Text: func(m EmailMessage) string { return m.Subject + " " + m.Body },
	SortKeys: map[string]func(a, b EmailMessage) int{
		"subject": func(a, b EmailMessage) int {
			switch {
			case a.Subject < b.Subject:
				return -1
			case a.Subject > b.Subject:
				return 1
			}
			return 0
		},
	},
}

// Send stores an outgoing email in the "sent" folder, born read.
func (s *EmailStore) Send(in EmailInput) (EmailMessage, error) {
	return s.append(in, "sent", true, OpEmailSend)
}

// Receive stores an incoming email, born unread, in in.Folder or
// "inbox" when unset.
func (s *EmailStore) Receive(in EmailInput) (EmailMessage, error) {
	folder := in.Folder
	if folder == "" {
		folder = "inbox"
	}
	return s.append(in, folder, false, OpEmailReceive)
}

func (s *EmailStore) append(in EmailInput, folder string, read bool, op Op) (EmailMessage, error) {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()

	if in.From == "" {
		return EmailMessage{}, fault.InvalidArgumentf("email sender is required")
	}
	if len(in.To) == 0 {
		return EmailMessage{}, fault.InvalidArgumentf("email requires at least one recipient")
	}

	now := s.rt.stamp()
	participants := append(append([]string{in.From}, in.To...), in.Cc...)
	threadID, err := s.resolver.Resolve(in.ThreadID, participants, now)
	if err != nil {
		return EmailMessage{}, err
	}

	msg := EmailMessage{
		ID:       s.rt.newID(in.ID),
		ThreadID: threadID,
		From:     in.From,
		To:       append([]string(nil), in.To...),
		Cc:       append([]string(nil), in.Cc...),
		Subject:  in.Subject,
		Body:     in.Body,
		Folder:   folder,
		IsRead:   read,
		SentAt:   now,
	}
	s.byID[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.meta.touch(now)

	err = s.rt.record(FacetEmail, op, msg.ID, map[string]any{
		"id":        msg.ID,
		"thread_id": in.ThreadID,
		"from":      msg.From,
		"to":        toAnySlice(msg.To),
		"cc":        toAnySlice(msg.Cc),
		"subject":   msg.Subject,
		"body":      msg.Body,
		"folder":    in.Folder,
	})
	if err != nil {
		return EmailMessage{}, err
	}
	return msg, nil
}

// MarkRead transitions the named messages from unread to read.
// All-or-nothing; unknown ids fail with NotFound.
func (s *EmailStore) MarkRead(ids ...string) error {
	s.rt.mu.Lock()
	defer s.rt.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.byID[id]; !ok {
			return fault.NotFoundf("email message %q not found", id)
		}
	}
	for _, id := range ids {
		s.messages[s.byID[id]].IsRead = true
	}
	s.meta.touch(s.rt.stamp())

	return s.rt.record(FacetEmail, OpEmailMarkRead, "", map[string]any{
		"ids": toAnySlice(ids),
	})
}

// Messages queries email messages.
func (s *EmailStore) Messages(spec query.Spec) (query.Result[EmailMessage], error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return query.Run(s.messages, emailTable, spec)
}

// Folders lists the standard folders unioned with every folder in use,
// sorted.
func (s *EmailStore) Folders() []string {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()

	seen := make(map[string]bool, len(standardFolders))
	out := make([]string, 0, len(standardFolders))
	for _, f := range standardFolders {
		seen[f] = true
		out = append(out, f)
	}
	for _, m := range s.messages {
		if !seen[m.Folder] {
			seen[m.Folder] = true
			out = append(out, m.Folder)
		}
	}
	sort.Strings(out)
	return out
}

// Thread returns one thread's aggregate metadata.
func (s *EmailStore) Thread(id string) (thread.Thread, error) {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.resolver.Thread(id)
}

// Threads lists all threads in deterministic order.
func (s *EmailStore) Threads() []thread.Thread {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.resolver.Threads()
}

// State returns a point-in-time snapshot of the facet.
func (s *EmailStore) State() EmailState {
	s.rt.mu.RLock()
	defer s.rt.mu.RUnlock()
	return s.stateLocked()
}

func (s *EmailStore) stateLocked() EmailState {
	return EmailState{
		Messages: append([]EmailMessage{}, s.messages...),
		Threads:  s.resolver.Threads(),
		Meta:     s.meta.export(),
	}
}

// EmailState is the email facet snapshot.
type EmailState struct {
	Messages []EmailMessage  `json:"messages"`
	Threads  []thread.Thread `json:"threads"`
	Meta     FacetMeta       `json:"meta"`
}
