package chatclient

import (
	"fmt"
	"sort"
	"time"
)

// MatchWindow is how far apart an optimistic message and a token-less server
// message may be and still be treated as the same send.
const MatchWindow = 10 * time.Second

type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusConfirmed Status = "confirmed"
)

// Optimistic is a message shown before the server has confirmed it.
type Optimistic struct {
	LocalID     string
	ClientToken string
	SenderID    string
	Kind        string
	Content     string
	Filename    string
	MediaType   string
	// PreviewURL renders a file before its upload finishes.
	PreviewURL string
	// AttachmentURL is set once the bytes are in object storage.
	AttachmentURL string
	Status        Status
	Err           error
	CreatedAt     time.Time

	seq  int64
	data []byte
}

// Entry is one rendered row: a confirmed server message or a pending send.
type Entry struct {
	Message    Message
	LocalID    string
	Status     Status
	PreviewURL string
	Err        error
}

// OptimisticSet holds one view's unconfirmed sends. It is not safe for
// concurrent use; the owning view serializes access.
type OptimisticSet struct {
	entries   map[string]*Optimistic
	confirmed map[string]struct{}
	seq       int64
}

func NewOptimisticSet() *OptimisticSet {
	return &OptimisticSet{
		entries:   map[string]*Optimistic{},
		confirmed: map[string]struct{}{},
	}
}

// Add stores o in the sending state and returns the stored copy.
func (s *OptimisticSet) Add(o Optimistic) Optimistic {
	s.seq++
	o.seq = s.seq
	if o.LocalID == "" {
		o.LocalID = fmt.Sprintf("local-%d", o.seq)
	}
	o.Status = StatusSending
	o.Err = nil
	s.entries[o.LocalID] = &o
	return o
}

func (s *OptimisticSet) Get(localID string) (Optimistic, bool) {
	o, ok := s.entries[localID]
	if !ok {
		return Optimistic{}, false
	}
	return *o, true
}

func (s *OptimisticSet) Len() int { return len(s.entries) }

// MarkSending moves a failed entry back to sending for a manual resend.
func (s *OptimisticSet) MarkSending(localID string) bool {
	o, ok := s.entries[localID]
	if !ok || o.Status != StatusFailed {
		return false
	}
	o.Status = StatusSending
	o.Err = nil
	return true
}

func (s *OptimisticSet) MarkSent(localID string) bool {
	o, ok := s.entries[localID]
	if !ok || o.Status != StatusSending {
		return false
	}
	o.Status = StatusSent
	return true
}

func (s *OptimisticSet) MarkFailed(localID string, err error) bool {
	o, ok := s.entries[localID]
	if !ok || o.Status != StatusSending {
		return false
	}
	o.Status = StatusFailed
	o.Err = err
	return true
}

func (s *OptimisticSet) setAttachment(localID, url string) {
	if o, ok := s.entries[localID]; ok {
		o.AttachmentURL = url
	}
}

func (s *OptimisticSet) Retire(localID string) {
	delete(s.entries, localID)
}

// Pending returns the unconfirmed entries in local creation order.
func (s *OptimisticSet) Pending() []Optimistic {
	items := make([]Optimistic, 0, len(s.entries))
	for _, o := range s.entries {
		items = append(items, *o)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	return items
}

// Reconcile retires every optimistic entry confirmed by server and returns
// the retired local ids. A server message carrying a client token confirms
// the entry with that token whatever its status. A token-less server message
// confirms at most one token-less sending or sent entry with the same sender,
// kind and payload created within MatchWindow of it. A server message that
// confirmed an entry once never confirms another.
func (s *OptimisticSet) Reconcile(server []Message) []string {
	var retired []string

	byToken := make(map[string]*Optimistic, len(s.entries))
	for _, o := range s.entries {
		if o.ClientToken != "" {
			byToken[o.ClientToken] = o
		}
	}
	for _, msg := range server {
		if msg.ClientToken == "" {
			continue
		}
		if o, ok := byToken[msg.ClientToken]; ok {
			s.confirmed[msg.ID] = struct{}{}
			delete(s.entries, o.LocalID)
			delete(byToken, msg.ClientToken)
			retired = append(retired, o.LocalID)
		}
	}

	for _, msg := range server {
		if msg.ClientToken != "" {
			continue
		}
		if _, used := s.confirmed[msg.ID]; used {
			continue
		}
		for _, o := range s.Pending() {
			if !contentMatches(o, msg) {
				continue
			}
			s.confirmed[msg.ID] = struct{}{}
			delete(s.entries, o.LocalID)
			retired = append(retired, o.LocalID)
			break
		}
	}

	// Only ids still listed by the server can be seen again.
	listed := make(map[string]struct{}, len(server))
	for _, msg := range server {
		listed[msg.ID] = struct{}{}
	}
	for id := range s.confirmed {
		if _, ok := listed[id]; !ok {
			delete(s.confirmed, id)
		}
	}
	return retired
}

func contentMatches(o Optimistic, msg Message) bool {
	// A tokened send is confirmed only by its own token.
	if o.ClientToken != "" {
		return false
	}
	if o.Status != StatusSending && o.Status != StatusSent {
		return false
	}
	if o.SenderID != msg.SenderID || o.Kind != msg.Kind {
		return false
	}
	switch o.Kind {
	case KindText:
		if o.Content != msg.Content {
			return false
		}
	case KindFile:
		if o.Filename != msg.Filename || o.MediaType != msg.MediaType {
			return false
		}
	default:
		return false
	}
	delta := msg.CreatedAt.Sub(o.CreatedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta < MatchWindow
}

// Render lists confirmed server messages in server order followed by the
// remaining optimistic entries in creation order.
func (s *OptimisticSet) Render(server []Message) []Entry {
	pending := s.Pending()
	entries := make([]Entry, 0, len(server)+len(pending))
	for _, msg := range server {
		entries = append(entries, Entry{Message: msg, Status: StatusConfirmed})
	}
	for _, o := range pending {
		entries = append(entries, Entry{
			Message: Message{
				SenderID:      o.SenderID,
				Kind:          o.Kind,
				Content:       o.Content,
				AttachmentURL: o.AttachmentURL,
				Filename:      o.Filename,
				MediaType:     o.MediaType,
				ClientToken:   o.ClientToken,
				CreatedAt:     o.CreatedAt,
			},
			LocalID:    o.LocalID,
			Status:     o.Status,
			PreviewURL: o.PreviewURL,
			Err:        o.Err,
		})
	}
	return entries
}
