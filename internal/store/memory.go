package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. It backs STORE_BACKEND=memory and
// the handler tests; it honors the same uniqueness and ordering rules as the
// Postgres store.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time
	seq int64

	users         map[string]User
	emails        map[string]string
	refresh       map[string]memoryRefresh
	revoked       map[string]time.Time
	conversations map[string]Conversation
	pairs         map[[2]string]string
	messages      map[string][]memoryMessage
}

type memoryRefresh struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

type memoryMessage struct {
	seq int64
	msg Message
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		now:           now,
		users:         map[string]User{},
		emails:        map[string]string{},
		refresh:       map[string]memoryRefresh{},
		revoked:       map[string]time.Time{},
		conversations: map[string]Conversation{},
		pairs:         map[[2]string]string{},
		messages:      map[string][]memoryMessage{},
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if _, ok := s.emails[email]; ok {
		return fmt.Errorf("create user %s: %w", user.Email, ErrConflict)
	}
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("create user %s: %w", user.ID, ErrConflict)
	}
	user.Email = email
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	s.users[user.ID] = user
	s.emails[email] = user.ID
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[tokenHash] = memoryRefresh{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.refresh[tokenHash]
	if !ok || session.revoked || !session.expiresAt.After(s.now()) {
		return User{}, ErrNotFound
	}
	user, ok := s.users[session.userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

// ConsumeRefreshSession revokes an active session and returns its user. Of
// two concurrent calls with the same hash only one succeeds.
func (s *MemoryStore) ConsumeRefreshSession(_ context.Context, tokenHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.refresh[tokenHash]
	if !ok || session.revoked || !session.expiresAt.After(s.now()) {
		return User{}, ErrNotFound
	}
	session.revoked = true
	s.refresh[tokenHash] = session
	user, ok := s.users[session.userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.refresh[tokenHash]; ok {
		session.revoked = true
		s.refresh[tokenHash] = session
	}
	return nil
}

func (s *MemoryStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = exp
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exp, ok := s.revoked[jti]
	return ok && exp.After(s.now()), nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, conv Conversation) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{conv.UserID, conv.AdminID}
	if _, ok := s.pairs[key]; ok {
		return Conversation{}, fmt.Errorf("conversation for user %s: %w", conv.UserID, ErrConflict)
	}
	if _, ok := s.users[conv.UserID]; !ok {
		return Conversation{}, fmt.Errorf("conversation user %s: %w", conv.UserID, ErrNotFound)
	}
	if _, ok := s.users[conv.AdminID]; !ok {
		return Conversation{}, fmt.Errorf("conversation admin %s: %w", conv.AdminID, ErrNotFound)
	}
	conv.CreatedAt = s.now().UTC()
	s.conversations[conv.ID] = conv
	s.pairs[key] = conv.ID
	return conv, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, conversationID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (s *MemoryStore) FindConversation(_ context.Context, userID, adminID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pairs[[2]string{userID, adminID}]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return s.conversations[id], nil
}

func (s *MemoryStore) ListConversationsForAdmin(_ context.Context, adminID string) ([]ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]ConversationSummary, 0)
	for _, conv := range s.conversations {
		if conv.AdminID != adminID {
			continue
		}
		item := ConversationSummary{
			Conversation:   conv,
			User:           s.users[conv.UserID],
			LastActivityAt: conv.CreatedAt,
		}
		item.User.PasswordHash = ""
		msgs := s.messages[conv.ID]
		for _, m := range msgs {
			if m.msg.SenderID != conv.AdminID && m.msg.ReadAt == nil {
				item.UnreadCount++
			}
		}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1].msg
			item.LastMessage = &last
			item.LastActivityAt = last.CreatedAt
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].LastActivityAt.Equal(items[j].LastActivityAt) {
			return items[i].LastActivityAt.After(items[j].LastActivityAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	items := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, m.msg)
	}
	return items, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, msg Message) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return Message{}, false, fmt.Errorf("insert message: %w", ErrNotFound)
	}
	if msg.ClientToken != "" {
		for _, m := range s.messages[msg.ConversationID] {
			if m.msg.ClientToken == msg.ClientToken {
				return m.msg, false, nil
			}
		}
	}
	if msg.Kind == KindFile {
		msg.Content = ""
	}

	list := s.messages[msg.ConversationID]
	s.seq++
	msg.CreatedAt = s.now().UTC()
	// Timestamps never go backwards within a conversation, even if the clock does.
	if n := len(list); n > 0 && msg.CreatedAt.Before(list[n-1].msg.CreatedAt) {
		msg.CreatedAt = list[n-1].msg.CreatedAt
	}
	msg.ReadAt = nil
	s.messages[msg.ConversationID] = append(list, memoryMessage{seq: s.seq, msg: msg})
	return msg, true, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, conversationID, readerID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	list := s.messages[conversationID]
	for i := range list {
		if list[i].msg.SenderID == readerID || list[i].msg.ReadAt != nil {
			continue
		}
		readAt := at
		list[i].msg.ReadAt = &readAt
		marked++
	}
	return marked, nil
}

// SearchMessages does a case-insensitive substring match over text content
// and filenames, newest first.
func (s *MemoryStore) SearchMessages(_ context.Context, query string, limit int) ([]MessageHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []MessageHit{}, nil
	}
	hits := make([]MessageHit, 0)
	for _, msgs := range s.messages {
		for _, m := range msgs {
			text := m.msg.Content
			if m.msg.Kind == KindFile {
				text = m.msg.Filename
			}
			if !strings.Contains(strings.ToLower(text), needle) {
				continue
			}
			hits = append(hits, MessageHit{
				MessageID:      m.msg.ID,
				ConversationID: m.msg.ConversationID,
				SenderID:       m.msg.SenderID,
				Kind:           m.msg.Kind,
				Snippet:        text,
				CreatedAt:      m.msg.CreatedAt,
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
