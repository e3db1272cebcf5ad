package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryMessageOrderSurvivesClockStepBack(t *testing.T) {
	clock := &steppingClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()
	for _, u := range []User{
		{ID: "usr_1", Email: "ana@example.com", DisplayName: "Ana", Role: "USER"},
		{ID: "adm_1", Email: "support@example.com", DisplayName: "Support", Role: "ADMIN"},
	} {
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	if _, err := s.CreateConversation(ctx, Conversation{ID: "conv_1", UserID: "usr_1", AdminID: "adm_1"}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	first, _, err := s.InsertMessage(ctx, Message{ID: "msg_1", ConversationID: "conv_1", SenderID: "usr_1", Kind: KindText, Content: "one"})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	before, _ := s.ListMessages(ctx, "conv_1")

	clock.Add(-5 * time.Second)
	second, _, err := s.InsertMessage(ctx, Message{ID: "msg_2", ConversationID: "conv_1", SenderID: "adm_1", Kind: KindText, Content: "two"})
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	if second.CreatedAt.Before(first.CreatedAt) {
		t.Fatalf("created_at went backwards: %s < %s", second.CreatedAt, first.CreatedAt)
	}

	after, _ := s.ListMessages(ctx, "conv_1")
	if len(before) != 1 || len(after) != 2 {
		t.Fatalf("before=%d after=%d messages", len(before), len(after))
	}
	if after[0].ID != before[0].ID || after[1].ID != "msg_2" {
		t.Fatalf("listed prefix changed: before=[%s] after=[%s %s]", before[0].ID, after[0].ID, after[1].ID)
	}
	for i := 1; i < len(after); i++ {
		if after[i].CreatedAt.Before(after[i-1].CreatedAt) {
			t.Fatalf("message %d created before its predecessor", i)
		}
	}
}

func TestMemoryConsumeRefreshSession(t *testing.T) {
	clock := &steppingClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStoreWithClock(clock.Now)
	ctx := context.Background()
	if err := s.CreateUser(ctx, User{ID: "usr_1", Email: "ana@example.com", DisplayName: "Ana", Role: "USER"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.SaveRefreshSession(ctx, "hash-1", "usr_1", clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}

	user, err := s.ConsumeRefreshSession(ctx, "hash-1")
	if err != nil || user.ID != "usr_1" {
		t.Fatalf("ConsumeRefreshSession = %+v, %v", user, err)
	}
	if _, err := s.ConsumeRefreshSession(ctx, "hash-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second consume err = %v", err)
	}

	if err := s.SaveRefreshSession(ctx, "hash-2", "usr_1", clock.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}
	clock.Add(2 * time.Minute)
	if _, err := s.ConsumeRefreshSession(ctx, "hash-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired consume err = %v", err)
	}
}
