package export

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"supportchat/api/internal/store"
)

type fakeStore struct {
	conversations map[string]store.Conversation
	users         map[string]store.User
	messages      map[string][]store.Message
	listErr       error
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (store.Conversation, error) {
	conv, ok := f.conversations[id]
	if !ok {
		return store.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	user, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) ListMessages(_ context.Context, id string) ([]store.Message, error) {
	return f.messages[id], f.listErr
}

func newFakeStore() *fakeStore {
	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	readAt := started.Add(time.Hour)
	return &fakeStore{
		conversations: map[string]store.Conversation{
			"conv_1": {ID: "conv_1", UserID: "usr_1", AdminID: "usr_admin", CreatedAt: started},
		},
		users: map[string]store.User{
			"usr_1":     {ID: "usr_1", DisplayName: "Alice", Email: "alice@example.com"},
			"usr_admin": {ID: "usr_admin", DisplayName: "Support", Email: "support@example.com"},
		},
		messages: map[string][]store.Message{
			"conv_1": {
				{ID: "msg_1", SenderID: "usr_1", Kind: store.KindText, Content: "<b>hi</b> there", CreatedAt: started.Add(time.Minute), ReadAt: &readAt},
				{ID: "msg_2", SenderID: "usr_admin", Kind: store.KindFile, AttachmentURL: "https://cdn.example.com/uploads/usr_admin/1.pdf", Filename: "terms.pdf", MediaType: "application/pdf", CreatedAt: started.Add(2 * time.Minute)},
			},
		},
	}
}

func TestTranscriptRendersMessagesInOrder(t *testing.T) {
	svc := NewService(newFakeStore())
	var rendered, gotTitle string
	svc.render = func(_ context.Context, html, title string) (*Result, error) {
		rendered, gotTitle = html, title
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}

	result, err := svc.Transcript(context.Background(), "conv_1")
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	if result.Filename != "Conversation-with-Alice.pdf" {
		t.Errorf("Filename = %q", result.Filename)
	}
	if gotTitle != "Conversation with Alice" {
		t.Errorf("title = %q", gotTitle)
	}

	first := strings.Index(rendered, "&lt;b&gt;hi&lt;/b&gt; there")
	second := strings.Index(rendered, "terms.pdf")
	if first < 0 {
		t.Fatal("text content missing or not escaped")
	}
	if second < 0 || second < first {
		t.Fatal("file message missing or out of order")
	}
	if strings.Contains(rendered, "<b>hi</b>") {
		t.Error("message content must be escaped")
	}
	if !strings.Contains(rendered, `href="https://cdn.example.com/uploads/usr_admin/1.pdf"`) {
		t.Error("attachment link missing")
	}
	if !strings.Contains(rendered, `class="message admin"`) {
		t.Error("admin message should be marked")
	}
	if !strings.Contains(rendered, "2 messages") {
		t.Error("message count missing")
	}
}

func TestTranscriptUnknownConversation(t *testing.T) {
	svc := NewService(newFakeStore())
	_, err := svc.Transcript(context.Background(), "conv_missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}

func TestTranscriptStoreFailureIsContentUnavailable(t *testing.T) {
	fs := newFakeStore()
	fs.listErr = errors.New("connection reset")
	svc := NewService(fs)
	_, err := svc.Transcript(context.Background(), "conv_1")
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
}

func TestRenderTranscriptHTMLEmpty(t *testing.T) {
	html, err := RenderTranscriptHTML(TranscriptData{Title: "Conversation with Bob", UserName: "Bob"})
	if err != nil {
		t.Fatalf("RenderTranscriptHTML() error = %v", err)
	}
	if !strings.Contains(html, "No messages yet.") {
		t.Error("expected empty-state text")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Conversation v1.2", "Conversation-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "transcript"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestHTMLDataURL(t *testing.T) {
	html := "<p>Größe: 5 MB + mehr</p>"
	got := htmlDataURL(html)
	prefix := "data:text/html;charset=utf-8;base64,"
	if !strings.HasPrefix(got, prefix) {
		t.Fatalf("unexpected prefix in %q", got)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(got, prefix))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != html {
		t.Fatalf("round trip changed the document: %q", decoded)
	}
}
