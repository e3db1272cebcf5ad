package app

import (
	"time"

	"supportchat/api/internal/store"
)

type MessageView struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	Kind           string     `json:"kind"`
	Content        string     `json:"content,omitempty"`
	AttachmentURL  string     `json:"attachmentUrl,omitempty"`
	Filename       string     `json:"filename,omitempty"`
	MediaType      string     `json:"mediaType,omitempty"`
	ClientToken    string     `json:"clientToken,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

type ConversationView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	AdminID   string    `json:"adminId"`
	CreatedAt time.Time `json:"createdAt"`
}

type ParticipantView struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

type ConversationSummaryView struct {
	ConversationView
	User           ParticipantView `json:"user"`
	LastMessage    *MessageView    `json:"lastMessage"`
	UnreadCount    int             `json:"unreadCount"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
}

func messageView(m store.Message) MessageView {
	view := MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Kind:           string(m.Kind),
		Content:        m.Content,
		AttachmentURL:  m.AttachmentURL,
		Filename:       m.Filename,
		MediaType:      m.MediaType,
		ClientToken:    m.ClientToken,
		CreatedAt:      m.CreatedAt.UTC(),
	}
	if m.ReadAt != nil {
		readAt := m.ReadAt.UTC()
		view.ReadAt = &readAt
	}
	return view
}

func messageViews(messages []store.Message) []MessageView {
	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, messageView(m))
	}
	return views
}

func conversationView(c store.Conversation) ConversationView {
	return ConversationView{
		ID:        c.ID,
		UserID:    c.UserID,
		AdminID:   c.AdminID,
		CreatedAt: c.CreatedAt.UTC(),
	}
}

func summaryViews(summaries []store.ConversationSummary) []ConversationSummaryView {
	views := make([]ConversationSummaryView, 0, len(summaries))
	for _, s := range summaries {
		view := ConversationSummaryView{
			ConversationView: conversationView(s.Conversation),
			User: ParticipantView{
				ID:          s.User.ID,
				DisplayName: s.User.DisplayName,
				Email:       s.User.Email,
			},
			UnreadCount:    s.UnreadCount,
			LastActivityAt: s.LastActivityAt.UTC(),
		}
		if s.LastMessage != nil {
			last := messageView(*s.LastMessage)
			view.LastMessage = &last
		}
		views = append(views, view)
	}
	return views
}
