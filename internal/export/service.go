package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"supportchat/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetConversation(ctx context.Context, conversationID string) (store.Conversation, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
}

type pdfRenderer func(ctx context.Context, html, title string) (*Result, error)

// Service provides transcript export functionality
type Service struct {
	store  DataStore
	render pdfRenderer
	now    func() time.Time
}

// NewService creates a new export service
func NewService(data DataStore) *Service {
	return &Service{store: data, render: exportPDF, now: time.Now}
}

// Transcript renders the whole conversation as a PDF.
func (s *Service) Transcript(ctx context.Context, conversationID string) (*Result, error) {
	data, err := s.transcriptData(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	html, err := RenderTranscriptHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return s.render(ctx, html, data.Title)
}

func (s *Service) transcriptData(ctx context.Context, conversationID string) (TranscriptData, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TranscriptData{}, err
		}
		return TranscriptData{}, fmt.Errorf("%w: get conversation: %w", ErrContentUnavailable, err)
	}
	user, err := s.store.GetUserByID(ctx, conv.UserID)
	if err != nil {
		return TranscriptData{}, fmt.Errorf("%w: get user: %w", ErrContentUnavailable, err)
	}
	admin, err := s.store.GetUserByID(ctx, conv.AdminID)
	if err != nil {
		return TranscriptData{}, fmt.Errorf("%w: get admin: %w", ErrContentUnavailable, err)
	}
	messages, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return TranscriptData{}, fmt.Errorf("%w: list messages: %w", ErrContentUnavailable, err)
	}

	data := TranscriptData{
		Title:       "Conversation with " + user.DisplayName,
		UserName:    user.DisplayName,
		UserEmail:   user.Email,
		AdminName:   admin.DisplayName,
		StartedAt:   conv.CreatedAt,
		GeneratedAt: s.now(),
		Messages:    make([]TranscriptMessage, 0, len(messages)),
	}
	for _, m := range messages {
		sender := user.DisplayName
		if m.SenderID == admin.ID {
			sender = admin.DisplayName
		}
		data.Messages = append(data.Messages, TranscriptMessage{
			Sender:        sender,
			FromAdmin:     m.SenderID == admin.ID,
			Kind:          string(m.Kind),
			Content:       m.Content,
			AttachmentURL: m.AttachmentURL,
			Filename:      m.Filename,
			MediaType:     m.MediaType,
			SentAt:        m.CreatedAt,
			Read:          m.ReadAt != nil,
		})
	}
	return data, nil
}
