package app

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"supportchat/api/internal/attachment"
	"supportchat/api/internal/export"
	"supportchat/api/internal/identity"
	"supportchat/api/internal/metrics"
	"supportchat/api/internal/search"
	"supportchat/api/internal/store"
	"supportchat/api/internal/upload"
	"supportchat/api/internal/util"
)

// Directory is what a participant sees when opening the chat: the admin gets
// every conversation, a user gets their single one.
type Directory struct {
	Summaries    []store.ConversationSummary
	Conversation *store.Conversation
}

func (s *Service) ResolveConversations(ctx context.Context, who identity.Participant) (Directory, error) {
	switch p := who.(type) {
	case identity.Admin:
		summaries, err := s.store.ListConversationsForAdmin(ctx, p.ID)
		if err != nil {
			return Directory{}, err
		}
		return Directory{Summaries: summaries}, nil
	case identity.User:
		adminID := s.configuredAdmin()
		if adminID == "" {
			return Directory{}, errUpstream("Support is not configured")
		}
		conv, err := s.store.FindConversation(ctx, p.ID, adminID)
		if errors.Is(err, store.ErrNotFound) {
			return Directory{}, errNotFound("Conversation not found")
		}
		if err != nil {
			return Directory{}, err
		}
		return Directory{Conversation: &conv}, nil
	default:
		return Directory{}, errUnauthenticated()
	}
}

// CreateConversation opens the conversation between a user and the
// configured admin. The store's unique pair index decides races.
func (s *Service) CreateConversation(ctx context.Context, who identity.Participant) (store.Conversation, error) {
	switch p := who.(type) {
	case identity.Admin:
		return store.Conversation{}, errForbidden("Admins cannot open conversations")
	case identity.User:
		adminID := s.configuredAdmin()
		if adminID == "" {
			return store.Conversation{}, errUpstream("Support is not configured")
		}
		conv, err := s.store.CreateConversation(ctx, store.Conversation{
			ID:      util.NewID("conv"),
			UserID:  p.ID,
			AdminID: adminID,
		})
		if errors.Is(err, store.ErrConflict) {
			return store.Conversation{}, errConflict("Conversation already exists", nil)
		}
		if err != nil {
			return store.Conversation{}, err
		}
		metrics.ConversationsCreated.Inc()
		s.log.Info().Str("conversation_id", conv.ID).Str("user_id", p.ID).Msg("conversation created")
		return conv, nil
	default:
		return store.Conversation{}, errUnauthenticated()
	}
}

// authorize loads the conversation and checks that who is one of its two
// parties. It runs on every call.
func (s *Service) authorize(ctx context.Context, conversationID string, who identity.Participant) (store.Conversation, error) {
	if who == nil {
		return store.Conversation{}, errUnauthenticated()
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Conversation{}, errNotFound("Conversation not found")
	}
	if err != nil {
		return store.Conversation{}, err
	}
	if !identity.PartyTo(who, identity.Pair{UserID: conv.UserID, AdminID: conv.AdminID}) {
		return store.Conversation{}, errForbidden("Not a participant of this conversation")
	}
	return conv, nil
}

func (s *Service) ListMessages(ctx context.Context, conversationID string, who identity.Participant) ([]store.Message, error) {
	if _, err := s.authorize(ctx, conversationID, who); err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	metrics.MessageReads.WithLabelValues(strings.ToLower(string(identity.RoleOf(who)))).Inc()
	return messages, nil
}

type AppendInput struct {
	Kind          string
	Content       string
	AttachmentURL string
	Filename      string
	MediaType     string
	ClientToken   string
}

// AppendMessage stores a message from who. created is false when the client
// token was seen before and the earlier message is returned instead.
func (s *Service) AppendMessage(ctx context.Context, conversationID string, who identity.Participant, in AppendInput) (store.Message, bool, error) {
	if _, err := s.authorize(ctx, conversationID, who); err != nil {
		return store.Message{}, false, err
	}
	msg, err := validateAppend(in)
	if err != nil {
		return store.Message{}, false, err
	}
	if err := s.allowWrite(who, "append"); err != nil {
		return store.Message{}, false, err
	}

	msg.ID = util.NewID("msg")
	msg.ConversationID = conversationID
	msg.SenderID = who.ParticipantID()

	stored, created, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		return store.Message{}, false, err
	}
	metrics.RecordAppend(string(stored.Kind), !created)
	if created && s.search != nil {
		s.search.IndexMessage(search.MessageRecord{
			ID:             stored.ID,
			ConversationID: stored.ConversationID,
			SenderID:       stored.SenderID,
			Kind:           string(stored.Kind),
			Content:        stored.Content,
			Filename:       stored.Filename,
			CreatedAt:      stored.CreatedAt.UnixMilli(),
		})
	}
	return stored, created, nil
}

func validateAppend(in AppendInput) (store.Message, error) {
	msg := store.Message{Kind: store.MessageKind(strings.ToUpper(strings.TrimSpace(in.Kind)))}

	if token := strings.TrimSpace(in.ClientToken); token != "" {
		parsed, err := uuid.Parse(token)
		if err != nil {
			return store.Message{}, errInvalidRequest("clientToken must be a UUID", map[string]string{"field": "clientToken"})
		}
		msg.ClientToken = parsed.String()
	}

	switch msg.Kind {
	case store.KindText:
		if strings.TrimSpace(in.Content) == "" {
			return store.Message{}, errInvalidRequest("Text messages need content", map[string]string{"field": "content"})
		}
		msg.Content = in.Content
	case store.KindFile:
		var missing []string
		if strings.TrimSpace(in.AttachmentURL) == "" {
			missing = append(missing, "attachmentUrl")
		}
		if strings.TrimSpace(in.Filename) == "" {
			missing = append(missing, "filename")
		}
		if strings.TrimSpace(in.MediaType) == "" {
			missing = append(missing, "mediaType")
		}
		if len(missing) > 0 {
			return store.Message{}, errInvalidRequest("File messages need attachmentUrl, filename and mediaType", map[string]any{"missing": missing})
		}
		parsed, err := url.Parse(strings.TrimSpace(in.AttachmentURL))
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return store.Message{}, errInvalidRequest("attachmentUrl must be an http(s) URL", map[string]string{"field": "attachmentUrl"})
		}
		if !attachment.Allowed(in.MediaType) {
			return store.Message{}, errInvalidRequest("Media type is not allowed", map[string]string{"field": "mediaType"})
		}
		msg.AttachmentURL = parsed.String()
		msg.Filename = strings.TrimSpace(in.Filename)
		msg.MediaType = strings.TrimSpace(in.MediaType)
	default:
		return store.Message{}, errInvalidRequest("kind must be TEXT or FILE", map[string]string{"field": "kind"})
	}
	return msg, nil
}

// MarkRead stamps every unread message the other party sent.
func (s *Service) MarkRead(ctx context.Context, conversationID string, who identity.Participant) (int, error) {
	if _, err := s.authorize(ctx, conversationID, who); err != nil {
		return 0, err
	}
	return s.store.MarkRead(ctx, conversationID, who.ParticipantID(), s.now())
}

func (s *Service) GrantUpload(ctx context.Context, who identity.Participant, req upload.Request) (upload.Grant, error) {
	if who == nil {
		return upload.Grant{}, errUnauthenticated()
	}
	if s.uploads == nil {
		return upload.Grant{}, errUpstream("Uploads are not configured")
	}
	if err := s.allowWrite(who, "upload_grant"); err != nil {
		return upload.Grant{}, err
	}
	grant, err := s.uploads.Grant(ctx, who, req)
	switch {
	case err == nil:
		return grant, nil
	case errors.Is(err, upload.ErrUnauthenticated):
		return upload.Grant{}, errUnauthenticated()
	case errors.Is(err, upload.ErrInvalidRequest):
		return upload.Grant{}, errInvalidRequest(uploadReason(err), nil)
	case errors.Is(err, upload.ErrUpstream):
		return upload.Grant{}, errUpstream("Object storage unavailable")
	default:
		return upload.Grant{}, err
	}
}

func uploadReason(err error) string {
	for _, reason := range []error{
		attachment.ErrMissingFilename,
		attachment.ErrMissingMediaType,
		attachment.ErrMediaType,
		attachment.ErrTooLarge,
	} {
		if errors.Is(err, reason) {
			return reason.Error()
		}
	}
	return "Invalid upload request"
}

// Search runs a message search across every conversation.
func (s *Service) Search(ctx context.Context, who identity.Participant, q search.Query) (search.Response, error) {
	if who == nil {
		return search.Response{}, errUnauthenticated()
	}
	if _, ok := who.(identity.Admin); !ok {
		return search.Response{}, errForbidden("Search is available to admins only")
	}
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{}, errInvalidRequest("q is required", map[string]string{"field": "q"})
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if q.ConversationID != "" {
		if _, err := s.authorize(ctx, q.ConversationID, who); err != nil {
			return search.Response{}, err
		}
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) Transcript(ctx context.Context, conversationID string, who identity.Participant) (*export.Result, error) {
	if _, err := s.authorize(ctx, conversationID, who); err != nil {
		return nil, err
	}
	if _, ok := who.(identity.Admin); !ok {
		return nil, errForbidden("Transcripts are available to admins only")
	}
	if s.exporter == nil {
		return nil, errUpstream("Transcript export is not configured")
	}
	result, err := s.exporter.Transcript(ctx, conversationID)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, errNotFound("Conversation not found")
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return nil, errUpstream("PDF export is unavailable")
	default:
		return nil, err
	}
}
