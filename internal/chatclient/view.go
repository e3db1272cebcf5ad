package chatclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"supportchat/api/internal/attachment"
)

const (
	UserPollInterval      = 3 * time.Second
	AdminPollInterval     = 2 * time.Second
	DirectoryPollInterval = 5 * time.Second
)

var (
	ErrViewClosed    = errors.New("view closed")
	ErrUnknownEntry  = errors.New("no failed entry with that id")
	ErrEmptyText     = errors.New("message text is empty")
	ErrMissingSender = errors.New("view has no sender id")
)

// PollInterval is the default message poll interval for a role.
func PollInterval(role string) time.Duration {
	if strings.EqualFold(role, "ADMIN") {
		return AdminPollInterval
	}
	return UserPollInterval
}

type ViewConfig struct {
	ConversationID string
	// SenderID is the signed-in participant; optimistic entries carry it.
	SenderID string
	// Interval defaults to the role's poll interval.
	Interval time.Duration
	Role     string
	Log      zerolog.Logger
}

// FileInput is a local file picked for sending.
type FileInput struct {
	Filename string
	// MediaType is sniffed from Data when empty.
	MediaType  string
	Data       []byte
	PreviewURL string
}

// View keeps one open conversation in sync: it polls the message list,
// sends optimistically and reconciles the two. Every method is safe for
// concurrent use.
type View struct {
	client         *Client
	conversationID string
	senderID       string
	interval       time.Duration
	log            zerolog.Logger
	now            func() time.Time
	newToken       func() string

	mu        sync.Mutex
	server    []Message
	pending   *OptimisticSet
	observers []func([]Entry)
	closed    bool
	// polls numbers every Refresh; applied is the newest one whose snapshot
	// is in server.
	polls   uint64
	applied uint64
}

func NewView(client *Client, cfg ViewConfig) *View {
	interval := cfg.Interval
	if interval <= 0 {
		interval = PollInterval(cfg.Role)
	}
	return &View{
		client:         client,
		conversationID: cfg.ConversationID,
		senderID:       cfg.SenderID,
		interval:       interval,
		log:            cfg.Log.With().Str("component", "chat-view").Str("conversation_id", cfg.ConversationID).Logger(),
		now:            time.Now,
		newToken:       uuid.NewString,
		pending:        NewOptimisticSet(),
	}
}

// Run polls once immediately and then every interval until ctx ends or the
// view is closed. Poll failures are logged and retried on the next tick.
func (v *View) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		if v.isClosed() {
			return nil
		}
		if err := v.Refresh(ctx); err != nil && ctx.Err() == nil {
			v.log.Debug().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Refresh fetches the message list once and reconciles pending sends. A
// response that arrives after a newer poll's response is discarded.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	v.polls++
	gen := v.polls
	v.mu.Unlock()

	messages, err := v.client.Messages(ctx, v.conversationID)
	if err != nil {
		return err
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	if gen < v.applied {
		v.mu.Unlock()
		v.log.Debug().Uint64("poll", gen).Msg("stale poll discarded")
		return nil
	}
	v.applied = gen
	v.server = messages
	retired := v.pending.Reconcile(messages)
	v.mu.Unlock()

	if len(retired) > 0 {
		v.log.Debug().Strs("local_ids", retired).Msg("optimistic messages confirmed")
	}
	v.notify()
	return nil
}

// SendText shows text immediately and posts it. It returns the local id and
// the send error, if any; a failed entry stays visible for Resend.
func (v *View) SendText(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	entry, err := v.add(Optimistic{Kind: KindText, Content: text})
	if err != nil {
		return "", err
	}
	return entry.LocalID, v.deliver(ctx, entry)
}

// SendFile checks the file locally, then uploads it through a grant and
// registers the file message. Files failing the local checks never reach
// the network and produce no entry.
func (v *View) SendFile(ctx context.Context, file FileInput) (string, error) {
	mediaType := strings.TrimSpace(file.MediaType)
	if mediaType == "" {
		mediaType = attachment.Detect(file.Data)
	}
	if err := attachment.Validate(file.Filename, mediaType, int64(len(file.Data))); err != nil {
		return "", err
	}
	entry, err := v.add(Optimistic{
		Kind:       KindFile,
		Filename:   strings.TrimSpace(file.Filename),
		MediaType:  mediaType,
		PreviewURL: file.PreviewURL,
		data:       file.Data,
	})
	if err != nil {
		return "", err
	}
	return entry.LocalID, v.deliver(ctx, entry)
}

// Resend retries a failed entry with its original client token so a write
// that did reach the server is not duplicated.
func (v *View) Resend(ctx context.Context, localID string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	if !v.pending.MarkSending(localID) {
		v.mu.Unlock()
		return ErrUnknownEntry
	}
	entry, _ := v.pending.Get(localID)
	v.mu.Unlock()
	v.notify()

	return v.deliver(ctx, entry)
}

func (v *View) add(o Optimistic) (Optimistic, error) {
	if v.senderID == "" {
		return Optimistic{}, ErrMissingSender
	}
	o.SenderID = v.senderID
	o.ClientToken = v.newToken()
	o.CreatedAt = v.now()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return Optimistic{}, ErrViewClosed
	}
	stored := v.pending.Add(o)
	v.mu.Unlock()
	v.notify()
	return stored, nil
}

func (v *View) deliver(ctx context.Context, o Optimistic) error {
	err := v.send(ctx, o)

	v.mu.Lock()
	if err != nil {
		v.pending.MarkFailed(o.LocalID, err)
	} else {
		v.pending.MarkSent(o.LocalID)
	}
	v.mu.Unlock()
	v.notify()

	if err != nil {
		v.log.Debug().Err(err).Str("local_id", o.LocalID).Msg("send failed")
	}
	return err
}

func (v *View) send(ctx context.Context, o Optimistic) error {
	req := AppendRequest{Kind: o.Kind, ClientToken: o.ClientToken}
	switch o.Kind {
	case KindText:
		req.Content = o.Content
	case KindFile:
		publicURL := o.AttachmentURL
		if publicURL == "" {
			grant, err := v.client.RequestUpload(ctx, o.Filename, o.MediaType, int64(len(o.data)))
			if err != nil {
				return fmt.Errorf("request upload: %w", err)
			}
			if err := v.client.Upload(ctx, grant, bytes.NewReader(o.data), int64(len(o.data)), o.MediaType); err != nil {
				return err
			}
			publicURL = grant.PublicURL
			v.mu.Lock()
			v.pending.setAttachment(o.LocalID, publicURL)
			v.mu.Unlock()
		}
		req.AttachmentURL = publicURL
		req.Filename = o.Filename
		req.MediaType = o.MediaType
	default:
		return fmt.Errorf("unsupported kind %q", o.Kind)
	}
	_, _, err := v.client.Append(ctx, v.conversationID, req)
	return err
}

// Entries renders confirmed messages followed by pending sends.
func (v *View) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending.Render(v.server)
}

// OnChange registers fn to receive the rendered entries after every change.
func (v *View) OnChange(fn func([]Entry)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.observers = append(v.observers, fn)
}

// Close stops polling and drops pending entries. Requests already in flight
// run to completion; their outcome is discarded.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.pending = NewOptimisticSet()
	v.observers = nil
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *View) notify() {
	v.mu.Lock()
	if v.closed || len(v.observers) == 0 {
		v.mu.Unlock()
		return
	}
	observers := append(([]func([]Entry))(nil), v.observers...)
	entries := v.pending.Render(v.server)
	v.mu.Unlock()

	for _, fn := range observers {
		fn(entries)
	}
}
