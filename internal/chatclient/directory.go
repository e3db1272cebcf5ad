package chatclient

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DirectoryView polls the admin conversation list.
type DirectoryView struct {
	client   *Client
	interval time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	summaries []ConversationSummary
	loaded    bool
	observers []func([]ConversationSummary)
}

func NewDirectoryView(client *Client, interval time.Duration, log zerolog.Logger) *DirectoryView {
	if interval <= 0 {
		interval = DirectoryPollInterval
	}
	return &DirectoryView{
		client:   client,
		interval: interval,
		log:      log.With().Str("component", "chat-directory").Logger(),
	}
}

func (d *DirectoryView) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.Refresh(ctx); err != nil && ctx.Err() == nil {
			d.log.Debug().Err(err).Msg("directory poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Refresh loads the directory once. Observers hear about it only when the
// list differs from the previous poll.
func (d *DirectoryView) Refresh(ctx context.Context) error {
	summaries, err := d.client.Conversations(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	changed := !d.loaded || !reflect.DeepEqual(d.summaries, summaries)
	d.summaries = summaries
	d.loaded = true
	observers := append(([]func([]ConversationSummary))(nil), d.observers...)
	d.mu.Unlock()

	if changed {
		for _, fn := range observers {
			fn(cloneSummaries(summaries))
		}
	}
	return nil
}

func (d *DirectoryView) Summaries() []ConversationSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneSummaries(d.summaries)
}

func (d *DirectoryView) OnChange(fn func([]ConversationSummary)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

func cloneSummaries(in []ConversationSummary) []ConversationSummary {
	if in == nil {
		return nil
	}
	out := make([]ConversationSummary, len(in))
	copy(out, in)
	return out
}
