package search

import (
	"context"
	"time"

	"supportchat/api/internal/store"
)

type messageScanner interface {
	SearchMessages(ctx context.Context, query string, limit int) ([]store.MessageHit, error)
}

// Memory searches the in-process store by substring.
type Memory struct {
	source messageScanner
}

func NewMemory(source messageScanner) *Memory {
	return &Memory{source: source}
}

func (m *Memory) Healthy() bool { return true }

func (m *Memory) Search(ctx context.Context, q Query) ([]Result, int, error) {
	hits, err := m.source.SearchMessages(ctx, q.Text, 0)
	if err != nil {
		return nil, 0, err
	}
	limit, offset := normalizePage(q)

	matched := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if q.ConversationID != "" && hit.ConversationID != q.ConversationID {
			continue
		}
		matched = append(matched, Result{
			MessageID:      hit.MessageID,
			ConversationID: hit.ConversationID,
			SenderID:       hit.SenderID,
			Kind:           string(hit.Kind),
			Snippet:        hit.Snippet,
			CreatedAt:      hit.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	total := len(matched)
	if offset >= total {
		return []Result{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
