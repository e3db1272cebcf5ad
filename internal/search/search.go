// Package search finds messages across every conversation for the admin.
package search

import "context"

// Result is a single search hit returned to the caller.
type Result struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Kind           string `json:"kind"`
	Snippet        string `json:"snippet"`
	CreatedAt      string `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	Text           string
	ConversationID string // empty = all conversations
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// MessageRecord is the data we index for a message.
type MessageRecord struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Kind           string `json:"kind"`
	Content        string `json:"content"`
	Filename       string `json:"filename"`
	CreatedAt      int64  `json:"createdAt"`
}

func normalizePage(q Query) (limit, offset int) {
	limit = q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset = q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
