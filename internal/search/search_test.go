package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportchat/api/internal/store"
)

type stubSearcher struct {
	results []Result
	total   int
	err     error
	last    Query
}

func (s *stubSearcher) Search(_ context.Context, q Query) ([]Result, int, error) {
	s.last = q
	return s.results, s.total, s.err
}

func (s *stubSearcher) Healthy() bool { return true }

func TestServiceUsesFallbackWithoutMeili(t *testing.T) {
	fallback := &stubSearcher{results: []Result{{MessageID: "msg_1"}}, total: 1}
	svc := NewService(nil, fallback, zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "refund", Limit: 5})
	assert.Equal(t, "refund", resp.Query)
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "msg_1", resp.Results[0].MessageID)
	assert.Equal(t, 5, fallback.last.Limit)
}

func TestServiceReturnsEmptyResultsOnFallbackError(t *testing.T) {
	svc := NewService(nil, &stubSearcher{err: errors.New("db down")}, zerolog.Nop())
	resp := svc.Search(context.Background(), Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.Total)
}

func TestMemorySearcherFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.CreateUser(ctx, store.User{ID: "usr_admin", Email: "a@x.io", Role: "ADMIN"}))
	require.NoError(t, st.CreateUser(ctx, store.User{ID: "usr_1", Email: "u1@x.io", Role: "USER"}))
	require.NoError(t, st.CreateUser(ctx, store.User{ID: "usr_2", Email: "u2@x.io", Role: "USER"}))
	_, err := st.CreateConversation(ctx, store.Conversation{ID: "conv_1", UserID: "usr_1", AdminID: "usr_admin"})
	require.NoError(t, err)
	_, err = st.CreateConversation(ctx, store.Conversation{ID: "conv_2", UserID: "usr_2", AdminID: "usr_admin"})
	require.NoError(t, err)

	for i, m := range []store.Message{
		{ID: "msg_1", ConversationID: "conv_1", SenderID: "usr_1", Kind: store.KindText, Content: "Refund please"},
		{ID: "msg_2", ConversationID: "conv_2", SenderID: "usr_2", Kind: store.KindText, Content: "where is my refund"},
		{ID: "msg_3", ConversationID: "conv_1", SenderID: "usr_1", Kind: store.KindFile, AttachmentURL: "https://cdn/x.pdf", Filename: "refund-form.pdf", MediaType: "application/pdf"},
		{ID: "msg_4", ConversationID: "conv_1", SenderID: "usr_admin", Kind: store.KindText, Content: "hello"},
	} {
		_, _, err := st.InsertMessage(ctx, m)
		require.NoError(t, err, "insert %d", i)
	}

	searcher := NewMemory(st)
	results, total, err := searcher.Search(ctx, Query{Text: "REFUND"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, results, 3)

	results, total, err = searcher.Search(ctx, Query{Text: "refund", ConversationID: "conv_1"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	for _, r := range results {
		assert.Equal(t, "conv_1", r.ConversationID)
	}

	results, total, err = searcher.Search(ctx, Query{Text: "refund", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, results, 1)

	results, _, err = searcher.Search(ctx, Query{Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHitToResultPrefersHighlightedField(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":             raw("msg_9"),
		"conversationId": raw("conv_1"),
		"senderId":       raw("usr_1"),
		"kind":           raw("TEXT"),
		"content":        raw("need a refund"),
		"createdAt":      raw(created.UnixMilli()),
		"_formatted":     raw(map[string]string{"content": "need a <mark>refund</mark>"}),
	}

	r := hitToResult(hit)
	assert.Equal(t, "msg_9", r.MessageID)
	assert.Equal(t, "conv_1", r.ConversationID)
	assert.Equal(t, "need a <mark>refund</mark>", r.Snippet)
	assert.Equal(t, created.Format(time.RFC3339Nano), r.CreatedAt)
}

func TestNormalizePage(t *testing.T) {
	limit, offset := normalizePage(Query{Limit: 0, Offset: -3})
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)

	limit, _ = normalizePage(Query{Limit: 500})
	assert.Equal(t, 20, limit)
}
