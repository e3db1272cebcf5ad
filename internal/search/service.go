package search

import (
	"context"

	"github.com/rs/zerolog"
)

// RecordLoader supplies every message for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]MessageRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to the
// store's own search.
type Service struct {
	meili    *Meili
	fallback Searcher
	log      zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, fallback Searcher, log zerolog.Logger) *Service {
	return &Service{meili: meili, fallback: fallback, log: log.With().Str("component", "search").Logger()}
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("fallback search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMessage indexes a message (fire-and-forget to Meilisearch). The
// fallback searchers read the store directly and need no indexing.
func (s *Service) IndexMessage(rec MessageRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMessage(rec); err != nil {
			s.log.Warn().Err(err).Str("message_id", rec.ID).Msg("index message")
		}
	}()
}

// Reindex pushes every stored message to Meilisearch.
func (s *Service) Reindex(ctx context.Context, loader RecordLoader) {
	if s.meili == nil || !s.meili.Healthy() || loader == nil {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexMessages(records); err != nil {
		s.log.Error().Err(err).Msg("reindex messages")
		return
	}
	s.log.Info().Int("messages", len(records)).Msg("reindexed messages")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
