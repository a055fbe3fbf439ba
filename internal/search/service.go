package search

import (
	"context"
	"sync"

	"lexicon/api/internal/logger"
	"lexicon/api/internal/store"
)

type index interface {
	Searcher
	Indexer
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Index writes are fire-and-forget; Wait drains them on shutdown.
type Service struct {
	primary  index
	fallback Searcher
	loader   func(ctx context.Context) ([]WordRecord, []ExampleRecord, error)
	log      *logger.Logger
	pending  sync.WaitGroup
}

// NewService creates a search service. meili or pgfts may be nil when not configured.
func NewService(meili *Meili, pgfts *PgFTS, log *logger.Logger) *Service {
	s := &Service{log: log}
	if meili != nil {
		s.primary = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts.LoadAllRecords
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	return s
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries the primary index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("search: primary index failed, falling back", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("search: fallback failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexWord pushes a canonical word to the index in the background.
func (s *Service) IndexWord(w store.Word) {
	rec := NewWordRecord(w)
	s.async("index word", rec.ID, func(ix index) error { return ix.IndexWords([]WordRecord{rec}) })
}

func (s *Service) IndexExample(e store.Example) {
	rec := NewExampleRecord(e)
	s.async("index example", rec.ID, func(ix index) error { return ix.IndexExamples([]ExampleRecord{rec}) })
}

// DeleteWord removes a word that a failed merge rolled back.
func (s *Service) DeleteWord(id string) {
	s.async("delete word", id, func(ix index) error { return ix.DeleteWord(id) })
}

func (s *Service) DeleteExample(id string) {
	s.async("delete example", id, func(ix index) error { return ix.DeleteExample(id) })
}

func (s *Service) async(op, id string, fn func(index) error) {
	if s == nil || !s.primaryReady() {
		return
	}
	ix := s.primary
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := fn(ix); err != nil {
			s.log.Warn("search: "+op+" failed", "id", id, "error", err)
		}
	}()
}

// Wait blocks until background index writes have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAllFromPG pushes every canonical record from PostgreSQL into the
// primary index. Called at startup when the primary index is reachable.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.primaryReady() || s.loader == nil {
		return
	}
	words, examples, err := s.loader(ctx)
	if err != nil {
		s.log.Error("search: reindex load failed", "error", err)
		return
	}
	if err := s.primary.IndexWords(words); err != nil {
		s.log.Error("search: reindex words", "error", err)
	}
	if err := s.primary.IndexExamples(examples); err != nil {
		s.log.Error("search: reindex examples", "error", err)
	}
	s.log.Info("search: reindexed", "words", len(words), "examples", len(examples))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
