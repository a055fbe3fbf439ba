// Package relation keeps synonym and antonym links between canonical words
// symmetric.
package relation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"golang.org/x/sync/errgroup"

	"lexicon/api/internal/logger"
	"lexicon/api/internal/store"
)

type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
)

// EdgeResult is the outcome of writing From into the kind list of To.
type EdgeResult struct {
	Kind    store.RelationKind `json:"kind"`
	From    string             `json:"from"`
	To      string             `json:"to"`
	Op      Op                 `json:"op"`
	Changed bool               `json:"changed"`
	Err     error              `json:"-"`
	Error   string             `json:"error,omitempty"`
}

type Report struct {
	Edges []EdgeResult `json:"edges"`
	// Err is set when the current back-edges could not be loaded.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

func (r Report) Failed() int {
	n := 0
	for _, edge := range r.Edges {
		if edge.Err != nil {
			n++
		}
	}
	if r.Err != nil {
		n++
	}
	return n
}

// Merge appends other to r.
func (r Report) Merge(other Report) Report {
	r.Edges = append(r.Edges, other.Edges...)
	r.Err = errors.Join(r.Err, other.Err)
	if r.Err != nil {
		r.Error = r.Err.Error()
	}
	return r
}

type relationStore interface {
	ListWordsWithRelation(context.Context, store.RelationKind, string) ([]store.Word, error)
	AddRelation(context.Context, store.RelationKind, string, string) (bool, error)
	RemoveRelation(context.Context, store.RelationKind, string, string) (bool, error)
}

type Syncer struct {
	store       relationStore
	log         *logger.Logger
	concurrency int
}

func NewSyncer(s relationStore, log *logger.Logger) *Syncer {
	if log == nil {
		log = logger.Nop()
	}
	return &Syncer{store: s, log: log.With("component", "relation"), concurrency: 8}
}

func (s *Syncer) SyncSynonyms(ctx context.Context, word store.Word) Report {
	return s.Sync(ctx, store.Synonyms, word)
}

func (s *Syncer) SyncAntonyms(ctx context.Context, word store.Word) Report {
	return s.Sync(ctx, store.Antonyms, word)
}

// Sync makes the kind links of every other word agree with word: words that
// list word but are not listed back lose the link, listed words missing the
// back link gain it. Each edge is written on its own; failures are recorded
// and the rest of the edges still run.
func (s *Syncer) Sync(ctx context.Context, kind store.RelationKind, word store.Word) Report {
	listed := declared(word, kind)

	listers, err := s.store.ListWordsWithRelation(ctx, kind, word.ID)
	if err != nil {
		s.log.Error("load back edges failed", "word_id", word.ID, "kind", kind, "error", err)
		return Report{Edges: []EdgeResult{}, Err: err, Error: err.Error()}
	}

	edges := make([]EdgeResult, 0, len(listers)+len(listed))
	for _, other := range listers {
		if other.ID == word.ID || slices.Contains(listed, other.ID) {
			continue
		}
		edges = append(edges, EdgeResult{Kind: kind, From: word.ID, To: other.ID, Op: OpRemove})
	}
	for _, id := range listed {
		edges = append(edges, EdgeResult{Kind: kind, From: word.ID, To: id, Op: OpAdd})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range edges {
		g.Go(func() error {
			edge := &edges[i]
			var err error
			switch edge.Op {
			case OpAdd:
				edge.Changed, err = s.store.AddRelation(gctx, kind, edge.To, edge.From)
			case OpRemove:
				edge.Changed, err = s.store.RemoveRelation(gctx, kind, edge.To, edge.From)
			}
			if errors.Is(err, store.ErrNotFound) {
				err = fmt.Errorf("related word %s: %w", edge.To, err)
			}
			if err != nil {
				edge.Err = err
				edge.Error = err.Error()
				s.log.Warn("relation edge failed", "kind", kind, "op", edge.Op, "from", edge.From, "to", edge.To, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Op != edges[j].Op {
			return edges[i].Op < edges[j].Op
		}
		return edges[i].To < edges[j].To
	})
	return Report{Edges: edges}
}

// declared returns the unique related ids of word, without itself.
func declared(word store.Word, kind store.RelationKind) []string {
	out := make([]string, 0, len(word.Relations(kind)))
	for _, id := range word.Relations(kind) {
		if id == "" || id == word.ID || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
