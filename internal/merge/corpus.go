package merge

import (
	"context"
	"errors"

	"lexicon/api/internal/asset"
	"lexicon/api/internal/store"
)

// MergeCorpus promotes a corpus suggestion. Corpora carry a single media
// asset and no nested records or relations.
func (e *Engine) MergeCorpus(ctx context.Context, s store.CorpusSuggestion, mergedBy string) (Result, error) {
	if err := ValidateCorpus(s); err != nil {
		return Result{Collection: store.CorpusSuggestions, SuggestionID: s.ID}, err
	}

	var prior, corpus store.Corpus
	return e.run(ctx, plan{
		collection:   store.CorpusSuggestions,
		folder:       "corpora",
		noun:         "corpus",
		idPrefix:     "cor",
		suggestionID: s.ID,
		originalID:   s.OriginalCorpusID,
		review:       s.Review,
		headword:     s.Title,
		resolve: func(ctx context.Context, id string) error {
			var err error
			prior, err = e.store.GetCorpus(ctx, id)
			return err
		},
		migrate: func(ctx context.Context, batch *asset.Batch, canonicalID string) ([]asset.Outcome, error) {
			corpus = store.Corpus{ID: canonicalID, Title: s.Title, Body: s.Body}
			out, err := batch.Apply(ctx, asset.Request{
				Folder:   asset.MediaFolder,
				Stem:     canonicalID,
				Value:    s.Media,
				Previous: prior.Media,
			})
			if err != nil {
				return nil, err
			}
			out.Field = "media"
			corpus.Media = out.Value
			return []asset.Outcome{out}, nil
		},
		write: func(ctx context.Context, created bool) error {
			if created {
				return e.store.InsertCorpus(ctx, corpus)
			}
			return e.store.UpdateCorpus(ctx, corpus)
		},
		undo: func(ctx context.Context, created bool) error {
			if created {
				err := e.store.DeleteCorpus(ctx, corpus.ID)
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			}
			return e.store.UpdateCorpus(ctx, prior)
		},
		record: func() any { return corpus },
	}, mergedBy)
}
