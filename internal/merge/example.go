package merge

import (
	"context"
	"errors"
	"slices"

	"lexicon/api/internal/asset"
	"lexicon/api/internal/store"
)

// MergeExample promotes an example suggestion. Its associated words must all
// be canonical words before anything is written.
func (e *Engine) MergeExample(ctx context.Context, s store.ExampleSuggestion, mergedBy string) (Result, error) {
	fail := Result{Collection: store.ExampleSuggestions, SuggestionID: s.ID}
	if err := ValidateExample(s); err != nil {
		return fail, err
	}
	if err := checkAssociatedWords(ctx, e.store, s.AssociatedWords); err != nil {
		return fail, err
	}

	var prior, example store.Example
	return e.run(ctx, plan{
		collection:   store.ExampleSuggestions,
		folder:       "examples",
		noun:         "example",
		idPrefix:     "exm",
		suggestionID: s.ID,
		originalID:   s.OriginalExampleID,
		review:       s.Review,
		headword:     s.Text,
		resolve: func(ctx context.Context, id string) error {
			var err error
			prior, err = e.store.GetExample(ctx, id)
			return err
		},
		migrate: func(ctx context.Context, batch *asset.Batch, canonicalID string) ([]asset.Outcome, error) {
			example = store.Example{
				ID:              canonicalID,
				Text:            s.Text,
				Translation:     s.Translation,
				Meaning:         s.Meaning,
				AssociatedWords: slices.Clone(s.AssociatedWords),
			}
			out, err := batch.Apply(ctx, asset.Request{
				Folder:   asset.PronunciationFolder,
				Stem:     canonicalID,
				Value:    s.Pronunciation,
				Previous: prior.Pronunciation,
			})
			if err != nil {
				return nil, err
			}
			out.Field = "pronunciation"
			example.Pronunciation = out.Value
			return []asset.Outcome{out}, nil
		},
		write: func(ctx context.Context, created bool) error {
			if created {
				return e.store.InsertExample(ctx, example)
			}
			return e.store.UpdateExample(ctx, example)
		},
		undo: func(ctx context.Context, created bool) error {
			if created {
				err := e.store.DeleteExample(ctx, example.ID)
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			}
			return e.store.UpdateExample(ctx, prior)
		},
		record:  func() any { return example },
		publish: func() { e.index.IndexExample(example) },
	}, mergedBy)
}
