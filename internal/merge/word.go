package merge

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"

	"lexicon/api/internal/asset"
	"lexicon/api/internal/store"
)

// MergeWord promotes a word suggestion. With an original word id the
// canonical word is replaced in place, otherwise a new word is created.
// Example suggestions nested under the suggestion are promoted afterwards.
func (e *Engine) MergeWord(ctx context.Context, s store.WordSuggestion, mergedBy string) (Result, error) {
	if err := ValidateWord(s); err != nil {
		return Result{Collection: store.WordSuggestions, SuggestionID: s.ID}, err
	}

	var prior, word store.Word
	return e.run(ctx, plan{
		collection:   store.WordSuggestions,
		folder:       "words",
		noun:         "word",
		idPrefix:     "wrd",
		suggestionID: s.ID,
		originalID:   s.OriginalWordID,
		review:       s.Review,
		headword:     s.Word,
		resolve: func(ctx context.Context, id string) error {
			var err error
			prior, err = e.store.GetWord(ctx, id)
			return err
		},
		migrate: func(ctx context.Context, batch *asset.Batch, canonicalID string) ([]asset.Outcome, error) {
			word = wordFromSuggestion(s, canonicalID)
			return migrateWordAssets(ctx, batch, &word, prior)
		},
		write: func(ctx context.Context, created bool) error {
			if created {
				return e.store.InsertWord(ctx, word)
			}
			return e.store.UpdateWord(ctx, word)
		},
		undo: func(ctx context.Context, created bool) error {
			if created {
				err := e.store.DeleteWord(ctx, word.ID)
				if errors.Is(err, store.ErrNotFound) {
					return nil
				}
				return err
			}
			return e.store.UpdateWord(ctx, prior)
		},
		record: func() any { return word },
		after: func(ctx context.Context, res *Result) {
			res.Children = e.promoteChildren(ctx, s.ID, word.ID, mergedBy)
			if e.relations != nil {
				report := e.relations.SyncSynonyms(ctx, word).Merge(e.relations.SyncAntonyms(ctx, word))
				if failed := report.Failed(); failed > 0 {
					e.log.Warn("relation sync incomplete", "word_id", word.ID, "failed_edges", failed)
				}
				res.Relations = &report
			}
		},
		publish: func() { e.index.IndexWord(word) },
	}, mergedBy)
}

func wordFromSuggestion(s store.WordSuggestion, canonicalID string) store.Word {
	return store.Word{
		ID:            canonicalID,
		Word:          s.Word,
		Definitions:   slices.Clone(s.Definitions),
		Pronunciation: s.Pronunciation,
		Dialects:      maps.Clone(s.Dialects),
		Variations:    slices.Clone(s.Variations),
		Synonyms:      slices.Clone(s.Synonyms),
		Antonyms:      slices.Clone(s.Antonyms),
	}
}

// migrateWordAssets moves the headword pronunciation and every dialect
// pronunciation to keys owned by word.ID. Dialects the prior canonical word
// had but the suggestion dropped have their blobs released.
func migrateWordAssets(ctx context.Context, batch *asset.Batch, word *store.Word, prior store.Word) ([]asset.Outcome, error) {
	outcomes := []asset.Outcome{}

	out, err := batch.Apply(ctx, asset.Request{
		Folder:   asset.PronunciationFolder,
		Stem:     word.ID,
		Value:    word.Pronunciation,
		Previous: prior.Pronunciation,
	})
	if err != nil {
		return nil, err
	}
	out.Field = "pronunciation"
	word.Pronunciation = out.Value
	outcomes = append(outcomes, out)

	codes := make([]string, 0, len(word.Dialects)+len(prior.Dialects))
	for code := range word.Dialects {
		codes = append(codes, code)
	}
	for code := range prior.Dialects {
		if _, ok := word.Dialects[code]; !ok {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)

	for _, code := range codes {
		dialect, kept := word.Dialects[code]
		previous := prior.Dialects[code].Pronunciation
		if dialect.Pronunciation == "" && previous == "" {
			continue
		}
		out, err := batch.Apply(ctx, asset.Request{
			Folder:   asset.PronunciationFolder,
			Stem:     asset.Stem(word.ID, code),
			Value:    dialect.Pronunciation,
			Previous: previous,
		})
		if err != nil {
			return nil, fmt.Errorf("dialect %s: %w", code, err)
		}
		out.Field = "dialects." + code + ".pronunciation"
		if kept {
			dialect.Pronunciation = out.Value
			word.Dialects[code] = dialect
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// promoteChildren is phase two of a word merge: every example suggestion
// still pointing at the word suggestion is re-pointed at the canonical word
// and merged. Already merged children are skipped, so a retry never merges a
// child twice. Failures are reported per child and do not undo the parent.
func (e *Engine) promoteChildren(ctx context.Context, suggestionID, wordID, mergedBy string) []ChildResult {
	children, err := e.store.ListExampleSuggestionsByWord(ctx, suggestionID)
	if err != nil {
		e.log.Error("list nested examples", "suggestion_id", suggestionID, "error", err)
		return []ChildResult{{Status: ChildFailed, Err: err, Error: err.Error()}}
	}

	results := make([]ChildResult, 0, len(children))
	for _, child := range children {
		if child.IsMerged() {
			results = append(results, ChildResult{SuggestionID: child.ID, CanonicalID: *child.Merged, Status: ChildSkipped})
			continue
		}
		child.AssociatedWords = repoint(child.AssociatedWords, suggestionID, wordID)
		if err := e.store.UpdateExampleSuggestion(ctx, child); err != nil {
			results = append(results, childFailure(child.ID, fmt.Errorf("re-point to %s: %w", wordID, err)))
			continue
		}
		res, err := e.MergeExample(ctx, child, mergedBy)
		if err != nil {
			results = append(results, childFailure(child.ID, err))
			continue
		}
		results = append(results, ChildResult{SuggestionID: child.ID, CanonicalID: res.CanonicalID, Status: ChildMerged})
	}
	for _, r := range results {
		if r.Err != nil {
			e.log.Warn("nested example not promoted", "suggestion_id", r.SuggestionID, "parent_id", suggestionID, "error", r.Err)
		}
	}
	return results
}

func childFailure(id string, err error) ChildResult {
	return ChildResult{SuggestionID: id, Status: ChildFailed, Err: err, Error: err.Error()}
}

// repoint replaces from with to, keeping order and dropping a duplicate to.
func repoint(ids []string, from, to string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == from {
			id = to
		}
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
