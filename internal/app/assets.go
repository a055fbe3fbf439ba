package app

import (
	"context"
	"fmt"
	"maps"

	"lexicon/api/internal/asset"
	"lexicon/api/internal/store"
)

// Suggestions own their assets: inline uploads and URLs owned by someone else
// are stored under the suggestion's own keys when it is saved.

func (s *Service) beginAssets() *asset.Batch {
	if s.assets == nil {
		return nil
	}
	return s.assets.Begin(asset.Copy, "")
}

func stageField(ctx context.Context, batch *asset.Batch, folder, stem, value, previous string) (string, error) {
	if batch == nil {
		return value, nil
	}
	out, err := batch.Apply(ctx, asset.Request{Folder: folder, Stem: stem, Value: value, Previous: previous})
	if err != nil {
		return "", err
	}
	return out.Value, nil
}

func stageWordAssets(ctx context.Context, batch *asset.Batch, sug *store.WordSuggestion, prior store.WordSuggestion) error {
	value, err := stageField(ctx, batch, asset.PronunciationFolder, sug.ID, sug.Pronunciation, prior.Pronunciation)
	if err != nil {
		return err
	}
	sug.Pronunciation = value

	sug.Dialects = maps.Clone(sug.Dialects)
	for _, code := range sortedCodes(sug.Dialects, prior.Dialects) {
		dialect, kept := sug.Dialects[code]
		value, err := stageField(ctx, batch, asset.PronunciationFolder, asset.Stem(sug.ID, code), dialect.Pronunciation, prior.Dialects[code].Pronunciation)
		if err != nil {
			return fmt.Errorf("dialect %s: %w", code, err)
		}
		if kept {
			dialect.Pronunciation = value
			sug.Dialects[code] = dialect
		}
	}
	return nil
}

func commitAssets(ctx context.Context, batch *asset.Batch) {
	if batch != nil {
		_ = batch.Commit(ctx)
	}
}

func abortAssets(ctx context.Context, batch *asset.Batch) {
	if batch != nil {
		_ = batch.Abort(context.WithoutCancel(ctx))
	}
}
