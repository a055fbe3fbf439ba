package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/email"
	"lexicon/api/internal/nested"
	"lexicon/api/internal/store"
)

// Rejection describes a deleted suggestion.
type Rejection struct {
	Collection   store.Collection `json:"collection"`
	SuggestionID string           `json:"suggestionId"`
	WasMerged    bool             `json:"wasMerged"`
	Notified     bool             `json:"notified"`
	Children     *nested.Report   `json:"children,omitempty"`
}

// Reject deletes a suggestion. An unmerged suggestion whose author left an
// email gets a rejection notice. Deleting a word suggestion also releases its
// nested examples the same way dropping them from the parent would.
func (e *Engine) Reject(ctx context.Context, collection store.Collection, id, actorID string) (Rejection, error) {
	out := Rejection{Collection: collection, SuggestionID: id}

	review, headword, folder, err := e.loadReview(ctx, collection, id)
	if err != nil {
		return out, err
	}
	out.WasMerged = review.IsMerged()

	if collection == store.WordSuggestions && e.children != nil && !out.WasMerged {
		report, err := e.children.Sync(ctx, id, nested.Author{ID: actorID}, nil)
		if err != nil {
			return out, fmt.Errorf("release nested examples of %s: %w", id, err)
		}
		out.Children = &report
	}

	deleted, err := e.store.DeleteSuggestion(ctx, collection, id)
	if err != nil {
		return out, fmt.Errorf("delete %s: %w", id, err)
	}
	if !deleted {
		return out, apperr.NotFound("suggestion %s", id)
	}

	to := strings.TrimSpace(review.AuthorEmail)
	if !out.WasMerged && to != "" && e.notifier != nil {
		out.Notified = true
		data := email.Data{
			Collection:   folder,
			Headword:     headword,
			SuggestionID: id,
			EditorsNotes: review.EditorsNotes,
		}
		e.background(func(ctx context.Context) {
			if err := e.notifier.Send(ctx, email.KindRejected, []string{to}, data); err != nil {
				e.log.Warn("rejection notification failed", "suggestion_id", id, "error", err)
			}
		})
	}

	e.log.Info("suggestion deleted",
		"collection", string(collection),
		"suggestion_id", id,
		"was_merged", out.WasMerged,
		"notified", out.Notified,
	)
	return out, nil
}

func (e *Engine) loadReview(ctx context.Context, collection store.Collection, id string) (store.Review, string, string, error) {
	var (
		review   store.Review
		headword string
		folder   string
		err      error
	)
	switch collection {
	case store.WordSuggestions:
		var s store.WordSuggestion
		s, err = e.store.GetWordSuggestion(ctx, id)
		review, headword, folder = s.Review, s.Word, "words"
	case store.ExampleSuggestions:
		var s store.ExampleSuggestion
		s, err = e.store.GetExampleSuggestion(ctx, id)
		review, headword, folder = s.Review, s.Text, "examples"
	case store.CorpusSuggestions:
		var s store.CorpusSuggestion
		s, err = e.store.GetCorpusSuggestion(ctx, id)
		review, headword, folder = s.Review, s.Title, "corpora"
	default:
		return review, "", "", apperr.Validation("unknown collection %q", collection)
	}
	if errors.Is(err, store.ErrNotFound) {
		return review, "", "", apperr.NotFound("suggestion %s", id)
	}
	if err != nil {
		return review, "", "", fmt.Errorf("load %s: %w", id, err)
	}
	return review, headword, folder, nil
}
