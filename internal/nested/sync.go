// Package nested keeps the example suggestions attached to a word suggestion
// in line with the examples declared on it.
package nested

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/asset"
	"lexicon/api/internal/logger"
	"lexicon/api/internal/store"
	"lexicon/api/internal/util"
)

// Example is one example as declared on a parent suggestion. A blank ID
// asks for a new child.
type Example struct {
	ID              string   `json:"id,omitempty"`
	Text            string   `json:"text"`
	Translation     string   `json:"translation"`
	Meaning         string   `json:"meaning"`
	Pronunciation   string   `json:"pronunciation"`
	AssociatedWords []string `json:"associatedWords,omitempty"`
}

// Author is who a sync acts for. New children are attributed to it; a
// blank Origin counts as community.
type Author struct {
	ID     string
	Email  string
	Origin store.Origin
}

type Report struct {
	Created  []string `json:"created"`
	Updated  []string `json:"updated"`
	Deleted  []string `json:"deleted"`
	Detached []string `json:"detached"`
}

type exampleStore interface {
	InsertExampleSuggestion(context.Context, store.ExampleSuggestion) error
	GetExampleSuggestion(context.Context, string) (store.ExampleSuggestion, error)
	UpdateExampleSuggestion(context.Context, store.ExampleSuggestion) error
	ListExampleSuggestionsByWord(context.Context, string) ([]store.ExampleSuggestion, error)
	DeleteSuggestion(context.Context, store.Collection, string) (bool, error)
}

type Syncer struct {
	store  exampleStore
	assets *asset.Migrator
	log    *logger.Logger
}

// NewSyncer builds a Syncer. assets may be nil, in which case pronunciation
// values are stored as given.
func NewSyncer(s exampleStore, assets *asset.Migrator, log *logger.Logger) *Syncer {
	if log == nil {
		log = logger.Nop()
	}
	return &Syncer{store: s, assets: assets, log: log.With("component", "nested")}
}

// Sync creates, updates and removes the children of parentID so that they
// match declared. The steps are not transactional: a failure part way leaves
// the earlier steps applied and the returned report lists them.
func (s *Syncer) Sync(ctx context.Context, parentID string, author Author, declared []Example) (Report, error) {
	report := Report{Created: []string{}, Updated: []string{}, Deleted: []string{}, Detached: []string{}}

	persisted, err := s.store.ListExampleSuggestionsByWord(ctx, parentID)
	if err != nil {
		return report, fmt.Errorf("list children of %s: %w", parentID, err)
	}

	keep := make(map[string]bool, len(declared))
	for _, ex := range declared {
		id := strings.TrimSpace(ex.ID)
		if id == "" {
			childID, err := s.create(ctx, parentID, author, ex)
			if err != nil {
				return report, err
			}
			report.Created = append(report.Created, childID)
			continue
		}
		keep[id] = true
		if err := s.update(ctx, parentID, author.ID, ex); err != nil {
			return report, err
		}
		report.Updated = append(report.Updated, id)
	}

	for _, child := range persisted {
		if keep[child.ID] || child.IsMerged() {
			continue
		}
		if len(child.AssociatedWords) <= 1 {
			if _, err := s.store.DeleteSuggestion(ctx, store.ExampleSuggestions, child.ID); err != nil {
				return report, fmt.Errorf("delete child %s: %w", child.ID, err)
			}
			report.Deleted = append(report.Deleted, child.ID)
			continue
		}
		child.AssociatedWords = slices.DeleteFunc(child.AssociatedWords, func(id string) bool { return id == parentID })
		child.UserInteractions = appendOnce(child.UserInteractions, author.ID)
		if err := s.store.UpdateExampleSuggestion(ctx, child); err != nil {
			return report, fmt.Errorf("detach child %s: %w", child.ID, err)
		}
		report.Detached = append(report.Detached, child.ID)
	}

	s.log.Debug("children synced",
		"parent_id", parentID,
		"created", len(report.Created),
		"updated", len(report.Updated),
		"deleted", len(report.Deleted),
		"detached", len(report.Detached),
	)
	return report, nil
}

func (s *Syncer) create(ctx context.Context, parentID string, author Author, ex Example) (string, error) {
	origin := author.Origin
	if origin == "" {
		origin = store.OriginCommunity
	}
	child := store.ExampleSuggestion{
		ID:                   util.NewID("es"),
		Text:                 ex.Text,
		Translation:          ex.Translation,
		Meaning:              ex.Meaning,
		AssociatedWords:      []string{parentID},
		ExampleForSuggestion: true,
		Review: store.Review{
			AuthorID:         author.ID,
			AuthorEmail:      author.Email,
			Origin:           origin,
			Approvals:        []string{},
			Denials:          []string{},
			UserInteractions: []string{author.ID},
		},
	}
	batch, pronunciation, err := s.migrate(ctx, child.ID, ex.Pronunciation, "")
	if err != nil {
		return "", err
	}
	child.Pronunciation = pronunciation
	if err := s.store.InsertExampleSuggestion(ctx, child); err != nil {
		s.abort(ctx, batch)
		return "", fmt.Errorf("create child: %w", err)
	}
	s.commit(ctx, batch)
	return child.ID, nil
}

func (s *Syncer) update(ctx context.Context, parentID, actorID string, ex Example) error {
	child, err := s.store.GetExampleSuggestion(ctx, ex.ID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("example suggestion %s", ex.ID)
	}
	if err != nil {
		return fmt.Errorf("load child %s: %w", ex.ID, err)
	}
	if child.IsMerged() {
		return apperr.AlreadyMerged("example suggestion %s is already merged", child.ID)
	}

	batch, pronunciation, err := s.migrate(ctx, child.ID, ex.Pronunciation, child.Pronunciation)
	if err != nil {
		return err
	}

	child.Text = ex.Text
	child.Translation = ex.Translation
	child.Meaning = ex.Meaning
	child.Pronunciation = pronunciation
	if len(ex.AssociatedWords) > 0 {
		child.AssociatedWords = slices.Clone(ex.AssociatedWords)
	}
	child.AssociatedWords = appendOnce(child.AssociatedWords, parentID)
	child.UserInteractions = appendOnce(child.UserInteractions, actorID)

	if err := s.store.UpdateExampleSuggestion(ctx, child); err != nil {
		s.abort(ctx, batch)
		if errors.Is(err, store.ErrConflict) {
			return apperr.New(apperr.ErrVersionConflict, "example suggestion "+child.ID+" changed concurrently")
		}
		return fmt.Errorf("update child %s: %w", child.ID, err)
	}
	s.commit(ctx, batch)
	return nil
}

func (s *Syncer) migrate(ctx context.Context, ownerID, value, previous string) (*asset.Batch, string, error) {
	if s.assets == nil {
		return nil, value, nil
	}
	batch := s.assets.Begin(asset.Copy, "")
	out, err := batch.Apply(ctx, asset.Request{
		Folder:   asset.PronunciationFolder,
		Stem:     ownerID,
		Value:    value,
		Previous: previous,
	})
	if err != nil {
		s.abort(ctx, batch)
		return nil, "", err
	}
	return batch, out.Value, nil
}

func (s *Syncer) commit(ctx context.Context, batch *asset.Batch) {
	if batch != nil {
		_ = batch.Commit(ctx)
	}
}

func (s *Syncer) abort(ctx context.Context, batch *asset.Batch) {
	if batch != nil {
		_ = batch.Abort(ctx)
	}
}

// AttachChildren returns the example suggestions owned by parentID.
func (s *Syncer) AttachChildren(ctx context.Context, parentID string) ([]store.ExampleSuggestion, error) {
	children, err := s.store.ListExampleSuggestionsByWord(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parentID, err)
	}
	return children, nil
}

func appendOnce(set []string, value string) []string {
	if value == "" || slices.Contains(set, value) {
		return set
	}
	return append(set, value)
}
