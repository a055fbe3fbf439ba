package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/asset"
	"lexicon/api/internal/auth"
	"lexicon/api/internal/merge"
	"lexicon/api/internal/nested"
	"lexicon/api/internal/rbac"
	"lexicon/api/internal/store"
	"lexicon/api/internal/util"
)

type WordSuggestionInput struct {
	OriginalWordID *string                  `json:"originalWordId"`
	Word           string                   `json:"word"`
	Definitions    []store.DefinitionGroup  `json:"definitions"`
	Pronunciation  string                   `json:"pronunciation"`
	Dialects       map[string]store.Dialect `json:"dialects"`
	Variations     []string                 `json:"variations"`
	Synonyms       []string                 `json:"synonyms"`
	Antonyms       []string                 `json:"antonyms"`
	EditorsNotes   string                   `json:"editorsNotes"`
	// Examples declares the nested example suggestions. Nil leaves the
	// existing children alone; an empty list removes them.
	Examples []nested.Example `json:"examples"`
	Version  int64            `json:"version"`
}

type ExampleSuggestionInput struct {
	OriginalExampleID *string  `json:"originalExampleId"`
	Text              string   `json:"text"`
	Translation       string   `json:"translation"`
	Meaning           string   `json:"meaning"`
	Pronunciation     string   `json:"pronunciation"`
	AssociatedWords   []string `json:"associatedWords"`
	EditorsNotes      string   `json:"editorsNotes"`
	Version           int64    `json:"version"`
}

type CorpusSuggestionInput struct {
	OriginalCorpusID *string `json:"originalCorpusId"`
	Title            string  `json:"title"`
	Body             string  `json:"body"`
	Media            string  `json:"media"`
	EditorsNotes     string  `json:"editorsNotes"`
	Version          int64   `json:"version"`
}

// WordSuggestionView is a word suggestion with its nested example suggestions.
type WordSuggestionView struct {
	store.WordSuggestion
	Examples []store.ExampleSuggestion `json:"examples"`
}

// originFor marks suggestions from plain users as community contributions.
func originFor(p auth.Principal) store.Origin {
	if rbac.Normalize(p.Role) != rbac.RoleUser {
		return store.OriginInternal
	}
	return store.OriginCommunity
}

func (s *Service) newReview(p auth.Principal, notes string) store.Review {
	return store.Review{
		AuthorID:         p.ID,
		AuthorEmail:      p.Email,
		Origin:           originFor(p),
		EditorsNotes:     notes,
		Approvals:        []string{},
		Denials:          []string{},
		UserInteractions: []string{p.ID},
	}
}

func (s *Service) CreateWordSuggestion(ctx context.Context, p auth.Principal, in WordSuggestionInput) (WordSuggestionView, error) {
	if err := s.authorize(p, rbac.ActionSuggest); err != nil {
		return WordSuggestionView{}, err
	}
	if err := s.checkWordInput(ctx, in); err != nil {
		return WordSuggestionView{}, err
	}

	sug := store.WordSuggestion{ID: util.NewID("ws"), Review: s.newReview(p, in.EditorsNotes)}
	applyWordInput(&sug, in)

	batch := s.beginAssets()
	if err := stageWordAssets(ctx, batch, &sug, store.WordSuggestion{}); err != nil {
		abortAssets(ctx, batch)
		return WordSuggestionView{}, err
	}
	if err := s.store.InsertWordSuggestion(ctx, sug); err != nil {
		abortAssets(ctx, batch)
		return WordSuggestionView{}, fmt.Errorf("insert word suggestion: %w", err)
	}
	commitAssets(ctx, batch)

	if err := s.syncChildren(ctx, sug.ID, p, in.Examples); err != nil {
		return WordSuggestionView{}, err
	}
	s.log.Info("word suggestion created", "suggestion_id", sug.ID, "author_id", p.ID, "examples", len(in.Examples))
	return s.GetWordSuggestion(ctx, sug.ID)
}

func (s *Service) UpdateWordSuggestion(ctx context.Context, p auth.Principal, id string, in WordSuggestionInput) (WordSuggestionView, error) {
	if err := s.authorize(p, rbac.ActionSuggest); err != nil {
		return WordSuggestionView{}, err
	}
	current, err := s.loadWordSuggestion(ctx, id)
	if err != nil {
		return WordSuggestionView{}, err
	}
	if err := editable(current.Review, in.Version, id); err != nil {
		return WordSuggestionView{}, err
	}
	if err := s.checkWordInput(ctx, in); err != nil {
		return WordSuggestionView{}, err
	}

	next := current
	next.EditorsNotes = in.EditorsNotes
	next.UserInteractions = appendOnce(slices.Clone(current.UserInteractions), p.ID)
	applyWordInput(&next, in)

	batch := s.beginAssets()
	if err := stageWordAssets(ctx, batch, &next, current); err != nil {
		abortAssets(ctx, batch)
		return WordSuggestionView{}, err
	}
	if err := s.store.UpdateWordSuggestion(ctx, next); err != nil {
		abortAssets(ctx, batch)
		return WordSuggestionView{}, conflictOr(err, "update word suggestion", id)
	}
	commitAssets(ctx, batch)

	if err := s.syncChildren(ctx, id, p, in.Examples); err != nil {
		return WordSuggestionView{}, err
	}
	return s.GetWordSuggestion(ctx, id)
}

// GetWordSuggestion returns the suggestion with its nested examples attached.
func (s *Service) GetWordSuggestion(ctx context.Context, id string) (WordSuggestionView, error) {
	sug, err := s.loadWordSuggestion(ctx, id)
	if err != nil {
		return WordSuggestionView{}, err
	}
	view := WordSuggestionView{WordSuggestion: sug, Examples: []store.ExampleSuggestion{}}
	if s.children != nil {
		children, err := s.children.AttachChildren(ctx, id)
		if err != nil {
			return WordSuggestionView{}, err
		}
		view.Examples = nonNil(children)
	}
	return view, nil
}

func (s *Service) checkWordInput(ctx context.Context, in WordSuggestionInput) error {
	if strings.TrimSpace(in.Word) == "" {
		return apperr.Validation("word is required")
	}
	if err := merge.ValidateDialects(in.Dialects); err != nil {
		return err
	}
	if in.OriginalWordID != nil && strings.TrimSpace(*in.OriginalWordID) != "" {
		if _, err := s.store.GetWord(ctx, *in.OriginalWordID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.InvalidReference("original word %s does not exist", *in.OriginalWordID)
			}
			return fmt.Errorf("load original word: %w", err)
		}
	}
	return nil
}

func applyWordInput(sug *store.WordSuggestion, in WordSuggestionInput) {
	sug.OriginalWordID = blankToNil(in.OriginalWordID)
	sug.Word = strings.TrimSpace(in.Word)
	sug.Definitions = in.Definitions
	sug.Pronunciation = in.Pronunciation
	sug.Dialects = in.Dialects
	sug.Variations = in.Variations
	sug.Synonyms = in.Synonyms
	sug.Antonyms = in.Antonyms
}

func (s *Service) syncChildren(ctx context.Context, parentID string, p auth.Principal, declared []nested.Example) error {
	if declared == nil || s.children == nil {
		return nil
	}
	report, err := s.children.Sync(ctx, parentID, nested.Author{ID: p.ID, Email: p.Email, Origin: originFor(p)}, declared)
	if err != nil {
		return err
	}
	s.log.Debug("nested examples reconciled",
		"suggestion_id", parentID,
		"created", len(report.Created),
		"deleted", len(report.Deleted),
		"detached", len(report.Detached),
	)
	return nil
}

func (s *Service) CreateExampleSuggestion(ctx context.Context, p auth.Principal, in ExampleSuggestionInput) (store.ExampleSuggestion, error) {
	if err := s.authorize(p, rbac.ActionSuggest); err != nil {
		return store.ExampleSuggestion{}, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return store.ExampleSuggestion{}, apperr.Validation("text is required")
	}
	sug := store.ExampleSuggestion{ID: util.NewID("es"), Review: s.newReview(p, in.EditorsNotes)}
	applyExampleInput(&sug, in)

	batch := s.beginAssets()
	value, err := stageField(ctx, batch, asset.PronunciationFolder, sug.ID, sug.Pronunciation, "")
	if err != nil {
		abortAssets(ctx, batch)
		return store.ExampleSuggestion{}, err
	}
	sug.Pronunciation = value
	if err := s.store.InsertExampleSuggestion(ctx, sug); err != nil {
		abortAssets(ctx, batch)
		return store.ExampleSuggestion{}, fmt.Errorf("insert example suggestion: %w", err)
	}
	commitAssets(ctx, batch)
	return s.loadExampleSuggestion(ctx, sug.ID)
}

func (s *Service) UpdateExampleSuggestion(ctx context.Context, p auth.Principal, id string, in ExampleSuggestionInput) (store.ExampleSuggestion, error) {
	if err := s.authorize(p, rbac.ActionSuggest); err != nil {
		return store.ExampleSuggestion{}, err
	}
	current, err := s.loadExampleSuggestion(ctx, id)
	if err != nil {
		return store.ExampleSuggestion{}, err
	}
	if err := editable(current.Review, in.Version, id); err != nil {
		return store.ExampleSuggestion{}, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return store.ExampleSuggestion{}, apperr.Validation("text is required")
	}

	next := current
	next.EditorsNotes = in.EditorsNotes
	next.UserInteractions = appendOnce(slices.Clone(current.UserInteractions), p.ID)
	applyExampleInput(&next, in)

	batch := s.beginAssets()
	value, err := stageField(ctx, batch, asset.PronunciationFolder, id, next.Pronunciation, current.Pronunciation)
	if err != nil {
		abortAssets(ctx, batch)
		return store.ExampleSuggestion{}, err
	}
	next.Pronunciation = value
	if err := s.store.UpdateExampleSuggestion(ctx, next); err != nil {
		abortAssets(ctx, batch)
		return store.ExampleSuggestion{}, conflictOr(err, "update example suggestion", id)
	}
	commitAssets(ctx, batch)
	return s.loadExampleSuggestion(ctx, id)
}

func applyExampleInput(sug *store.ExampleSuggestion, in ExampleSuggestionInput) {
	sug.OriginalExampleID = blankToNil(in.OriginalExampleID)
	sug.Text = strings.TrimSpace(in.Text)
	sug.Translation = in.Translation
	sug.Meaning = in.Meaning
	sug.Pronunciation = in.Pronunciation
	sug.AssociatedWords = in.AssociatedWords
}

func (s *Service) CreateCorpusSuggestion(ctx context.Context, p auth.Principal, in CorpusSuggestionInput) (store.CorpusSuggestion, error) {
	if err := s.authorize(p, rbac.ActionSuggest); err != nil {
		return store.CorpusSuggestion{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return store.CorpusSuggestion{}, apperr.Validation("title is required")
	}
	sug := store.CorpusSuggestion{
		ID:               util.NewID("cs"),
		OriginalCorpusID: blankToNil(in.OriginalCorpusID),
		Title:            strings.TrimSpace(in.Title),
		Body:             in.Body,
		Review:           s.newReview(p, in.EditorsNotes),
	}

	batch := s.beginAssets()
	value, err := stageField(ctx, batch, asset.MediaFolder, sug.ID, in.Media, "")
	if err != nil {
		abortAssets(ctx, batch)
		return store.CorpusSuggestion{}, err
	}
	sug.Media = value
	if err := s.store.InsertCorpusSuggestion(ctx, sug); err != nil {
		abortAssets(ctx, batch)
		return store.CorpusSuggestion{}, fmt.Errorf("insert corpus suggestion: %w", err)
	}
	commitAssets(ctx, batch)
	return s.loadCorpusSuggestion(ctx, sug.ID)
}

func (s *Service) UpdateCorpusSuggestion(ctx context.Context, p auth.Principal, id string, in CorpusSuggestionInput) (store.CorpusSuggestion, error) {
	if err := s.authorize(p, rbac.ActionSuggest); err != nil {
		return store.CorpusSuggestion{}, err
	}
	current, err := s.loadCorpusSuggestion(ctx, id)
	if err != nil {
		return store.CorpusSuggestion{}, err
	}
	if err := editable(current.Review, in.Version, id); err != nil {
		return store.CorpusSuggestion{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return store.CorpusSuggestion{}, apperr.Validation("title is required")
	}

	next := current
	next.OriginalCorpusID = blankToNil(in.OriginalCorpusID)
	next.Title = strings.TrimSpace(in.Title)
	next.Body = in.Body
	next.EditorsNotes = in.EditorsNotes
	next.UserInteractions = appendOnce(slices.Clone(current.UserInteractions), p.ID)

	batch := s.beginAssets()
	value, err := stageField(ctx, batch, asset.MediaFolder, id, in.Media, current.Media)
	if err != nil {
		abortAssets(ctx, batch)
		return store.CorpusSuggestion{}, err
	}
	next.Media = value
	if err := s.store.UpdateCorpusSuggestion(ctx, next); err != nil {
		abortAssets(ctx, batch)
		return store.CorpusSuggestion{}, conflictOr(err, "update corpus suggestion", id)
	}
	commitAssets(ctx, batch)
	return s.loadCorpusSuggestion(ctx, id)
}

// ListSuggestions returns one page of a suggestion collection, most recently
// updated first.
func (s *Service) ListSuggestions(ctx context.Context, collection store.Collection, filter store.SuggestionFilter) (any, error) {
	var (
		items any
		err   error
	)
	switch collection {
	case store.WordSuggestions:
		var list []store.WordSuggestion
		list, err = s.store.ListWordSuggestions(ctx, filter)
		items = nonNil(list)
	case store.ExampleSuggestions:
		var list []store.ExampleSuggestion
		list, err = s.store.ListExampleSuggestions(ctx, filter)
		items = nonNil(list)
	case store.CorpusSuggestions:
		var list []store.CorpusSuggestion
		list, err = s.store.ListCorpusSuggestions(ctx, filter)
		items = nonNil(list)
	default:
		return nil, apperr.Validation("unknown collection %q", collection)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return items, nil
}

func (s *Service) GetSuggestion(ctx context.Context, collection store.Collection, id string) (any, error) {
	switch collection {
	case store.WordSuggestions:
		return s.GetWordSuggestion(ctx, id)
	case store.ExampleSuggestions:
		return s.loadExampleSuggestion(ctx, id)
	case store.CorpusSuggestions:
		return s.loadCorpusSuggestion(ctx, id)
	}
	return nil, apperr.Validation("unknown collection %q", collection)
}

func (s *Service) loadWordSuggestion(ctx context.Context, id string) (store.WordSuggestion, error) {
	sug, err := s.store.GetWordSuggestion(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return sug, apperr.NotFound("word suggestion %s", id)
	}
	if err != nil {
		return sug, fmt.Errorf("load word suggestion: %w", err)
	}
	return sug, nil
}

func (s *Service) loadExampleSuggestion(ctx context.Context, id string) (store.ExampleSuggestion, error) {
	sug, err := s.store.GetExampleSuggestion(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return sug, apperr.NotFound("example suggestion %s", id)
	}
	if err != nil {
		return sug, fmt.Errorf("load example suggestion: %w", err)
	}
	return sug, nil
}

func (s *Service) loadCorpusSuggestion(ctx context.Context, id string) (store.CorpusSuggestion, error) {
	sug, err := s.store.GetCorpusSuggestion(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return sug, apperr.NotFound("corpus suggestion %s", id)
	}
	if err != nil {
		return sug, fmt.Errorf("load corpus suggestion: %w", err)
	}
	return sug, nil
}

// editable rejects edits of merged suggestions and stale versions. A zero
// version skips the check.
func editable(r store.Review, version int64, id string) error {
	if r.IsMerged() {
		return apperr.AlreadyMerged("suggestion %s is already merged and can no longer be edited", id)
	}
	if version != 0 && version != r.Version {
		return apperr.New(apperr.ErrVersionConflict, fmt.Sprintf("suggestion %s is at version %d", id, r.Version)).
			WithDetails(map[string]any{"version": r.Version})
	}
	return nil
}

func conflictOr(err error, op, id string) error {
	if errors.Is(err, store.ErrConflict) {
		return apperr.New(apperr.ErrVersionConflict, fmt.Sprintf("suggestion %s changed concurrently", id))
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}

func blankToNil(value *string) *string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
