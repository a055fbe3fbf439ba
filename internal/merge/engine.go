// Package merge promotes approved suggestions into canonical dictionary records.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/archive"
	"lexicon/api/internal/asset"
	"lexicon/api/internal/email"
	"lexicon/api/internal/logger"
	"lexicon/api/internal/mergelock"
	"lexicon/api/internal/nested"
	"lexicon/api/internal/relation"
	"lexicon/api/internal/store"
	"lexicon/api/internal/util"
)

type mergeStore interface {
	GetWordSuggestion(context.Context, string) (store.WordSuggestion, error)
	GetExampleSuggestion(context.Context, string) (store.ExampleSuggestion, error)
	GetCorpusSuggestion(context.Context, string) (store.CorpusSuggestion, error)
	UpdateExampleSuggestion(context.Context, store.ExampleSuggestion) error
	ListExampleSuggestionsByWord(context.Context, string) ([]store.ExampleSuggestion, error)
	ClaimMerge(ctx context.Context, collection store.Collection, id, canonicalID, mergedBy string) (bool, error)
	ReleaseMerge(ctx context.Context, collection store.Collection, id, canonicalID string) error
	DeleteSuggestion(context.Context, store.Collection, string) (bool, error)

	GetWord(context.Context, string) (store.Word, error)
	InsertWord(context.Context, store.Word) error
	UpdateWord(context.Context, store.Word) error
	DeleteWord(context.Context, string) error

	GetExample(context.Context, string) (store.Example, error)
	InsertExample(context.Context, store.Example) error
	UpdateExample(context.Context, store.Example) error
	DeleteExample(context.Context, string) error

	GetCorpus(context.Context, string) (store.Corpus, error)
	InsertCorpus(context.Context, store.Corpus) error
	UpdateCorpus(context.Context, store.Corpus) error
	DeleteCorpus(context.Context, string) error

	InsertMergeRecord(context.Context, store.MergeRecord) (int64, error)
	SetMergeRecordCommit(ctx context.Context, id int64, commitHash string) error
}

// Locker serializes merges of one suggestion across instances.
type Locker interface {
	Acquire(ctx context.Context, collection, id string) (*mergelock.Lease, error)
}

type Archiver interface {
	Commit(collection, id string, record any, author, message string) (archive.Commit, error)
}

type Indexer interface {
	IndexWord(store.Word)
	IndexExample(store.Example)
}

type Notifier interface {
	Send(ctx context.Context, kind email.Kind, recipients []string, data email.Data) error
}

type Options struct {
	Assets    *asset.Migrator
	Children  *nested.Syncer
	Relations *relation.Syncer
	Locker    Locker
	Archive   Archiver
	Index     Indexer
	Notifier  Notifier
	Logger    *logger.Logger
}

// Engine runs merges. Everything except the store and the asset migrator is
// optional.
type Engine struct {
	store     mergeStore
	assets    *asset.Migrator
	children  *nested.Syncer
	relations *relation.Syncer
	locker    Locker
	archive   Archiver
	index     Indexer
	notifier  Notifier
	log       *logger.Logger
	pending   sync.WaitGroup
}

func NewEngine(s mergeStore, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Engine{
		store:     s,
		assets:    opts.Assets,
		children:  opts.Children,
		relations: opts.Relations,
		locker:    opts.Locker,
		archive:   opts.Archive,
		index:     opts.Index,
		notifier:  opts.Notifier,
		log:       opts.Logger.With("component", "merge"),
	}
}

type ChildStatus string

const (
	ChildMerged  ChildStatus = "merged"
	ChildSkipped ChildStatus = "skipped"
	ChildFailed  ChildStatus = "failed"
)

// ChildResult is the outcome of promoting one nested example suggestion.
type ChildResult struct {
	SuggestionID string      `json:"suggestionId"`
	CanonicalID  string      `json:"canonicalId,omitempty"`
	Status       ChildStatus `json:"status"`
	Err          error       `json:"-"`
	Error        string      `json:"error,omitempty"`
}

type Result struct {
	Collection   store.Collection `json:"collection"`
	SuggestionID string           `json:"suggestionId"`
	CanonicalID  string           `json:"canonicalId"`
	Created      bool             `json:"created"`
	Assets       []asset.Outcome  `json:"assets"`
	Children     []ChildResult    `json:"children,omitempty"`
	Relations    *relation.Report `json:"relations,omitempty"`
	CommitHash   string           `json:"commitHash,omitempty"`
}

// plan is the type-specific part of a merge. The closures share the
// canonical record being built with the caller.
type plan struct {
	collection   store.Collection
	folder       string
	noun         string
	idPrefix     string
	suggestionID string
	originalID   *string
	review       store.Review
	headword     string

	resolve func(ctx context.Context, id string) error
	migrate func(ctx context.Context, batch *asset.Batch, canonicalID string) ([]asset.Outcome, error)
	write   func(ctx context.Context, created bool) error
	undo    func(ctx context.Context, created bool) error
	record  func() any
	after   func(ctx context.Context, res *Result)
	publish func()
}

// run executes the shared merge sequence. Nothing is written before the
// claim; any failure after it rolls back the asset batch and the canonical
// record and releases the claim.
func (e *Engine) run(ctx context.Context, p plan, mergedBy string) (Result, error) {
	res := Result{Collection: p.collection, SuggestionID: p.suggestionID, Assets: []asset.Outcome{}}
	if strings.TrimSpace(mergedBy) == "" {
		return res, apperr.Validation("merging principal is required")
	}
	if p.review.IsMerged() {
		return res, apperr.AlreadyMerged("%s suggestion %s is already merged into %s", p.noun, p.suggestionID, *p.review.Merged)
	}

	lease, err := e.acquire(ctx, p)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn("release merge lease", "suggestion_id", p.suggestionID, "error", err)
		}
	}()

	canonicalID, created := util.NewID(p.idPrefix), true
	if p.originalID != nil && strings.TrimSpace(*p.originalID) != "" {
		canonicalID, created = *p.originalID, false
		if err := p.resolve(ctx, canonicalID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return res, apperr.NotFound("%s %s to merge into does not exist", p.noun, canonicalID)
			}
			return res, fmt.Errorf("load %s %s: %w", p.noun, canonicalID, err)
		}
	}
	res.CanonicalID, res.Created = canonicalID, created

	claimed, err := e.store.ClaimMerge(ctx, p.collection, p.suggestionID, canonicalID, mergedBy)
	if err != nil {
		return res, fmt.Errorf("claim %s: %w", p.suggestionID, err)
	}
	if !claimed {
		return res, apperr.AlreadyMerged("%s suggestion %s was merged by another request", p.noun, p.suggestionID)
	}

	mode := asset.Copy
	if !created {
		mode = asset.Rename
	}
	batch := e.assets.Begin(mode, p.suggestionID)
	written := false
	fail := func(err error) (Result, error) {
		e.compensate(ctx, p, batch, canonicalID, created, written)
		return res, err
	}

	outcomes, err := p.migrate(ctx, batch, canonicalID)
	if err != nil {
		return fail(err)
	}
	res.Assets = outcomes

	if err := p.write(ctx, created); err != nil {
		return fail(fmt.Errorf("write %s %s: %w", p.noun, canonicalID, err))
	}
	written = true

	recordID, err := e.store.InsertMergeRecord(ctx, store.MergeRecord{
		Collection:   p.collection,
		SuggestionID: p.suggestionID,
		CanonicalID:  canonicalID,
		Created:      created,
		MergedBy:     mergedBy,
	})
	if err != nil {
		return fail(fmt.Errorf("record merge of %s: %w", p.suggestionID, err))
	}

	if err := batch.Commit(ctx); err != nil {
		e.log.Warn("asset cleanup incomplete", "suggestion_id", p.suggestionID, "error", err)
	}

	if p.after != nil {
		p.after(ctx, &res)
	}
	res.CommitHash = e.archiveRecord(ctx, p, canonicalID, recordID, mergedBy, created)
	if e.index != nil && p.publish != nil {
		p.publish()
	}
	e.notifyMerged(p, canonicalID)

	e.log.Info("suggestion merged",
		"collection", string(p.collection),
		"suggestion_id", p.suggestionID,
		"canonical_id", canonicalID,
		"created", created,
		"merged_by", mergedBy,
	)
	return res, nil
}

func (e *Engine) acquire(ctx context.Context, p plan) (*mergelock.Lease, error) {
	if e.locker == nil {
		return nil, nil
	}
	lease, err := e.locker.Acquire(ctx, string(p.collection), p.suggestionID)
	if errors.Is(err, mergelock.ErrHeld) {
		return nil, apperr.AlreadyMerged("merge of %s suggestion %s is already in progress", p.noun, p.suggestionID)
	}
	if err != nil {
		// The conditional claim still guarantees a single merge.
		e.log.Warn("merge lease unavailable, continuing on claim only", "suggestion_id", p.suggestionID, "error", err)
		return nil, nil
	}
	return lease, nil
}

func (e *Engine) compensate(ctx context.Context, p plan, batch *asset.Batch, canonicalID string, created, written bool) {
	ctx = context.WithoutCancel(ctx)
	log := e.log.With("suggestion_id", p.suggestionID, "canonical_id", canonicalID)
	if err := batch.Abort(ctx); err != nil {
		log.Warn("asset rollback incomplete", "error", err)
	}
	if written {
		if err := p.undo(ctx, created); err != nil {
			log.Error("canonical rollback failed", "created", created, "error", err)
		}
	}
	if err := e.store.ReleaseMerge(ctx, p.collection, p.suggestionID, canonicalID); err != nil {
		log.Error("release merge claim failed", "error", err)
	}
	log.Warn("merge rolled back", "created", created)
}

func (e *Engine) archiveRecord(ctx context.Context, p plan, canonicalID string, recordID int64, mergedBy string, created bool) string {
	if e.archive == nil {
		return ""
	}
	verb := "Update"
	if created {
		verb = "Create"
	}
	message := fmt.Sprintf("%s %s %s from suggestion %s", verb, p.noun, canonicalID, p.suggestionID)
	commit, err := e.archive.Commit(p.folder, canonicalID, p.record(), mergedBy, message)
	if err != nil {
		e.log.Warn("archive commit failed", "canonical_id", canonicalID, "error", err)
		return ""
	}
	if err := e.store.SetMergeRecordCommit(ctx, recordID, commit.Hash); err != nil {
		e.log.Warn("store merge commit hash", "record_id", recordID, "error", err)
	}
	return commit.Hash
}

// notifyMerged emails the author of a community suggestion in the background.
func (e *Engine) notifyMerged(p plan, canonicalID string) {
	if e.notifier == nil || p.review.Origin != store.OriginCommunity {
		return
	}
	to := strings.TrimSpace(p.review.AuthorEmail)
	if to == "" {
		return
	}
	data := email.Data{
		Collection:   p.folder,
		Headword:     p.headword,
		SuggestionID: p.suggestionID,
		CanonicalID:  canonicalID,
		EditorsNotes: p.review.EditorsNotes,
	}
	e.background(func(ctx context.Context) {
		if err := e.notifier.Send(ctx, email.KindMerged, []string{to}, data); err != nil {
			e.log.Warn("merged notification failed", "suggestion_id", p.suggestionID, "error", err)
		}
	})
}

func (e *Engine) background(fn func(ctx context.Context)) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		fn(ctx)
	}()
}

// Wait blocks until background notifications have been dispatched.
func (e *Engine) Wait() {
	e.pending.Wait()
}
