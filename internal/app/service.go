package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/archive"
	"lexicon/api/internal/asset"
	"lexicon/api/internal/auth"
	"lexicon/api/internal/config"
	"lexicon/api/internal/logger"
	"lexicon/api/internal/merge"
	"lexicon/api/internal/nested"
	"lexicon/api/internal/rbac"
	"lexicon/api/internal/review"
	"lexicon/api/internal/search"
	"lexicon/api/internal/store"
)

type mergeEngine interface {
	MergeWord(ctx context.Context, s store.WordSuggestion, mergedBy string) (merge.Result, error)
	MergeExample(ctx context.Context, s store.ExampleSuggestion, mergedBy string) (merge.Result, error)
	MergeCorpus(ctx context.Context, s store.CorpusSuggestion, mergedBy string) (merge.Result, error)
	Reject(ctx context.Context, collection store.Collection, id, actorID string) (merge.Rejection, error)
}

type historySource interface {
	History(collection, id string, limit int) ([]archive.Commit, error)
	Snapshot(collection, id, hash string) (json.RawMessage, error)
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

// assetFiles serves blobs held in process. Only the memory backend has one.
type assetFiles interface {
	Get(key string) ([]byte, string, bool)
}

// Deps are the collaborators of a Service. Store, Ledger and Engine are
// required.
type Deps struct {
	Store    store.Store
	Ledger   *review.Ledger
	Engine   mergeEngine
	Children *nested.Syncer
	Assets   *asset.Migrator
	Archive  historySource
	Search   searcher
	Files    assetFiles
	// Checks are extra readiness checks keyed by name, e.g. "redis".
	Checks map[string]func(context.Context) error
	Logger *logger.Logger
}

type Service struct {
	cfg      config.Config
	store    store.Store
	ledger   *review.Ledger
	engine   mergeEngine
	children *nested.Syncer
	assets   *asset.Migrator
	archive  historySource
	search   searcher
	files    assetFiles
	checks   map[string]func(context.Context) error
	log      *logger.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		ledger:   deps.Ledger,
		engine:   deps.Engine,
		children: deps.Children,
		assets:   deps.Assets,
		archive:  deps.Archive,
		search:   deps.Search,
		files:    deps.Files,
		checks:   deps.Checks,
		log:      deps.Logger.With("component", "app"),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness runs the database ping and every extra check.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	results := map[string]error{"database": s.Ping(ctx)}
	for name, check := range s.checks {
		results[name] = check(ctx)
	}
	return results
}

func (s *Service) JWTSecret() []byte {
	return []byte(s.cfg.JWTSecret)
}

func (s *Service) authorize(p auth.Principal, action rbac.Action) error {
	if rbac.Can(rbac.Normalize(p.Role), action) {
		return nil
	}
	return apperr.New(apperr.ErrForbidden, fmt.Sprintf("role %s may not %s", rbac.Normalize(p.Role), action))
}

// BallotView is the review state returned after a vote.
type BallotView struct {
	Collection       store.Collection `json:"collection"`
	ID               string           `json:"id"`
	Approvals        []string         `json:"approvals"`
	Denials          []string         `json:"denials"`
	UserInteractions []string         `json:"userInteractions"`
	Merged           *string          `json:"merged"`
	Version          int64            `json:"version"`
	CanMerge         bool             `json:"canMerge"`
	Required         int              `json:"requiredApprovals"`
}

// Vote records an approve or deny decision. Votes on merged suggestions are
// accepted; the view exposes merged so callers can tell.
func (s *Service) Vote(ctx context.Context, p auth.Principal, collection store.Collection, id, decision string) (BallotView, error) {
	if err := s.authorize(p, rbac.ActionVote); err != nil {
		return BallotView{}, err
	}
	parsed, err := review.ParseDecision(decision)
	if err != nil {
		return BallotView{}, err
	}
	ballot, err := s.ledger.Vote(ctx, collection, id, p.ID, parsed)
	if err != nil {
		return BallotView{}, err
	}
	s.log.Info("vote recorded", "collection", string(collection), "suggestion_id", id, "decision", string(parsed), "principal_id", p.ID)
	return s.ballotView(ballot), nil
}

func (s *Service) ballotView(b store.Ballot) BallotView {
	return BallotView{
		Collection:       b.Collection,
		ID:               b.ID,
		Approvals:        nonNil(b.Approvals),
		Denials:          nonNil(b.Denials),
		UserInteractions: nonNil(b.UserInteractions),
		Merged:           b.Merged,
		Version:          b.Version,
		CanMerge:         s.ledger.CanMerge(b),
		Required:         s.ledger.MinApprovals(),
	}
}

// RequestMerge gates the suggestion on its approvals and hands it to the
// merge engine. Admins may bypass the gate outside production.
func (s *Service) RequestMerge(ctx context.Context, p auth.Principal, collection store.Collection, id string, bypass bool) (merge.Result, error) {
	if err := s.authorize(p, rbac.ActionMerge); err != nil {
		return merge.Result{}, err
	}
	if bypass && (s.cfg.IsProduction() || rbac.Normalize(p.Role) != rbac.RoleAdmin) {
		return merge.Result{}, apperr.New(apperr.ErrForbidden, "approval bypass is only available to admins outside production")
	}

	ballot, err := s.store.GetBallot(ctx, collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return merge.Result{}, apperr.NotFound("suggestion %s", id)
	}
	if err != nil {
		return merge.Result{}, fmt.Errorf("load ballot: %w", err)
	}
	if ballot.Merged != nil && *ballot.Merged != "" {
		return merge.Result{}, apperr.AlreadyMerged("suggestion %s is already merged into %s", id, *ballot.Merged)
	}
	if err := s.ledger.Gate(ballot, bypass); err != nil {
		return merge.Result{}, err
	}
	if bypass {
		s.log.Warn("approval gate bypassed", "collection", string(collection), "suggestion_id", id, "principal_id", p.ID)
	}

	switch collection {
	case store.WordSuggestions:
		sug, err := s.loadWordSuggestion(ctx, id)
		if err != nil {
			return merge.Result{}, err
		}
		return s.engine.MergeWord(ctx, sug, p.ID)
	case store.ExampleSuggestions:
		sug, err := s.loadExampleSuggestion(ctx, id)
		if err != nil {
			return merge.Result{}, err
		}
		return s.engine.MergeExample(ctx, sug, p.ID)
	case store.CorpusSuggestions:
		sug, err := s.loadCorpusSuggestion(ctx, id)
		if err != nil {
			return merge.Result{}, err
		}
		return s.engine.MergeCorpus(ctx, sug, p.ID)
	}
	return merge.Result{}, apperr.Validation("unknown collection %q", collection)
}

// DeleteSuggestion rejects a suggestion.
func (s *Service) DeleteSuggestion(ctx context.Context, p auth.Principal, collection store.Collection, id string) (merge.Rejection, error) {
	if err := s.authorize(p, rbac.ActionDelete); err != nil {
		return merge.Rejection{}, err
	}
	return s.engine.Reject(ctx, collection, id, p.ID)
}

// WordView is a canonical word with the canonical examples that reference it.
type WordView struct {
	store.Word
	Examples []store.Example `json:"examples"`
}

func (s *Service) GetWord(ctx context.Context, id string) (WordView, error) {
	word, err := s.store.GetWord(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return WordView{}, apperr.NotFound("word %s", id)
	}
	if err != nil {
		return WordView{}, fmt.Errorf("load word: %w", err)
	}
	examples, err := s.store.ListExamplesByWord(ctx, id)
	if err != nil {
		return WordView{}, fmt.Errorf("load examples of %s: %w", id, err)
	}
	return WordView{Word: word, Examples: nonNil(examples)}, nil
}

func (s *Service) GetExample(ctx context.Context, id string) (store.Example, error) {
	example, err := s.store.GetExample(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Example{}, apperr.NotFound("example %s", id)
	}
	return example, err
}

func (s *Service) GetCorpus(ctx context.Context, id string) (store.Corpus, error) {
	corpus, err := s.store.GetCorpus(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Corpus{}, apperr.NotFound("corpus %s", id)
	}
	return corpus, err
}

// History lists the archived revisions of a canonical record, newest first.
func (s *Service) History(ctx context.Context, folder, id string, limit int) ([]archive.Commit, error) {
	if err := s.requireCanonical(ctx, folder, id); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []archive.Commit{}, nil
	}
	commits, err := s.archive.History(folder, id, limit)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", id, err)
	}
	return nonNil(commits), nil
}

func (s *Service) Revision(ctx context.Context, folder, id, hash string) (json.RawMessage, error) {
	if err := s.requireCanonical(ctx, folder, id); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return nil, apperr.NotFound("revision %s", hash)
	}
	snapshot, err := s.archive.Snapshot(folder, id, hash)
	if errors.Is(err, archive.ErrNotFound) {
		return nil, apperr.NotFound("revision %s of %s", hash, id)
	}
	return snapshot, err
}

func (s *Service) requireCanonical(ctx context.Context, folder, id string) error {
	var err error
	switch folder {
	case "words":
		_, err = s.GetWord(ctx, id)
	case "examples":
		_, err = s.GetExample(ctx, id)
	case "corpora":
		_, err = s.GetCorpus(ctx, id)
	default:
		err = apperr.NotFound("collection %s", folder)
	}
	return err
}

func (s *Service) ListMerges(ctx context.Context, limit int) ([]store.MergeRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	records, err := s.store.ListMergeRecords(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list merges: %w", err)
	}
	return nonNil(records), nil
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return search.Response{}, apperr.Validation("q is required")
	}
	if q.FilterType != "" && q.FilterType != search.ResultWord && q.FilterType != search.ResultExample {
		return search.Response{}, apperr.Validation("type must be word or example")
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(ctx, q), nil
}

// Asset returns a blob held by the in-process backend.
func (s *Service) Asset(key string) ([]byte, string, bool) {
	if s.files == nil {
		return nil, "", false
	}
	return s.files.Get(key)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func appendOnce(set []string, value string) []string {
	for _, v := range set {
		if v == value {
			return set
		}
	}
	return append(set, value)
}

func sortedCodes(maps ...map[string]store.Dialect) []string {
	seen := map[string]bool{}
	codes := []string{}
	for _, m := range maps {
		for code := range m {
			if !seen[code] {
				seen[code] = true
				codes = append(codes, code)
			}
		}
	}
	sort.Strings(codes)
	return codes
}
