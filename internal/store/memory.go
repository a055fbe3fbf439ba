package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and STORE_BACKEND=memory.
type MemoryStore struct {
	mu sync.Mutex

	now func() time.Time

	wordSuggestions    map[string]WordSuggestion
	exampleSuggestions map[string]ExampleSuggestion
	corpusSuggestions  map[string]CorpusSuggestion
	words              map[string]Word
	examples           map[string]Example
	corpora            map[string]Corpus
	mergeRecords       []MergeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:                func() time.Time { return time.Now().UTC() },
		wordSuggestions:    map[string]WordSuggestion{},
		exampleSuggestions: map[string]ExampleSuggestion{},
		corpusSuggestions:  map[string]CorpusSuggestion{},
		words:              map[string]Word{},
		examples:           map[string]Example{},
		corpora:            map[string]Corpus{},
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) InsertWordSuggestion(_ context.Context, item WordSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wordSuggestions[item.ID]; ok {
		return ErrConflict
	}
	item.Review = s.newReview(item.Review)
	s.wordSuggestions[item.ID] = cloneWordSuggestion(item)
	return nil
}

func (s *MemoryStore) GetWordSuggestion(_ context.Context, id string) (WordSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.wordSuggestions[id]
	if !ok {
		return WordSuggestion{}, ErrNotFound
	}
	return cloneWordSuggestion(item), nil
}

func (s *MemoryStore) UpdateWordSuggestion(_ context.Context, item WordSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.wordSuggestions[item.ID]
	if !ok || current.IsMerged() || current.Version != item.Version {
		return ErrConflict
	}
	next := cloneWordSuggestion(item)
	next.Review = s.contentUpdate(current.Review, item.Review)
	s.wordSuggestions[item.ID] = next
	return nil
}

func (s *MemoryStore) ListWordSuggestions(_ context.Context, filter SuggestionFilter) ([]WordSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]WordSuggestion, 0, len(s.wordSuggestions))
	for _, item := range s.wordSuggestions {
		if filter.matches(item.Review) {
			items = append(items, cloneWordSuggestion(item))
		}
	}
	sortByUpdated(items, func(item WordSuggestion) (time.Time, string) { return item.UpdatedAt, item.ID })
	return page(items, filter), nil
}

func (s *MemoryStore) InsertExampleSuggestion(_ context.Context, item ExampleSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exampleSuggestions[item.ID]; ok {
		return ErrConflict
	}
	item.Review = s.newReview(item.Review)
	s.exampleSuggestions[item.ID] = cloneExampleSuggestion(item)
	return nil
}

func (s *MemoryStore) GetExampleSuggestion(_ context.Context, id string) (ExampleSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.exampleSuggestions[id]
	if !ok {
		return ExampleSuggestion{}, ErrNotFound
	}
	return cloneExampleSuggestion(item), nil
}

func (s *MemoryStore) UpdateExampleSuggestion(_ context.Context, item ExampleSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.exampleSuggestions[item.ID]
	if !ok || current.IsMerged() || current.Version != item.Version {
		return ErrConflict
	}
	next := cloneExampleSuggestion(item)
	next.Review = s.contentUpdate(current.Review, item.Review)
	s.exampleSuggestions[item.ID] = next
	return nil
}

func (s *MemoryStore) ListExampleSuggestions(_ context.Context, filter SuggestionFilter) ([]ExampleSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]ExampleSuggestion, 0, len(s.exampleSuggestions))
	for _, item := range s.exampleSuggestions {
		if filter.matches(item.Review) {
			items = append(items, cloneExampleSuggestion(item))
		}
	}
	sortByUpdated(items, func(item ExampleSuggestion) (time.Time, string) { return item.UpdatedAt, item.ID })
	return page(items, filter), nil
}

func (s *MemoryStore) ListExampleSuggestionsByWord(_ context.Context, parentID string) ([]ExampleSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]ExampleSuggestion, 0)
	for _, item := range s.exampleSuggestions {
		if slices.Contains(item.AssociatedWords, parentID) {
			items = append(items, cloneExampleSuggestion(item))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) InsertCorpusSuggestion(_ context.Context, item CorpusSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.corpusSuggestions[item.ID]; ok {
		return ErrConflict
	}
	item.Review = s.newReview(item.Review)
	s.corpusSuggestions[item.ID] = cloneCorpusSuggestion(item)
	return nil
}

func (s *MemoryStore) GetCorpusSuggestion(_ context.Context, id string) (CorpusSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.corpusSuggestions[id]
	if !ok {
		return CorpusSuggestion{}, ErrNotFound
	}
	return cloneCorpusSuggestion(item), nil
}

func (s *MemoryStore) UpdateCorpusSuggestion(_ context.Context, item CorpusSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.corpusSuggestions[item.ID]
	if !ok || current.IsMerged() || current.Version != item.Version {
		return ErrConflict
	}
	next := cloneCorpusSuggestion(item)
	next.Review = s.contentUpdate(current.Review, item.Review)
	s.corpusSuggestions[item.ID] = next
	return nil
}

func (s *MemoryStore) ListCorpusSuggestions(_ context.Context, filter SuggestionFilter) ([]CorpusSuggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]CorpusSuggestion, 0, len(s.corpusSuggestions))
	for _, item := range s.corpusSuggestions {
		if filter.matches(item.Review) {
			items = append(items, cloneCorpusSuggestion(item))
		}
	}
	sortByUpdated(items, func(item CorpusSuggestion) (time.Time, string) { return item.UpdatedAt, item.ID })
	return page(items, filter), nil
}

func (s *MemoryStore) GetBallot(_ context.Context, collection Collection, id string) (Ballot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	review, ok := s.review(collection, id)
	if !ok {
		return Ballot{}, ErrNotFound
	}
	return Ballot{
		Collection:       collection,
		ID:               id,
		Approvals:        slices.Clone(review.Approvals),
		Denials:          slices.Clone(review.Denials),
		UserInteractions: slices.Clone(review.UserInteractions),
		Merged:           cloneString(review.Merged),
		Version:          review.Version,
	}, nil
}

func (s *MemoryStore) SaveBallot(_ context.Context, ballot Ballot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	review, ok := s.review(ballot.Collection, ballot.ID)
	if !ok || review.Version != ballot.Version {
		return ErrConflict
	}
	review.Approvals = slices.Clone(ballot.Approvals)
	review.Denials = slices.Clone(ballot.Denials)
	review.UserInteractions = slices.Clone(ballot.UserInteractions)
	s.bump(&review)
	s.setReview(ballot.Collection, ballot.ID, review)
	return nil
}

func (s *MemoryStore) ClaimMerge(_ context.Context, collection Collection, id, canonicalID, mergedBy string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	review, ok := s.review(collection, id)
	if !ok || review.IsMerged() {
		return false, nil
	}
	review.Merged = &canonicalID
	review.MergedBy = &mergedBy
	s.bump(&review)
	s.setReview(collection, id, review)
	return true, nil
}

func (s *MemoryStore) ReleaseMerge(_ context.Context, collection Collection, id, canonicalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	review, ok := s.review(collection, id)
	if !ok || review.Merged == nil || *review.Merged != canonicalID {
		return nil
	}
	review.Merged = nil
	review.MergedBy = nil
	s.bump(&review)
	s.setReview(collection, id, review)
	return nil
}

func (s *MemoryStore) DeleteSuggestion(_ context.Context, collection Collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.review(collection, id); !ok {
		return false, nil
	}
	switch collection {
	case WordSuggestions:
		delete(s.wordSuggestions, id)
	case ExampleSuggestions:
		delete(s.exampleSuggestions, id)
	case CorpusSuggestions:
		delete(s.corpusSuggestions, id)
	}
	return true, nil
}

func (s *MemoryStore) GetWord(_ context.Context, id string) (Word, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.words[id]
	if !ok {
		return Word{}, ErrNotFound
	}
	return cloneWord(item), nil
}

func (s *MemoryStore) InsertWord(_ context.Context, item Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.words[item.ID]; ok {
		return ErrConflict
	}
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	s.words[item.ID] = cloneWord(item)
	return nil
}

func (s *MemoryStore) UpdateWord(_ context.Context, item Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.words[item.ID]
	if !ok {
		return ErrNotFound
	}
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = s.now()
	s.words[item.ID] = cloneWord(item)
	return nil
}

func (s *MemoryStore) DeleteWord(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.words[id]; !ok {
		return ErrNotFound
	}
	delete(s.words, id)
	return nil
}

func (s *MemoryStore) ListWordsWithRelation(_ context.Context, kind RelationKind, wordID string) ([]Word, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Word, 0)
	for _, item := range s.words {
		if slices.Contains(item.Relations(kind), wordID) {
			items = append(items, cloneWord(item))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) AddRelation(_ context.Context, kind RelationKind, wordID, relatedID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.words[wordID]
	if !ok {
		return false, ErrNotFound
	}
	list := item.Relations(kind)
	if slices.Contains(list, relatedID) {
		return false, nil
	}
	setRelations(&item, kind, append(slices.Clone(list), relatedID))
	item.UpdatedAt = s.now()
	s.words[wordID] = item
	return true, nil
}

func (s *MemoryStore) RemoveRelation(_ context.Context, kind RelationKind, wordID, relatedID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.words[wordID]
	if !ok {
		return false, ErrNotFound
	}
	list := item.Relations(kind)
	if !slices.Contains(list, relatedID) {
		return false, nil
	}
	next := slices.DeleteFunc(slices.Clone(list), func(id string) bool { return id == relatedID })
	setRelations(&item, kind, next)
	item.UpdatedAt = s.now()
	s.words[wordID] = item
	return true, nil
}

func (s *MemoryStore) GetExample(_ context.Context, id string) (Example, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.examples[id]
	if !ok {
		return Example{}, ErrNotFound
	}
	return cloneExample(item), nil
}

func (s *MemoryStore) InsertExample(_ context.Context, item Example) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.examples[item.ID]; ok {
		return ErrConflict
	}
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	s.examples[item.ID] = cloneExample(item)
	return nil
}

func (s *MemoryStore) UpdateExample(_ context.Context, item Example) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.examples[item.ID]
	if !ok {
		return ErrNotFound
	}
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = s.now()
	s.examples[item.ID] = cloneExample(item)
	return nil
}

func (s *MemoryStore) DeleteExample(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.examples[id]; !ok {
		return ErrNotFound
	}
	delete(s.examples, id)
	return nil
}

func (s *MemoryStore) ListExamplesByWord(_ context.Context, wordID string) ([]Example, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Example, 0)
	for _, item := range s.examples {
		if slices.Contains(item.AssociatedWords, wordID) {
			items = append(items, cloneExample(item))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) GetCorpus(_ context.Context, id string) (Corpus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.corpora[id]
	if !ok {
		return Corpus{}, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore) InsertCorpus(_ context.Context, item Corpus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.corpora[item.ID]; ok {
		return ErrConflict
	}
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt
	s.corpora[item.ID] = item
	return nil
}

func (s *MemoryStore) UpdateCorpus(_ context.Context, item Corpus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.corpora[item.ID]
	if !ok {
		return ErrNotFound
	}
	item.CreatedAt = current.CreatedAt
	item.UpdatedAt = s.now()
	s.corpora[item.ID] = item
	return nil
}

func (s *MemoryStore) DeleteCorpus(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.corpora[id]; !ok {
		return ErrNotFound
	}
	delete(s.corpora, id)
	return nil
}

func (s *MemoryStore) InsertMergeRecord(_ context.Context, record MergeRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.mergeRecords {
		if existing.Collection == record.Collection && existing.SuggestionID == record.SuggestionID {
			return 0, ErrConflict
		}
	}
	record.ID = int64(len(s.mergeRecords) + 1)
	record.MergedAt = s.now()
	s.mergeRecords = append(s.mergeRecords, record)
	return record.ID, nil
}

func (s *MemoryStore) SetMergeRecordCommit(_ context.Context, id int64, commitHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.mergeRecords {
		if s.mergeRecords[i].ID == id {
			s.mergeRecords[i].CommitHash = commitHash
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ListMergeRecords(_ context.Context, limit int) ([]MergeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	items := make([]MergeRecord, 0, min(limit, len(s.mergeRecords)))
	for i := len(s.mergeRecords) - 1; i >= 0 && len(items) < limit; i-- {
		items = append(items, s.mergeRecords[i])
	}
	return items, nil
}

func (s *MemoryStore) review(collection Collection, id string) (Review, bool) {
	switch collection {
	case WordSuggestions:
		item, ok := s.wordSuggestions[id]
		return item.Review, ok
	case ExampleSuggestions:
		item, ok := s.exampleSuggestions[id]
		return item.Review, ok
	case CorpusSuggestions:
		item, ok := s.corpusSuggestions[id]
		return item.Review, ok
	}
	return Review{}, false
}

func (s *MemoryStore) setReview(collection Collection, id string, review Review) {
	switch collection {
	case WordSuggestions:
		item := s.wordSuggestions[id]
		item.Review = review
		s.wordSuggestions[id] = item
	case ExampleSuggestions:
		item := s.exampleSuggestions[id]
		item.Review = review
		s.exampleSuggestions[id] = item
	case CorpusSuggestions:
		item := s.corpusSuggestions[id]
		item.Review = review
		s.corpusSuggestions[id] = item
	}
}

func (s *MemoryStore) newReview(review Review) Review {
	if review.Origin == "" {
		review.Origin = OriginCommunity
	}
	review.Merged = nil
	review.MergedBy = nil
	review.Version = 1
	review.CreatedAt = s.now()
	review.UpdatedAt = review.CreatedAt
	return review
}

// contentUpdate keeps the vote sets and merge state of current and takes
// the editable review fields from next.
func (s *MemoryStore) contentUpdate(current, next Review) Review {
	current.EditorsNotes = next.EditorsNotes
	current.UserInteractions = slices.Clone(next.UserInteractions)
	s.bump(&current)
	return current
}

func (s *MemoryStore) bump(review *Review) {
	review.Version++
	review.UpdatedAt = s.now()
}

func (f SuggestionFilter) matches(review Review) bool {
	switch f.Merged {
	case MergedNo:
		if review.IsMerged() {
			return false
		}
	case MergedYes:
		if !review.IsMerged() {
			return false
		}
	}
	if f.Since != nil && review.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

func sortByUpdated[T any](items []T, key func(T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return idi < idj
	})
}

func page[T any](items []T, filter SuggestionFilter) []T {
	start := min(filter.offset(), len(items))
	end := min(start+filter.limit(), len(items))
	return items[start:end]
}

func setRelations(word *Word, kind RelationKind, list []string) {
	if kind == Antonyms {
		word.Antonyms = list
		return
	}
	word.Synonyms = list
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneReview(review Review) Review {
	review.Approvals = slices.Clone(review.Approvals)
	review.Denials = slices.Clone(review.Denials)
	review.UserInteractions = slices.Clone(review.UserInteractions)
	review.Merged = cloneString(review.Merged)
	review.MergedBy = cloneString(review.MergedBy)
	return review
}

func cloneDefinitions(groups []DefinitionGroup) []DefinitionGroup {
	if groups == nil {
		return nil
	}
	out := make([]DefinitionGroup, len(groups))
	for i, group := range groups {
		out[i] = DefinitionGroup{WordClass: group.WordClass, Definitions: slices.Clone(group.Definitions)}
	}
	return out
}

func cloneDialects(dialects map[string]Dialect) map[string]Dialect {
	if dialects == nil {
		return nil
	}
	out := maps.Clone(dialects)
	for key, dialect := range out {
		dialect.Variations = slices.Clone(dialect.Variations)
		dialect.Dialects = slices.Clone(dialect.Dialects)
		out[key] = dialect
	}
	return out
}

func cloneWordSuggestion(item WordSuggestion) WordSuggestion {
	item.OriginalWordID = cloneString(item.OriginalWordID)
	item.Definitions = cloneDefinitions(item.Definitions)
	item.Dialects = cloneDialects(item.Dialects)
	item.Variations = slices.Clone(item.Variations)
	item.Synonyms = slices.Clone(item.Synonyms)
	item.Antonyms = slices.Clone(item.Antonyms)
	item.Review = cloneReview(item.Review)
	return item
}

func cloneWord(item Word) Word {
	item.Definitions = cloneDefinitions(item.Definitions)
	item.Dialects = cloneDialects(item.Dialects)
	item.Variations = slices.Clone(item.Variations)
	item.Synonyms = slices.Clone(item.Synonyms)
	item.Antonyms = slices.Clone(item.Antonyms)
	return item
}

func cloneExampleSuggestion(item ExampleSuggestion) ExampleSuggestion {
	item.OriginalExampleID = cloneString(item.OriginalExampleID)
	item.AssociatedWords = slices.Clone(item.AssociatedWords)
	item.Review = cloneReview(item.Review)
	return item
}

func cloneExample(item Example) Example {
	item.AssociatedWords = slices.Clone(item.AssociatedWords)
	return item
}

func cloneCorpusSuggestion(item CorpusSuggestion) CorpusSuggestion {
	item.OriginalCorpusID = cloneString(item.OriginalCorpusID)
	item.Review = cloneReview(item.Review)
	return item
}
