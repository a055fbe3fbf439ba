package store

import "context"

// Store is the persistence surface shared by PostgresStore and MemoryStore.
// Consumers depend on narrower interfaces of their own.
type Store interface {
	Ping(ctx context.Context) error

	InsertWordSuggestion(ctx context.Context, item WordSuggestion) error
	GetWordSuggestion(ctx context.Context, id string) (WordSuggestion, error)
	UpdateWordSuggestion(ctx context.Context, item WordSuggestion) error
	ListWordSuggestions(ctx context.Context, filter SuggestionFilter) ([]WordSuggestion, error)

	InsertExampleSuggestion(ctx context.Context, item ExampleSuggestion) error
	GetExampleSuggestion(ctx context.Context, id string) (ExampleSuggestion, error)
	UpdateExampleSuggestion(ctx context.Context, item ExampleSuggestion) error
	ListExampleSuggestions(ctx context.Context, filter SuggestionFilter) ([]ExampleSuggestion, error)
	ListExampleSuggestionsByWord(ctx context.Context, parentID string) ([]ExampleSuggestion, error)

	InsertCorpusSuggestion(ctx context.Context, item CorpusSuggestion) error
	GetCorpusSuggestion(ctx context.Context, id string) (CorpusSuggestion, error)
	UpdateCorpusSuggestion(ctx context.Context, item CorpusSuggestion) error
	ListCorpusSuggestions(ctx context.Context, filter SuggestionFilter) ([]CorpusSuggestion, error)

	GetBallot(ctx context.Context, collection Collection, id string) (Ballot, error)
	SaveBallot(ctx context.Context, ballot Ballot) error
	ClaimMerge(ctx context.Context, collection Collection, id, canonicalID, mergedBy string) (bool, error)
	ReleaseMerge(ctx context.Context, collection Collection, id, canonicalID string) error
	DeleteSuggestion(ctx context.Context, collection Collection, id string) (bool, error)

	GetWord(ctx context.Context, id string) (Word, error)
	InsertWord(ctx context.Context, item Word) error
	UpdateWord(ctx context.Context, item Word) error
	DeleteWord(ctx context.Context, id string) error
	ListWordsWithRelation(ctx context.Context, kind RelationKind, wordID string) ([]Word, error)
	AddRelation(ctx context.Context, kind RelationKind, wordID, relatedID string) (bool, error)
	RemoveRelation(ctx context.Context, kind RelationKind, wordID, relatedID string) (bool, error)

	GetExample(ctx context.Context, id string) (Example, error)
	InsertExample(ctx context.Context, item Example) error
	UpdateExample(ctx context.Context, item Example) error
	DeleteExample(ctx context.Context, id string) error
	ListExamplesByWord(ctx context.Context, wordID string) ([]Example, error)

	GetCorpus(ctx context.Context, id string) (Corpus, error)
	InsertCorpus(ctx context.Context, item Corpus) error
	UpdateCorpus(ctx context.Context, item Corpus) error
	DeleteCorpus(ctx context.Context, id string) error

	InsertMergeRecord(ctx context.Context, record MergeRecord) (int64, error)
	SetMergeRecordCommit(ctx context.Context, id int64, commitHash string) error
	ListMergeRecords(ctx context.Context, limit int) ([]MergeRecord, error)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
