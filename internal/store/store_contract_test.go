package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestPostgresStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return migratedStore(t) })
}

func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Run("suggestion version compare-and-swap", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.InsertWordSuggestion(ctx, WordSuggestion{
			ID:     "ws1",
			Word:   "ụlọ",
			Review: Review{AuthorID: "u1"},
		}))

		got, err := s.GetWordSuggestion(ctx, "ws1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, OriginCommunity, got.Origin)
		assert.False(t, got.IsMerged())

		got.Word = "ụlọ akwụkwọ"
		require.NoError(t, s.UpdateWordSuggestion(ctx, got))
		assert.ErrorIs(t, s.UpdateWordSuggestion(ctx, got), ErrConflict, "stale version must be rejected")

		fresh, err := s.GetWordSuggestion(ctx, "ws1")
		require.NoError(t, err)
		assert.Equal(t, "ụlọ akwụkwọ", fresh.Word)
		assert.Equal(t, int64(2), fresh.Version)

		assert.ErrorIs(t, s.InsertWordSuggestion(ctx, WordSuggestion{ID: "ws1", Word: "x", Review: Review{AuthorID: "u1"}}), ErrConflict)
		_, err = s.GetWordSuggestion(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ballot save is versioned", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.InsertCorpusSuggestion(ctx, CorpusSuggestion{ID: "cs1", Title: "Akụkọ", Review: Review{AuthorID: "u1"}}))

		ballot, err := s.GetBallot(ctx, CorpusSuggestions, "cs1")
		require.NoError(t, err)
		stale := ballot

		ballot.Approvals = []string{"e1"}
		ballot.UserInteractions = []string{"e1"}
		require.NoError(t, s.SaveBallot(ctx, ballot))

		stale.Denials = []string{"e2"}
		assert.ErrorIs(t, s.SaveBallot(ctx, stale), ErrConflict)

		after, err := s.GetBallot(ctx, CorpusSuggestions, "cs1")
		require.NoError(t, err)
		assert.Equal(t, []string{"e1"}, after.Approvals)
		assert.Empty(t, after.Denials)

		_, err = s.GetBallot(ctx, CorpusSuggestions, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("merge claim is exclusive and releasable", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.InsertExampleSuggestion(ctx, ExampleSuggestion{
			ID:              "es1",
			Text:            "Bịa ebe a",
			AssociatedWords: []string{"w1"},
			Review:          Review{AuthorID: "u1"},
		}))

		ok, err := s.ClaimMerge(ctx, ExampleSuggestions, "es1", "ex1", "m1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ClaimMerge(ctx, ExampleSuggestions, "es1", "ex2", "m2")
		require.NoError(t, err)
		assert.False(t, ok)

		claimed, err := s.GetExampleSuggestion(ctx, "es1")
		require.NoError(t, err)
		require.NotNil(t, claimed.Merged)
		assert.Equal(t, "ex1", *claimed.Merged)
		assert.ErrorIs(t, s.UpdateExampleSuggestion(ctx, claimed), ErrConflict, "merged suggestions are frozen")

		require.NoError(t, s.ReleaseMerge(ctx, ExampleSuggestions, "es1", "ex1"))
		released, err := s.GetExampleSuggestion(ctx, "es1")
		require.NoError(t, err)
		assert.False(t, released.IsMerged())
		assert.Nil(t, released.MergedBy)
	})

	t.Run("examples by word", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for _, item := range []ExampleSuggestion{
			{ID: "es1", Text: "a", AssociatedWords: []string{"ws1"}, Review: Review{AuthorID: "u1"}},
			{ID: "es2", Text: "b", AssociatedWords: []string{"ws1", "w9"}, Review: Review{AuthorID: "u1"}},
			{ID: "es3", Text: "c", AssociatedWords: []string{"w9"}, Review: Review{AuthorID: "u1"}},
		} {
			require.NoError(t, s.InsertExampleSuggestion(ctx, item))
		}
		items, err := s.ListExampleSuggestionsByWord(ctx, "ws1")
		require.NoError(t, err)
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		assert.ElementsMatch(t, []string{"es1", "es2"}, ids)

		require.NoError(t, s.InsertExample(ctx, Example{ID: "ex1", Text: "a", AssociatedWords: []string{"w1"}}))
		require.NoError(t, s.InsertExample(ctx, Example{ID: "ex2", Text: "b", AssociatedWords: []string{"w2"}}))
		canonical, err := s.ListExamplesByWord(ctx, "w1")
		require.NoError(t, err)
		require.Len(t, canonical, 1)
		assert.Equal(t, "ex1", canonical[0].ID)
	})

	t.Run("relations are added and removed atomically", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.InsertWord(ctx, Word{ID: "w1", Word: "oke"}))
		require.NoError(t, s.InsertWord(ctx, Word{ID: "w2", Word: "ukwu", Synonyms: []string{"w3"}}))

		changed, err := s.AddRelation(ctx, Synonyms, "w1", "w2")
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = s.AddRelation(ctx, Synonyms, "w1", "w2")
		require.NoError(t, err)
		assert.False(t, changed)

		related, err := s.ListWordsWithRelation(ctx, Synonyms, "w2")
		require.NoError(t, err)
		require.Len(t, related, 1)
		assert.Equal(t, "w1", related[0].ID)

		changed, err = s.RemoveRelation(ctx, Synonyms, "w2", "w3")
		require.NoError(t, err)
		assert.True(t, changed)
		word, err := s.GetWord(ctx, "w2")
		require.NoError(t, err)
		assert.Empty(t, word.Synonyms)

		_, err = s.AddRelation(ctx, Antonyms, "missing", "w1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list filters merged state", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.InsertWordSuggestion(ctx, WordSuggestion{ID: "ws1", Word: "a", Review: Review{AuthorID: "u1"}}))
		require.NoError(t, s.InsertWordSuggestion(ctx, WordSuggestion{ID: "ws2", Word: "b", Review: Review{AuthorID: "u1"}}))
		ok, err := s.ClaimMerge(ctx, WordSuggestions, "ws2", "w2", "m1")
		require.NoError(t, err)
		require.True(t, ok)

		pending, err := s.ListWordSuggestions(ctx, SuggestionFilter{Merged: MergedNo})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "ws1", pending[0].ID)

		all, err := s.ListWordSuggestions(ctx, SuggestionFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("merge records are unique per suggestion", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		id, err := s.InsertMergeRecord(ctx, MergeRecord{Collection: WordSuggestions, SuggestionID: "ws1", CanonicalID: "w1", Created: true, MergedBy: "m1"})
		require.NoError(t, err)
		require.NoError(t, s.SetMergeRecordCommit(ctx, id, "abc123"))

		_, err = s.InsertMergeRecord(ctx, MergeRecord{Collection: WordSuggestions, SuggestionID: "ws1", CanonicalID: "w1", MergedBy: "m2"})
		assert.ErrorIs(t, err, ErrConflict)

		records, err := s.ListMergeRecords(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "abc123", records[0].CommitHash)
		assert.True(t, records[0].Created)
	})

	t.Run("delete suggestion reports existence", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.InsertWordSuggestion(ctx, WordSuggestion{ID: "ws1", Word: "a", Review: Review{AuthorID: "u1"}}))
		deleted, err := s.DeleteSuggestion(ctx, WordSuggestions, "ws1")
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = s.DeleteSuggestion(ctx, WordSuggestions, "ws1")
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.InsertWord(ctx, Word{ID: "w1", Word: "oke", Synonyms: []string{"w2"}}))

	word, err := s.GetWord(ctx, "w1")
	require.NoError(t, err)
	word.Synonyms[0] = "mutated"

	again, err := s.GetWord(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"w2"}, again.Synonyms)
}
