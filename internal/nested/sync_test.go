package nested

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/asset"
	"lexicon/api/internal/blob"
	"lexicon/api/internal/store"
)

func seedChild(t *testing.T, s *store.MemoryStore, id string, associated ...string) {
	t.Helper()
	require.NoError(t, s.InsertExampleSuggestion(context.Background(), store.ExampleSuggestion{
		ID:                   id,
		Text:                 "text " + id,
		AssociatedWords:      associated,
		ExampleForSuggestion: true,
		Review:               store.Review{AuthorID: "u1"},
	}))
}

func TestSyncReconcilesDeclaredChildren(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedChild(t, s, "e1", "P")
	seedChild(t, s, "e2", "P", "W")
	seedChild(t, s, "e3", "P")

	syncer := NewSyncer(s, nil, nil)
	report, err := syncer.Sync(ctx, "P", Author{ID: "u2"}, []Example{
		{ID: "e1", Text: "updated"},
		{Text: "brand new"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"e1"}, report.Updated)
	require.Len(t, report.Created, 1)
	assert.ElementsMatch(t, []string{"e3"}, report.Deleted)
	assert.ElementsMatch(t, []string{"e2"}, report.Detached)

	e1, err := s.GetExampleSuggestion(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "updated", e1.Text)
	assert.Equal(t, "u1", e1.AuthorID, "identity and authorship survive updates")
	assert.Contains(t, e1.UserInteractions, "u2")

	created, err := s.GetExampleSuggestion(ctx, report.Created[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"P"}, created.AssociatedWords)
	assert.True(t, created.ExampleForSuggestion)
	assert.Equal(t, "u2", created.AuthorID)
	assert.Equal(t, store.OriginCommunity, created.Origin, "blank origin defaults to community")

	e2, err := s.GetExampleSuggestion(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, []string{"W"}, e2.AssociatedWords)

	_, err = s.GetExampleSuggestion(ctx, "e3")
	assert.ErrorIs(t, err, store.ErrNotFound)

	children, err := syncer.AttachChildren(ctx, "P")
	require.NoError(t, err)
	ids := []string{}
	for _, child := range children {
		ids = append(ids, child.ID)
	}
	assert.ElementsMatch(t, []string{"e1", report.Created[0]}, ids)
}

func TestSyncUnknownChildIsNotFound(t *testing.T) {
	syncer := NewSyncer(store.NewMemoryStore(), nil, nil)
	_, err := syncer.Sync(context.Background(), "P", Author{ID: "u1"}, []Example{{ID: "ghost", Text: "x"}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSyncStoresInlinePronunciationUnderChildID(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	blobs := blob.NewMemoryStore("mem://assets")
	syncer := NewSyncer(s, asset.NewMigrator(blobs, nil), nil)

	payload := "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString([]byte("audio"))
	report, err := syncer.Sync(ctx, "P", Author{ID: "u1"}, []Example{{Text: "Kedu", Pronunciation: payload}})
	require.NoError(t, err)
	require.Len(t, report.Created, 1)

	child, err := s.GetExampleSuggestion(ctx, report.Created[0])
	require.NoError(t, err)
	assert.Equal(t, "mem://assets/audio-pronunciations/"+child.ID+".mp3", child.Pronunciation)
	assert.True(t, blobs.Exists("audio-pronunciations/"+child.ID+".mp3"))
}

func TestSyncLeavesMergedChildrenAlone(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedChild(t, s, "e1", "P")
	ok, err := s.ClaimMerge(ctx, store.ExampleSuggestions, "e1", "x1", "m1")
	require.NoError(t, err)
	require.True(t, ok)

	report, err := NewSyncer(s, nil, nil).Sync(ctx, "P", Author{ID: "u1"}, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Deleted)

	_, err = s.GetExampleSuggestion(ctx, "e1")
	assert.NoError(t, err)
}

func TestSyncAttributesNewChildrenToAuthor(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	seedChild(t, s, "e1", "P")
	syncer := NewSyncer(s, nil, nil)

	editor := Author{ID: "u_ed", Email: "ed@example.com", Origin: store.OriginInternal}
	report, err := syncer.Sync(ctx, "P", editor, []Example{{ID: "e1", Text: "kept"}, {Text: "added by editor"}})
	require.NoError(t, err)
	require.Len(t, report.Created, 1)

	created, err := s.GetExampleSuggestion(ctx, report.Created[0])
	require.NoError(t, err)
	assert.Equal(t, store.OriginInternal, created.Origin)
	assert.Equal(t, "ed@example.com", created.AuthorEmail)
	assert.Equal(t, []string{"u_ed"}, created.UserInteractions)

	kept, err := s.GetExampleSuggestion(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "u1", kept.AuthorID)
	assert.Empty(t, kept.AuthorEmail, "updates never rewrite authorship")
}
