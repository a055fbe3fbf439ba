package merge

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/archive"
	"lexicon/api/internal/asset"
	"lexicon/api/internal/blob"
	"lexicon/api/internal/email"
	"lexicon/api/internal/mergelock"
	"lexicon/api/internal/nested"
	"lexicon/api/internal/relation"
	"lexicon/api/internal/review"
	"lexicon/api/internal/store"
)

const base = "mem://assets"

type sentMail struct {
	kind email.Kind
	to   []string
	data email.Data
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
}

func (f *fakeNotifier) Send(_ context.Context, kind email.Kind, to []string, data email.Data) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind: kind, to: to, data: data})
	return nil
}

func (f *fakeNotifier) count(kind email.Kind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.kind == kind {
			n++
		}
	}
	return n
}

// failingStore fails merge-record inserts on demand to exercise compensation.
type failingStore struct {
	*store.MemoryStore
	failRecord bool
}

func (f *failingStore) InsertMergeRecord(ctx context.Context, record store.MergeRecord) (int64, error) {
	if f.failRecord {
		return 0, errors.New("merge_records unavailable")
	}
	return f.MemoryStore.InsertMergeRecord(ctx, record)
}

type fixture struct {
	store    *failingStore
	blobs    *blob.MemoryStore
	notifier *fakeNotifier
	children *nested.Syncer
	engine   *Engine
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	f := &fixture{
		store:    &failingStore{MemoryStore: mem},
		blobs:    blob.NewMemoryStore(base),
		notifier: &fakeNotifier{},
	}
	migrator := asset.NewMigrator(f.blobs, nil)
	f.children = nested.NewSyncer(mem, migrator, nil)
	opts := Options{
		Assets:    migrator,
		Children:  f.children,
		Relations: relation.NewSyncer(mem, nil),
		Archive:   archive.New(t.TempDir()),
		Notifier:  f.notifier,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	f.engine = NewEngine(f.store, opts)
	return f
}

func (f *fixture) seedWordSuggestion(t *testing.T, s store.WordSuggestion) store.WordSuggestion {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.InsertWordSuggestion(ctx, s))
	saved, err := f.store.GetWordSuggestion(ctx, s.ID)
	require.NoError(t, err)
	return saved
}

func (f *fixture) seedWord(t *testing.T, w store.Word) {
	t.Helper()
	require.NoError(t, f.store.InsertWord(context.Background(), w))
}

func (f *fixture) putBlob(t *testing.T, key string) string {
	t.Helper()
	uri, err := f.blobs.Put(context.Background(), key, []byte("audio "+key), "")
	require.NoError(t, err)
	return uri
}

func wordSuggestion(id string) store.WordSuggestion {
	return store.WordSuggestion{
		ID:   id,
		Word: "akwa",
		Definitions: []store.DefinitionGroup{
			{WordClass: "NNC", Definitions: []string{"cloth"}},
		},
		Review: store.Review{
			AuthorID:    "u_author",
			AuthorEmail: "author@example.com",
			Origin:      store.OriginCommunity,
			Approvals:   []string{"u_ed1", "u_ed2"},
		},
	}
}

func ptr(s string) *string { return &s }

func dataURI(contentType, body string) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString([]byte(body))
}

func TestApprovedSuggestionCreatesCanonicalWord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.seedWordSuggestion(t, wordSuggestion("wsg_new"))

	ballot, err := f.store.GetBallot(ctx, store.WordSuggestions, s.ID)
	require.NoError(t, err)
	require.True(t, review.NewLedger(f.store, review.Options{}).CanMerge(ballot))

	res, err := f.engine.MergeWord(ctx, s, "u_merger")
	require.NoError(t, err)
	f.engine.Wait()

	assert.True(t, res.Created)
	require.NotEmpty(t, res.CanonicalID)
	word, err := f.store.GetWord(ctx, res.CanonicalID)
	require.NoError(t, err)
	assert.Equal(t, "akwa", word.Word)
	assert.Empty(t, word.Synonyms)

	merged, err := f.store.GetWordSuggestion(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, merged.Merged)
	assert.Equal(t, res.CanonicalID, *merged.Merged)
	assert.Equal(t, "u_merger", *merged.MergedBy)

	records, err := f.store.ListMergeRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Created)
	assert.NotEmpty(t, res.CommitHash)
	assert.Equal(t, res.CommitHash, records[0].CommitHash)

	assert.Equal(t, 1, f.notifier.count(email.KindMerged))
	assert.Equal(t, []string{"author@example.com"}, f.notifier.sent[0].to)
	assert.Equal(t, res.CanonicalID, f.notifier.sent[0].data.CanonicalID)
}

func TestMergeIntoRenamesDialectPronunciation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	headword := f.putBlob(t, "audio-pronunciations/wrd_c.mp3")
	stale := f.putBlob(t, "audio-pronunciations/wsg_s-NSA.mp3")
	f.seedWord(t, store.Word{ID: "wrd_c", Word: "akwa", Pronunciation: headword})

	sug := wordSuggestion("wsg_s")
	sug.OriginalWordID = ptr("wrd_c")
	sug.Pronunciation = headword
	sug.Dialects = map[string]store.Dialect{"NSA": {Word: "akwà", Pronunciation: stale}}
	s := f.seedWordSuggestion(t, sug)

	res, err := f.engine.MergeWord(ctx, s, "u_merger")
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, "wrd_c", res.CanonicalID)
	word, err := f.store.GetWord(ctx, "wrd_c")
	require.NoError(t, err)
	assert.Equal(t, base+"/audio-pronunciations/wrd_c-NSA.mp3", word.Dialects["NSA"].Pronunciation)
	assert.Equal(t, headword, word.Pronunciation)

	assert.True(t, f.blobs.Exists("audio-pronunciations/wrd_c-NSA.mp3"))
	assert.False(t, f.blobs.Exists("audio-pronunciations/wsg_s-NSA.mp3"), "suggestion key must be gone after a rename merge")
	assert.True(t, f.blobs.Exists("audio-pronunciations/wrd_c.mp3"))
}

func TestCreateMergeCopiesAndStoresInlineAssets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stale := f.putBlob(t, "audio-pronunciations/wsg_s-NSA.mp3")

	sug := wordSuggestion("wsg_s")
	sug.Pronunciation = dataURI("audio/webm", "headword")
	sug.Dialects = map[string]store.Dialect{"NSA": {Word: "akwà", Pronunciation: stale}}
	s := f.seedWordSuggestion(t, sug)

	res, err := f.engine.MergeWord(ctx, s, "u_merger")
	require.NoError(t, err)

	word, err := f.store.GetWord(ctx, res.CanonicalID)
	require.NoError(t, err)
	assert.Equal(t, base+"/audio-pronunciations/"+res.CanonicalID+".webm", word.Pronunciation)
	assert.Equal(t, base+"/audio-pronunciations/"+res.CanonicalID+"-NSA.mp3", word.Dialects["NSA"].Pronunciation)
	assert.True(t, f.blobs.Exists("audio-pronunciations/wsg_s-NSA.mp3"), "copy mode keeps the source")
	require.Len(t, res.Assets, 2)
	assert.Equal(t, asset.ActionCreated, res.Assets[0].Action)
	assert.Equal(t, asset.ActionCopied, res.Assets[1].Action)
	assert.Equal(t, "dialects.NSA.pronunciation", res.Assets[1].Field)
}

func TestMergeIntoReleasesDroppedDialectAudio(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := f.putBlob(t, "audio-pronunciations/wrd_c-ABI.mp3")
	f.seedWord(t, store.Word{ID: "wrd_c", Word: "akwa", Dialects: map[string]store.Dialect{"ABI": {Word: "akwa", Pronunciation: old}}})

	sug := wordSuggestion("wsg_s")
	sug.OriginalWordID = ptr("wrd_c")
	s := f.seedWordSuggestion(t, sug)

	_, err := f.engine.MergeWord(ctx, s, "u_merger")
	require.NoError(t, err)

	assert.False(t, f.blobs.Exists("audio-pronunciations/wrd_c-ABI.mp3"))
}

func TestMergeOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.seedWordSuggestion(t, wordSuggestion("wsg_once"))

	first, err := f.engine.MergeWord(ctx, s, "u_first")
	require.NoError(t, err)

	reloaded, err := f.store.GetWordSuggestion(ctx, s.ID)
	require.NoError(t, err)
	_, err = f.engine.MergeWord(ctx, reloaded, "u_second")
	assert.ErrorIs(t, err, apperr.ErrAlreadyMerged)

	// A caller holding a stale copy loses at the conditional claim.
	_, err = f.engine.MergeWord(ctx, s, "u_second")
	assert.ErrorIs(t, err, apperr.ErrAlreadyMerged)

	after, err := f.store.GetWordSuggestion(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "u_first", *after.MergedBy)
	assert.Equal(t, first.CanonicalID, *after.Merged)
	records, err := f.store.ListMergeRecords(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestConcurrentMergesPromoteOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.seedWordSuggestion(t, wordSuggestion("wsg_race"))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.MergeWord(ctx, s, "u_merger")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrAlreadyMerged)
	}
	assert.Equal(t, 1, succeeded)
}

func TestMergeIntoMissingWordChangesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sug := wordSuggestion("wsg_orphan")
	sug.OriginalWordID = ptr("wrd_missing")
	s := f.seedWordSuggestion(t, sug)

	_, err := f.engine.MergeWord(ctx, s, "u_merger")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	after, err := f.store.GetWordSuggestion(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, after.Merged)
}

func TestMergeWordValidation(t *testing.T) {
	cases := map[string]func(*store.WordSuggestion){
		"empty word":           func(s *store.WordSuggestion) { s.Word = " " },
		"no definition groups": func(s *store.WordSuggestion) { s.Definitions = nil },
		"group without class":  func(s *store.WordSuggestion) { s.Definitions[0].WordClass = "" },
		"group without text":   func(s *store.WordSuggestion) { s.Definitions[0].Definitions = []string{""} },
		"unknown dialect": func(s *store.WordSuggestion) {
			s.Dialects = map[string]store.Dialect{"XYZ": {Word: "akwa"}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			sug := wordSuggestion("wsg_bad")
			mutate(&sug)
			s := f.seedWordSuggestion(t, sug)

			_, err := f.engine.MergeWord(context.Background(), s, "u_merger")
			require.ErrorIs(t, err, apperr.ErrValidationFailed)

			after, err := f.store.GetWordSuggestion(context.Background(), s.ID)
			require.NoError(t, err)
			assert.Nil(t, after.Merged)
		})
	}
}

func TestMergeExampleReferenceChecks(t *testing.T) {
	cases := map[string][]string{
		"no words":     nil,
		"duplicate":    {"wrd_a", "wrd_a"},
		"blank":        {"wrd_a", " "},
		"missing word": {"wrd_a", "wrd_missing"},
	}
	for name, associated := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.seedWord(t, store.Word{ID: "wrd_a", Word: "a"})
			require.NoError(t, f.store.InsertExampleSuggestion(ctx, store.ExampleSuggestion{
				ID: "esg_1", Text: "Nke a bụ akwa", AssociatedWords: associated,
			}))
			s, err := f.store.GetExampleSuggestion(ctx, "esg_1")
			require.NoError(t, err)

			_, err = f.engine.MergeExample(ctx, s, "u_merger")
			require.ErrorIs(t, err, apperr.ErrInvalidReference)

			after, err := f.store.GetExampleSuggestion(ctx, "esg_1")
			require.NoError(t, err)
			assert.Nil(t, after.Merged)
		})
	}
}

func TestMergeExampleCreatesCanonicalExample(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedWord(t, store.Word{ID: "wrd_a", Word: "a"})
	require.NoError(t, f.store.InsertExampleSuggestion(ctx, store.ExampleSuggestion{
		ID:              "esg_1",
		Text:            "Nke a bụ akwa",
		Translation:     "This is cloth",
		Pronunciation:   dataURI("audio/mpeg", "ex"),
		AssociatedWords: []string{"wrd_a"},
	}))
	s, err := f.store.GetExampleSuggestion(ctx, "esg_1")
	require.NoError(t, err)

	res, err := f.engine.MergeExample(ctx, s, "u_merger")
	require.NoError(t, err)

	ex, err := f.store.GetExample(ctx, res.CanonicalID)
	require.NoError(t, err)
	assert.Equal(t, []string{"wrd_a"}, ex.AssociatedWords)
	assert.Equal(t, base+"/audio-pronunciations/"+res.CanonicalID+".mp3", ex.Pronunciation)
}

func TestMergeIntoPromotesNestedExample(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedWord(t, store.Word{ID: "wrd_w1", Word: "akwa"})

	sug := wordSuggestion("wsg_p")
	sug.OriginalWordID = ptr("wrd_w1")
	sug.Definitions[0].Definitions = []string{"cloth", "fabric"}
	s := f.seedWordSuggestion(t, sug)
	_, err := f.children.Sync(ctx, s.ID, nested.Author{ID: "u_author"}, []nested.Example{{Text: "Akwa m dị ọcha", Translation: "My cloth is clean"}})
	require.NoError(t, err)

	res, err := f.engine.MergeWord(ctx, s, "u_merger")
	require.NoError(t, err)

	assert.Equal(t, "wrd_w1", res.CanonicalID)
	word, err := f.store.GetWord(ctx, "wrd_w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cloth", "fabric"}, word.Definitions[0].Definitions)

	require.Len(t, res.Children, 1)
	assert.Equal(t, ChildMerged, res.Children[0].Status)
	examples, err := f.store.ListExamplesByWord(ctx, "wrd_w1")
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Equal(t, "Akwa m dị ọcha", examples[0].Text)
	assert.Equal(t, []string{"wrd_w1"}, examples[0].AssociatedWords)
	assert.Equal(t, res.Children[0].CanonicalID, examples[0].ID)
}

func TestNestedPromotionSkipsMergedAndReportsFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.seedWordSuggestion(t, wordSuggestion("wsg_p"))
	for _, child := range []store.ExampleSuggestion{
		{ID: "esg_done", Text: "done", AssociatedWords: []string{"wsg_p"}},
		{ID: "esg_bad", Text: "bad", AssociatedWords: []string{"wsg_p", "wrd_nowhere"}},
		{ID: "esg_ok", Text: "ok", AssociatedWords: []string{"wsg_p"}},
	} {
		require.NoError(t, f.store.InsertExampleSuggestion(ctx, child))
	}
	claimed, err := f.store.ClaimMerge(ctx, store.ExampleSuggestions, "esg_done", "exm_old", "u_earlier")
	require.NoError(t, err)
	require.True(t, claimed)

	res, err := f.engine.MergeWord(ctx, s, "u_merger")
	require.NoError(t, err, "child failures do not fail the parent")

	byID := map[string]ChildResult{}
	for _, c := range res.Children {
		byID[c.SuggestionID] = c
	}
	require.Len(t, byID, 3)
	assert.Equal(t, ChildSkipped, byID["esg_done"].Status)
	assert.Equal(t, "exm_old", byID["esg_done"].CanonicalID)
	assert.Equal(t, ChildFailed, byID["esg_bad"].Status)
	assert.ErrorIs(t, byID["esg_bad"].Err, apperr.ErrInvalidReference)
	assert.Equal(t, ChildMerged, byID["esg_ok"].Status)

	done, err := f.store.GetExampleSuggestion(ctx, "esg_done")
	require.NoError(t, err)
	assert.Equal(t, "u_earlier", *done.MergedBy)
}

func TestSharedChildWaitsForEveryParent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.seedWordSuggestion(t, wordSuggestion("wsg_a"))
	sugB := wordSuggestion("wsg_b")
	sugB.Word = "ego"
	b := f.seedWordSuggestion(t, sugB)
	require.NoError(t, f.store.InsertExampleSuggestion(ctx, store.ExampleSuggestion{
		ID:              "esg_shared",
		Text:            "Akwa ego",
		AssociatedWords: []string{"wsg_a", "wsg_b"},
	}))

	resA, err := f.engine.MergeWord(ctx, a, "u_merger")
	require.NoError(t, err)
	require.Len(t, resA.Children, 1)
	assert.Equal(t, ChildFailed, resA.Children[0].Status)
	assert.ErrorIs(t, resA.Children[0].Err, apperr.ErrInvalidReference, "the other parent is not a word yet")

	pending, err := f.store.GetExampleSuggestion(ctx, "esg_shared")
	require.NoError(t, err)
	assert.False(t, pending.IsMerged())
	assert.Equal(t, []string{resA.CanonicalID, "wsg_b"}, pending.AssociatedWords)

	resB, err := f.engine.MergeWord(ctx, b, "u_merger")
	require.NoError(t, err)
	require.Len(t, resB.Children, 1)
	assert.Equal(t, ChildMerged, resB.Children[0].Status)

	examples, err := f.store.ListExamplesByWord(ctx, resB.CanonicalID)
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Equal(t, []string{resA.CanonicalID, resB.CanonicalID}, examples[0].AssociatedWords)
}

func TestMergeWordSyncsRelations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedWord(t, store.Word{ID: "wrd_c", Word: "oma"})
	f.seedWord(t, store.Word{ID: "wrd_a", Word: "mma"})
	f.seedWord(t, store.Word{ID: "wrd_b", Word: "njo"})
	f.seedWord(t, store.Word{ID: "wrd_x", Word: "stale", Synonyms: []string{"wrd_c"}})

	sug := wordSuggestion("wsg_rel")
	sug.OriginalWordID = ptr("wrd_c")
	sug.Synonyms = []string{"wrd_a"}
	sug.Antonyms = []string{"wrd_b"}
	s := f.seedWordSuggestion(t, sug)

	res, err := f.engine.MergeWord(ctx, s, "u_merger")
	require.NoError(t, err)
	require.NotNil(t, res.Relations)
	assert.Zero(t, res.Relations.Failed())

	a, _ := f.store.GetWord(ctx, "wrd_a")
	b, _ := f.store.GetWord(ctx, "wrd_b")
	x, _ := f.store.GetWord(ctx, "wrd_x")
	assert.Contains(t, a.Synonyms, "wrd_c")
	assert.Contains(t, b.Antonyms, "wrd_c")
	assert.NotContains(t, x.Synonyms, "wrd_c")
}

func TestCreateMergeRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.failRecord = true
	sug := wordSuggestion("wsg_fail")
	sug.Pronunciation = dataURI("audio/webm", "x")
	s := f.seedWordSuggestion(t, sug)

	res, err := f.engine.MergeWord(ctx, s, "u_merger")
	require.Error(t, err)
	require.NotEmpty(t, res.CanonicalID)

	_, err = f.store.GetWord(ctx, res.CanonicalID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.blobs.Keys(), "blobs written by the failed merge are removed")
	after, err := f.store.GetWordSuggestion(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, after.Merged, "claim is released")
}

func TestMergeIntoRollsBackToPriorCanonical(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seedWord(t, store.Word{ID: "wrd_c", Word: "old", Definitions: []store.DefinitionGroup{{WordClass: "NNC", Definitions: []string{"old sense"}}}})
	sug := wordSuggestion("wsg_upd")
	sug.OriginalWordID = ptr("wrd_c")
	sug.Word = "new"
	s := f.seedWordSuggestion(t, sug)

	f.store.failRecord = true
	_, err := f.engine.MergeWord(ctx, s, "u_merger")
	require.Error(t, err)

	word, err := f.store.GetWord(ctx, "wrd_c")
	require.NoError(t, err)
	assert.Equal(t, "old", word.Word)
	assert.Equal(t, []string{"old sense"}, word.Definitions[0].Definitions)

	f.store.failRecord = false
	retry, err := f.store.GetWordSuggestion(ctx, s.ID)
	require.NoError(t, err)
	_, err = f.engine.MergeWord(ctx, retry, "u_merger")
	require.NoError(t, err, "a rolled back merge can be retried")
	word, err = f.store.GetWord(ctx, "wrd_c")
	require.NoError(t, err)
	assert.Equal(t, "new", word.Word)
}

func TestMergeIntoRollbackRestoresPublishedAudio(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	published := f.putBlob(t, "audio-pronunciations/wrd_c.mp3")
	proposed := f.putBlob(t, "audio-pronunciations/wsgx.mp3")
	f.seedWord(t, store.Word{ID: "wrd_c", Word: "akwa", Pronunciation: published,
		Definitions: []store.DefinitionGroup{{WordClass: "NNC", Definitions: []string{"cloth"}}}})

	sug := wordSuggestion("wsgx")
	sug.OriginalWordID = ptr("wrd_c")
	sug.Pronunciation = proposed
	s := f.seedWordSuggestion(t, sug)

	f.store.failRecord = true
	_, err := f.engine.MergeWord(ctx, s, "u_merger")
	require.Error(t, err)

	word, err := f.store.GetWord(ctx, "wrd_c")
	require.NoError(t, err)
	assert.Equal(t, published, word.Pronunciation)
	data, _, ok := f.blobs.Get("audio-pronunciations/wrd_c.mp3")
	require.True(t, ok)
	assert.Equal(t, "audio audio-pronunciations/wrd_c.mp3", string(data), "published audio must survive a rolled back merge")
	assert.True(t, f.blobs.Exists("audio-pronunciations/wsgx.mp3"))
	for _, key := range f.blobs.Keys() {
		assert.NotContains(t, key, asset.RollbackFolder+"/")
	}

	f.store.failRecord = false
	retry, err := f.store.GetWordSuggestion(ctx, s.ID)
	require.NoError(t, err)
	_, err = f.engine.MergeWord(ctx, retry, "u_merger")
	require.NoError(t, err)
	data, _, _ = f.blobs.Get("audio-pronunciations/wrd_c.mp3")
	assert.Equal(t, "audio audio-pronunciations/wsgx.mp3", string(data))
	assert.False(t, f.blobs.Exists("audio-pronunciations/wsgx.mp3"))
}

func TestMergeNotifiesOnlyCommunityAuthorsWithEmail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	internal := wordSuggestion("wsg_staff")
	internal.Origin = store.OriginInternal
	noEmail := wordSuggestion("wsg_anon")
	noEmail.AuthorEmail = ""
	for _, sug := range []store.WordSuggestion{internal, noEmail} {
		s := f.seedWordSuggestion(t, sug)
		_, err := f.engine.MergeWord(ctx, s, "u_merger")
		require.NoError(t, err)
	}
	f.engine.Wait()

	assert.Zero(t, f.notifier.count(email.KindMerged))
}

func TestMergeRefusedWhileLeaseHeld(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	locker, err := mergelock.NewRedisLocker("redis://"+mr.Addr(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = locker.Close() })

	f := newFixture(t, func(o *Options) { o.Locker = locker })
	s := f.seedWordSuggestion(t, wordSuggestion("wsg_locked"))

	lease, err := locker.Acquire(ctx, string(store.WordSuggestions), s.ID)
	require.NoError(t, err)

	_, err = f.engine.MergeWord(ctx, s, "u_merger")
	require.ErrorIs(t, err, apperr.ErrAlreadyMerged)
	after, err := f.store.GetWordSuggestion(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, after.Merged)

	require.NoError(t, lease.Release(ctx))
	_, err = f.engine.MergeWord(ctx, s, "u_merger")
	require.NoError(t, err)
	assert.False(t, mr.Exists("merge:word_suggestions:"+s.ID), "engine releases its lease")
}

func TestRejectNotifiesOnceForUnmergedSuggestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.seedWordSuggestion(t, wordSuggestion("wsg_rej"))
	_, err := f.children.Sync(ctx, s.ID, nested.Author{ID: "u_author"}, []nested.Example{{Text: "only child"}})
	require.NoError(t, err)

	rejection, err := f.engine.Reject(ctx, store.WordSuggestions, s.ID, "u_merger")
	require.NoError(t, err)
	f.engine.Wait()

	assert.True(t, rejection.Notified)
	assert.Equal(t, 1, f.notifier.count(email.KindRejected))
	require.NotNil(t, rejection.Children)
	assert.Len(t, rejection.Children.Deleted, 1)
	_, err = f.store.GetWordSuggestion(ctx, s.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.engine.Reject(ctx, store.WordSuggestions, s.ID, "u_merger")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRejectMergedSuggestionSendsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.seedWordSuggestion(t, wordSuggestion("wsg_merged"))
	_, err := f.engine.MergeWord(ctx, s, "u_merger")
	require.NoError(t, err)

	rejection, err := f.engine.Reject(ctx, store.WordSuggestions, s.ID, "u_merger")
	require.NoError(t, err)
	f.engine.Wait()

	assert.True(t, rejection.WasMerged)
	assert.False(t, rejection.Notified)
	assert.Zero(t, f.notifier.count(email.KindRejected))
}

func TestMergeCorpusMovesMedia(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.InsertCorpusSuggestion(ctx, store.CorpusSuggestion{
		ID:    "csg_1",
		Title: "Akụkọ",
		Body:  "Otu mgbe...",
		Media: dataURI("image/png", "png"),
	}))
	s, err := f.store.GetCorpusSuggestion(ctx, "csg_1")
	require.NoError(t, err)

	res, err := f.engine.MergeCorpus(ctx, s, "u_merger")
	require.NoError(t, err)

	corpus, err := f.store.GetCorpus(ctx, res.CanonicalID)
	require.NoError(t, err)
	assert.Equal(t, base+"/media/"+res.CanonicalID+".png", corpus.Media)
	assert.True(t, f.blobs.Exists("media/"+res.CanonicalID+".png"))
}

func TestRepoint(t *testing.T) {
	assert.Equal(t, []string{"wrd_c", "wrd_b"}, repoint([]string{"wsg_p", "wrd_b", "wrd_c"}, "wsg_p", "wrd_c"))
	assert.Equal(t, []string{"wrd_b"}, repoint([]string{"wrd_b"}, "wsg_p", "wrd_c"))
}
