package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/store"
)

func TestApplyIsIdempotent(t *testing.T) {
	b := store.Ballot{ID: "ws1"}
	once := Apply(b, "e1", Approve)
	twice := Apply(once, "e1", Approve)

	assert.Equal(t, []string{"e1"}, twice.Approvals)
	assert.Empty(t, twice.Denials)
	assert.Equal(t, []string{"e1"}, twice.UserInteractions)
	assert.Empty(t, b.Approvals, "input ballot is not mutated")
}

func TestApplySwitchesSides(t *testing.T) {
	b := Apply(store.Ballot{}, "e1", Approve)
	b = Apply(b, "e1", Deny)

	assert.Empty(t, b.Approvals)
	assert.Equal(t, []string{"e1"}, b.Denials)
	assert.Equal(t, []string{"e1"}, b.UserInteractions)
}

func TestVoteRecordsAndGates(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.InsertWordSuggestion(ctx, store.WordSuggestion{ID: "ws1", Word: "nne", Review: store.Review{AuthorID: "u1"}}))
	ledger := NewLedger(s, Options{MinApprovals: 2})

	b, err := ledger.Vote(ctx, store.WordSuggestions, "ws1", "e1", Approve)
	require.NoError(t, err)
	assert.False(t, ledger.CanMerge(b))
	assert.ErrorIs(t, ledger.Gate(b, false), apperr.ErrInsufficientApprovals)
	assert.NoError(t, ledger.Gate(b, true))

	_, err = ledger.Vote(ctx, store.WordSuggestions, "ws1", "e1", Approve)
	require.NoError(t, err)
	b, err = ledger.Vote(ctx, store.WordSuggestions, "ws1", "e2", Approve)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1", "e2"}, b.Approvals)
	assert.True(t, ledger.CanMerge(b))
	assert.NoError(t, ledger.Gate(b, false))

	stored, err := s.GetBallot(ctx, store.WordSuggestions, "ws1")
	require.NoError(t, err)
	assert.Equal(t, b.Version, stored.Version)
}

func TestVoteMissingSuggestion(t *testing.T) {
	ledger := NewLedger(store.NewMemoryStore(), Options{})
	_, err := ledger.Vote(context.Background(), store.ExampleSuggestions, "nope", "e1", Deny)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

type racingStore struct {
	ballot    store.Ballot
	conflicts int
	saves     int
}

func (r *racingStore) GetBallot(context.Context, store.Collection, string) (store.Ballot, error) {
	return r.ballot, nil
}

func (r *racingStore) SaveBallot(_ context.Context, b store.Ballot) error {
	r.saves++
	if r.saves <= r.conflicts {
		// another voter got in first
		r.ballot.Approvals = append(r.ballot.Approvals, "other")
		r.ballot.Version++
		return store.ErrConflict
	}
	r.ballot = b
	return nil
}

func TestVoteRetriesOnConflict(t *testing.T) {
	rs := &racingStore{ballot: store.Ballot{ID: "ws1", Version: 1}, conflicts: 2}
	ledger := NewLedger(rs, Options{Retries: 3})

	b, err := ledger.Vote(context.Background(), store.WordSuggestions, "ws1", "e1", Approve)
	require.NoError(t, err)
	assert.Contains(t, b.Approvals, "other", "reload keeps the concurrent vote")
	assert.Contains(t, b.Approvals, "e1")
	assert.Equal(t, 3, rs.saves)
}

func TestVoteGivesUpAfterRetries(t *testing.T) {
	rs := &racingStore{ballot: store.Ballot{ID: "ws1", Version: 1}, conflicts: 10}
	ledger := NewLedger(rs, Options{Retries: 3})

	_, err := ledger.Vote(context.Background(), store.WordSuggestions, "ws1", "e1", Approve)
	assert.ErrorIs(t, err, apperr.ErrVersionConflict)
	assert.Equal(t, 3, rs.saves)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision(" Approve ")
	require.NoError(t, err)
	assert.Equal(t, Approve, d)
	_, err = ParseDecision("maybe")
	assert.ErrorIs(t, err, apperr.ErrValidationFailed)
}
