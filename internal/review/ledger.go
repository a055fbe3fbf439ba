// Package review records approve/deny votes on suggestions and gates merges
// on the approval count.
package review

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/logger"
	"lexicon/api/internal/store"
)

type Decision string

const (
	Approve Decision = "approve"
	Deny    Decision = "deny"
)

func ParseDecision(value string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(value))) {
	case Approve:
		return Approve, nil
	case Deny:
		return Deny, nil
	default:
		return "", apperr.Validation("decision must be approve or deny")
	}
}

// Apply casts principal's decision on b. A principal appears in at most one
// of approvals and denials; casting the same decision twice changes nothing.
func Apply(b store.Ballot, principal string, decision Decision) store.Ballot {
	next := b
	next.Approvals = slices.Clone(b.Approvals)
	next.Denials = slices.Clone(b.Denials)
	next.UserInteractions = slices.Clone(b.UserInteractions)

	switch decision {
	case Approve:
		next.Approvals = addMember(next.Approvals, principal)
		next.Denials = removeMember(next.Denials, principal)
	case Deny:
		next.Denials = addMember(next.Denials, principal)
		next.Approvals = removeMember(next.Approvals, principal)
	}
	next.UserInteractions = addMember(next.UserInteractions, principal)
	return next
}

func addMember(set []string, member string) []string {
	if slices.Contains(set, member) {
		return set
	}
	return append(set, member)
}

func removeMember(set []string, member string) []string {
	return slices.DeleteFunc(set, func(v string) bool { return v == member })
}

func sameBallot(a, b store.Ballot) bool {
	return slices.Equal(a.Approvals, b.Approvals) &&
		slices.Equal(a.Denials, b.Denials) &&
		slices.Equal(a.UserInteractions, b.UserInteractions)
}

type ballotStore interface {
	GetBallot(context.Context, store.Collection, string) (store.Ballot, error)
	SaveBallot(context.Context, store.Ballot) error
}

type Options struct {
	MinApprovals int
	Retries      int
	Logger       *logger.Logger
}

type Ledger struct {
	store        ballotStore
	minApprovals int
	retries      int
	log          *logger.Logger
}

func NewLedger(s ballotStore, opts Options) *Ledger {
	if opts.MinApprovals <= 0 {
		opts.MinApprovals = 2
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Ledger{
		store:        s,
		minApprovals: opts.MinApprovals,
		retries:      opts.Retries,
		log:          opts.Logger.With("component", "review"),
	}
}

func (l *Ledger) MinApprovals() int {
	return l.minApprovals
}

// Vote records the decision with a version compare-and-swap, reloading and
// retrying when a concurrent write wins.
func (l *Ledger) Vote(ctx context.Context, collection store.Collection, id, principal string, decision Decision) (store.Ballot, error) {
	if strings.TrimSpace(principal) == "" {
		return store.Ballot{}, apperr.Validation("principal is required")
	}
	for attempt := 1; attempt <= l.retries; attempt++ {
		current, err := l.store.GetBallot(ctx, collection, id)
		if errors.Is(err, store.ErrNotFound) {
			return store.Ballot{}, apperr.NotFound("suggestion %s", id)
		}
		if err != nil {
			return store.Ballot{}, fmt.Errorf("load ballot: %w", err)
		}

		next := Apply(current, principal, decision)
		if sameBallot(current, next) {
			return current, nil
		}

		err = l.store.SaveBallot(ctx, next)
		if err == nil {
			next.Version++
			return next, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return store.Ballot{}, fmt.Errorf("save ballot: %w", err)
		}
		l.log.Debug("vote lost version race", "suggestion_id", id, "attempt", attempt)
	}
	return store.Ballot{}, apperr.New(apperr.ErrVersionConflict, "suggestion changed concurrently, retry the vote")
}

func (l *Ledger) CanMerge(b store.Ballot) bool {
	return len(b.Approvals) >= l.minApprovals
}

// Gate fails with InsufficientApprovals unless the ballot can merge or the
// caller is allowed to bypass the gate.
func (l *Ledger) Gate(b store.Ballot, bypass bool) error {
	if bypass || l.CanMerge(b) {
		return nil
	}
	return apperr.New(apperr.ErrInsufficientApprovals,
		fmt.Sprintf("%d of %d required approvals", len(b.Approvals), l.minApprovals)).
		WithDetails(map[string]any{"approvals": len(b.Approvals), "required": l.minApprovals})
}
