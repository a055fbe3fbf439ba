package asset

import (
	"context"
	"errors"
	"fmt"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/blob"
	"lexicon/api/internal/logger"
	"lexicon/api/internal/util"
)

const (
	PronunciationFolder = "audio-pronunciations"
	MediaFolder         = "media"
	// RollbackFolder holds the prior bytes of keys a batch overwrites in place.
	RollbackFolder = "rollback"
)

var errInvalidPayload = errors.New("inline payload is not valid base64")

// Mode decides what happens to a stale source blob.
type Mode int

const (
	// Copy leaves the source blob in place.
	Copy Mode = iota
	// Rename deletes the source blob on commit when the batch's source owner owns it.
	Rename
)

// Action is what a single Apply did.
type Action string

const (
	ActionNone    Action = "none"
	ActionCreated Action = "created"
	ActionCopied  Action = "copied"
	ActionRenamed Action = "renamed"
	ActionDeleted Action = "deleted"
)

// Request migrates one asset field to the key owned by Stem.
type Request struct {
	Folder string
	Stem   string
	// Value is the incoming field value.
	Value string
	// Previous is the value the target record held before this write.
	Previous string
}

type Outcome struct {
	Field  string `json:"field,omitempty"`
	Kind   string `json:"kind"`
	Action Action `json:"action"`
	Key    string `json:"key,omitempty"`
	Value  string `json:"value"`
}

type Migrator struct {
	blobs blob.Store
	log   *logger.Logger
}

func NewMigrator(blobs blob.Store, log *logger.Logger) *Migrator {
	if log == nil {
		log = logger.Nop()
	}
	return &Migrator{blobs: blobs, log: log.With("component", "asset")}
}

// Classify classifies value against the keys of the configured blob store.
func (m *Migrator) Classify(value, targetStem string) (State, error) {
	return Classify(value, targetStem, m.blobs.KeyFromURL)
}

// Batch collects the writes of one record save so they can be committed or
// rolled back together.
type Batch struct {
	m           *Migrator
	id          string
	mode        Mode
	sourceOwner string
	written     []string
	protected   map[string]bool
	deferred    []string
	saved       []savedBlob
}

// savedBlob is a copy of a key taken before the batch overwrote it.
type savedBlob struct {
	key    string
	backup string
}

// Begin opens a batch. sourceOwner is the suggestion id whose blobs a Rename
// batch may remove.
func (m *Migrator) Begin(mode Mode, sourceOwner string) *Batch {
	return &Batch{m: m, id: util.NewID("rb"), mode: mode, sourceOwner: sourceOwner, protected: map[string]bool{}}
}

// Apply migrates one field and returns the value to persist.
func (b *Batch) Apply(ctx context.Context, req Request) (Outcome, error) {
	state, err := b.m.Classify(req.Value, req.Stem)
	if err != nil {
		return Outcome{}, apperr.Validation("%s: %v", req.Stem, err)
	}
	previousKey := b.ownedPreviousKey(req)
	if previousKey != "" {
		b.protected[previousKey] = true
	}

	out := Outcome{Kind: state.Kind.String(), Action: ActionNone, Value: req.Value}
	switch state.Kind {
	case Empty:
		out.Value = ""
		if previousKey != "" {
			b.deferred = append(b.deferred, previousKey)
			out.Action = ActionDeleted
			out.Key = previousKey
		}
		return out, nil

	case Permanent:
		if !state.External {
			out.Key = state.Key
			if previousKey != "" && previousKey != state.Key {
				b.deferred = append(b.deferred, previousKey)
			}
		}
		return out, nil

	case Inline:
		key := Key(req.Folder, req.Stem, ExtensionFor(state.ContentType))
		if err := b.save(ctx, key); err != nil {
			return Outcome{}, err
		}
		uri, err := b.m.blobs.Put(ctx, key, state.Payload, state.ContentType)
		if err != nil {
			return Outcome{}, apperr.Wrap(apperr.ErrAssetMigrationFailed, "store "+key, err)
		}
		b.wrote(key, previousKey)
		out.Action = ActionCreated
		out.Key = key
		out.Value = uri
		return out, nil

	case Stale:
		key := Key(req.Folder, req.Stem, state.Ext)
		if err := b.save(ctx, key); err != nil {
			return Outcome{}, err
		}
		uri, err := b.m.blobs.Copy(ctx, state.Key, key)
		if err != nil {
			return Outcome{}, apperr.Wrap(apperr.ErrAssetMigrationFailed, fmt.Sprintf("copy %s to %s", state.Key, key), err)
		}
		b.wrote(key, previousKey)
		out.Action = ActionCopied
		if b.mode == Rename && b.sourceOwner != "" && state.Owner == b.sourceOwner {
			b.deferred = append(b.deferred, state.Key)
			out.Action = ActionRenamed
		}
		out.Key = key
		out.Value = uri
		return out, nil
	}
	return out, nil
}

// ownedPreviousKey returns the blob key of req.Previous when it belongs to
// the target stem.
func (b *Batch) ownedPreviousKey(req Request) string {
	state, err := b.m.Classify(req.Previous, req.Stem)
	if err != nil || state.Kind != Permanent || state.External {
		return ""
	}
	return state.Key
}

// save copies a protected key aside before it is overwritten so Abort can put
// the published bytes back.
func (b *Batch) save(ctx context.Context, key string) error {
	if !b.protected[key] {
		return nil
	}
	for _, s := range b.saved {
		if s.key == key {
			return nil
		}
	}
	backup := RollbackFolder + "/" + b.id + "/" + key
	if _, err := b.m.blobs.Copy(ctx, key, backup); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil
		}
		return apperr.Wrap(apperr.ErrAssetMigrationFailed, "back up "+key, err)
	}
	b.saved = append(b.saved, savedBlob{key: key, backup: backup})
	return nil
}

func (b *Batch) wrote(key, previousKey string) {
	if key == previousKey {
		return
	}
	b.written = append(b.written, key)
	if previousKey != "" {
		b.deferred = append(b.deferred, previousKey)
	}
}

// Commit runs the deferred deletes. Failures are logged and returned joined;
// the record write has already succeeded.
func (b *Batch) Commit(ctx context.Context) error {
	var errs []error
	for _, key := range b.deferred {
		if err := b.m.blobs.Delete(ctx, key); err != nil {
			b.m.log.Warn("asset delete failed", "key", key, "error", err)
			errs = append(errs, err)
		}
	}
	for _, s := range b.saved {
		if err := b.m.blobs.Delete(ctx, s.backup); err != nil {
			b.m.log.Warn("asset backup delete failed", "key", s.backup, "error", err)
		}
	}
	b.deferred = nil
	b.written = nil
	b.saved = nil
	return errors.Join(errs...)
}

// Abort removes the blobs this batch created. Keys the record referenced
// before the batch are kept, and any it overwrote get their old bytes back.
func (b *Batch) Abort(ctx context.Context) error {
	var errs []error
	for _, key := range b.written {
		if b.protected[key] {
			continue
		}
		if err := b.m.blobs.Delete(ctx, key); err != nil {
			b.m.log.Warn("asset rollback delete failed", "key", key, "error", err)
			errs = append(errs, err)
		}
	}
	for i := len(b.saved) - 1; i >= 0; i-- {
		s := b.saved[i]
		if _, err := b.m.blobs.Copy(ctx, s.backup, s.key); err != nil {
			b.m.log.Error("asset restore failed", "key", s.key, "backup", s.backup, "error", err)
			errs = append(errs, err)
			continue
		}
		if err := b.m.blobs.Delete(ctx, s.backup); err != nil {
			b.m.log.Warn("asset backup delete failed", "key", s.backup, "error", err)
		}
	}
	b.deferred = nil
	b.written = nil
	b.saved = nil
	return errors.Join(errs...)
}
