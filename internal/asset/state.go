// Package asset migrates audio and media blobs between the keys owned by
// suggestions and the keys owned by canonical records.
package asset

import (
	"encoding/base64"
	"path"
	"strings"
)

// Kind is the source state of an asset field.
type Kind int

const (
	Empty Kind = iota
	Inline
	Permanent
	Stale
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Inline:
		return "inline"
	case Permanent:
		return "permanent"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// State is the classified value of one asset field.
type State struct {
	Kind Kind
	// Key, Stem, Owner and Ext describe a stored blob (Permanent, Stale).
	Key   string
	Stem  string
	Owner string
	Ext   string
	// Payload and ContentType carry decoded inline data.
	Payload     []byte
	ContentType string
	// External marks a URL outside the blob store. It is left untouched.
	External bool
}

var extensionByType = map[string]string{
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/webm":  "webm",
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
	"audio/ogg":   "ogg",
	"audio/mp4":   "m4a",
	"audio/x-m4a": "m4a",
	"image/png":   "png",
	"image/jpeg":  "jpg",
	"video/mp4":   "mp4",
}

// ExtensionFor returns the stored extension for a content type, defaulting to mp3.
func ExtensionFor(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if ext, ok := extensionByType[contentType]; ok {
		return ext
	}
	return "mp3"
}

// Classify inspects value once. keyOf maps a URL to a blob key when the URL is
// served by the configured store.
func Classify(value, targetStem string, keyOf func(string) (string, bool)) (State, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return State{Kind: Empty}, nil
	}
	if strings.HasPrefix(value, "data:") {
		return decodeDataURI(value)
	}
	if !strings.Contains(value, "://") {
		payload, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return State{}, errInvalidPayload
		}
		return State{Kind: Inline, Payload: payload, ContentType: "audio/mpeg"}, nil
	}

	key, ok := keyOf(value)
	if !ok {
		return State{Kind: Permanent, External: true}, nil
	}
	stem, ext := SplitKey(key)
	state := State{Key: key, Stem: stem, Owner: OwnerOf(stem), Ext: ext}
	if stem == targetStem {
		state.Kind = Permanent
	} else {
		state.Kind = Stale
	}
	return state, nil
}

func decodeDataURI(value string) (State, error) {
	header, data, ok := strings.Cut(strings.TrimPrefix(value, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return State{}, errInvalidPayload
	}
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return State{}, errInvalidPayload
	}
	contentType := strings.TrimSuffix(header, ";base64")
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return State{Kind: Inline, Payload: payload, ContentType: contentType}, nil
}

// Key builds "{folder}/{stem}.{ext}".
func Key(folder, stem, ext string) string {
	return folder + "/" + stem + "." + ext
}

// Stem is the owner id, suffixed with the dialect code for dialect variants.
func Stem(ownerID, dialect string) string {
	if dialect == "" {
		return ownerID
	}
	return ownerID + "-" + dialect
}

// SplitKey returns the stem and extension of a key.
func SplitKey(key string) (string, string) {
	base := path.Base(key)
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext), strings.TrimPrefix(ext, ".")
}

// OwnerOf strips the dialect suffix from a stem. Ids never contain dashes.
func OwnerOf(stem string) string {
	owner, _, _ := strings.Cut(stem, "-")
	return owner
}
