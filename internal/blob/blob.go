// Package blob stores binary assets (audio pronunciations, corpus media) under
// flat keys and exposes them through public URLs.
package blob

import (
	"context"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("blob: not found")

// Store is the blob backend the asset migrator writes through. Keys look like
// "{folder}/{stem}.{ext}".
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Copy(ctx context.Context, from, to string) (string, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
	KeyFromURL(uri string) (string, bool)
}

// Locator maps keys to public URLs under a base and back.
type Locator struct {
	Base string
}

func NewLocator(base string) Locator {
	return Locator{Base: strings.TrimRight(strings.TrimSpace(base), "/")}
}

func (l Locator) URL(key string) string {
	return l.Base + "/" + strings.TrimLeft(key, "/")
}

// KeyFromURL reports the key of a URL served under the base. URLs that belong
// to another host or bucket are not ours to manage.
func (l Locator) KeyFromURL(uri string) (string, bool) {
	uri = strings.TrimSpace(uri)
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	key, ok := strings.CutPrefix(uri, l.Base+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// ContentTypeForKey guesses a content type from the key extension.
func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(s, ".webm"):
		return "audio/webm"
	case strings.HasSuffix(s, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(s, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(s, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".mp4"):
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
