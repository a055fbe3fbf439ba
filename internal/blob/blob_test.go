package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorRoundTrip(t *testing.T) {
	loc := NewLocator("https://cdn.example.org/assets/")

	uri := loc.URL("audio-pronunciations/w1-NSA.mp3")
	assert.Equal(t, "https://cdn.example.org/assets/audio-pronunciations/w1-NSA.mp3", uri)

	key, ok := loc.KeyFromURL(uri + "?v=2")
	require.True(t, ok)
	assert.Equal(t, "audio-pronunciations/w1-NSA.mp3", key)

	_, ok = loc.KeyFromURL("https://elsewhere.example.org/assets/audio-pronunciations/w1.mp3")
	assert.False(t, ok)
	_, ok = loc.KeyFromURL("https://cdn.example.org/assets/")
	assert.False(t, ok)
}

func TestMemoryStoreCopyAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("mem://assets")

	uri, err := s.Put(ctx, "audio-pronunciations/ws1.webm", []byte("audio"), "")
	require.NoError(t, err)
	assert.Equal(t, "mem://assets/audio-pronunciations/ws1.webm", uri)

	_, ct, ok := s.Get("audio-pronunciations/ws1.webm")
	require.True(t, ok)
	assert.Equal(t, "audio/webm", ct)

	_, err = s.Copy(ctx, "audio-pronunciations/ws1.webm", "audio-pronunciations/w1.webm")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "audio-pronunciations/ws1.webm"))

	assert.Equal(t, []string{"audio-pronunciations/w1.webm"}, s.Keys())

	_, err = s.Copy(ctx, "missing.mp3", "other.mp3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContentTypeForKey(t *testing.T) {
	assert.Equal(t, "audio/mpeg", ContentTypeForKey("a/b.MP3"))
	assert.Equal(t, "image/jpeg", ContentTypeForKey("media/c1.jpeg"))
	assert.Equal(t, "application/octet-stream", ContentTypeForKey("media/c1"))
}
