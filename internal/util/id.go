package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a prefixed random identifier. The random part never contains
// a dash, so "{id}-{suffix}" keys can be split on the first dash.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return raw
	}
	return prefix + "_" + raw
}
