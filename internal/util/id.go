package util

import (
	"crypto/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewRequestID returns a lexically sortable id for request correlation.
func NewRequestID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
