// Package ids generates opaque identity ids. Both alphabets exclude '@', which keeps
// ids and emails distinguishable by inspection.
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator returns a fresh, never reused id.
type Generator func() string

const (
	SchemeUUID = "uuid"
	SchemeULID = "ulid"
)

// UUID returns random (version 4) UUIDs.
func UUID() string {
	return uuid.NewString()
}

// ULID returns lexicographically sortable ids using the package's monotonic entropy source.
func ULID() string {
	return strings.ToLower(ulid.Make().String())
}

// ForScheme resolves a configured scheme name.
func ForScheme(scheme string) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", SchemeUUID:
		return UUID, nil
	case SchemeULID:
		return ULID, nil
	default:
		return nil, fmt.Errorf("unknown id scheme %q", scheme)
	}
}
