package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
// It is used as the broker message UUID of every published sample.
func CreateULID() string {
	return newULID().String()
}

// GUID identifies a participant across the discovery domain.
type GUID ulid.ULID

// NewGUID returns a fresh, time-ordered participant GUID.
func NewGUID() GUID {
	return GUID(newULID())
}

// ParseGUID parses the string form produced by GUID.String.
func ParseGUID(s string) (GUID, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return GUID{}, err
	}
	return GUID(id), nil
}

func (g GUID) String() string {
	return ulid.ULID(g).String()
}

// IsZero reports whether g is the zero GUID.
func (g GUID) IsZero() bool {
	return g == GUID{}
}

// Created returns the creation time embedded in the GUID.
func (g GUID) Created() time.Time {
	return ulid.Time(ulid.ULID(g).Time())
}
