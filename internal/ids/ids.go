package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewForm returns a client correlation key used to track fields and
// recipients before they are persisted. Collision resistance matters more
// than sortability here; 26 ULID characters comfortably exceed the required
// 12-character minimum.
func NewForm() string {
	return strings.ToLower(New())
}
