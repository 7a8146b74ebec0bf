package ids

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRunID returns a time-sortable ULID identifying one process call in logs.
// Run ids never appear in encoded responses.
func NewRunID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// Sequence hands out the per-call identifiers that do appear in responses.
// It starts at 1 and is not safe for concurrent use.
type Sequence struct {
	next uint64
}

func (s *Sequence) Next() uint64 {
	s.next++
	return s.next
}

// OperationID returns the next "op<N>" identifier.
func (s *Sequence) OperationID() string {
	return fmt.Sprintf("op%d", s.Next())
}

// TemporaryBlipID returns a placeholder id for a blip created during the call.
// The server replaces it once the operation is applied.
func (s *Sequence) TemporaryBlipID(waveletID string) string {
	return fmt.Sprintf("TBD_%s_0x%x", waveletID, s.Next())
}
