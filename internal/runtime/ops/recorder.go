package ops

import (
	"maps"
	"sync"

	errspkg "github.com/drblury/robotflow/internal/runtime/errors"
	"github.com/drblury/robotflow/internal/runtime/ids"
)

// Applier folds a recorded operation into the document snapshot so that later
// handlers observe its effect. A returned error rejects the operation.
type Applier interface {
	Apply(op Operation) error
}

// Sink is the write-only side of a handler's document context.
type Sink interface {
	Submit(op Operation) error
	TemporaryBlipID(waveletID string) string
}

// Recorder is the ordered, append-only operation log of one process call.
type Recorder struct {
	mu        sync.Mutex
	ops       []Operation
	opIDs     ids.Sequence
	blipIDs   ids.Sequence
	applier   Applier
	sealed    bool
	violation *errspkg.SinkClosedError
}

// NewRecorder returns an empty recorder. applier may be nil.
func NewRecorder(applier Applier) *Recorder {
	return &Recorder{applier: applier, ops: []Operation{}}
}

// Submit applies op to the snapshot and appends it with the next op id.
func (r *Recorder) Submit(op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return &errspkg.SinkClosedError{Method: op.Method}
	}
	op.Params = cloneParams(op.Params)
	if r.applier != nil {
		if err := r.applier.Apply(op); err != nil {
			return err
		}
	}
	op.ID = r.opIDs.OperationID()
	r.ops = append(r.ops, op)
	return nil
}

// TemporaryBlipID reserves a placeholder id for a blip created in this call.
func (r *Recorder) TemporaryBlipID(waveletID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blipIDs.TemporaryBlipID(waveletID)
}

// Open returns a sink scoped to one handler invocation.
func (r *Recorder) Open() *Scope {
	return &Scope{rec: r}
}

// Seal closes the log. Later submissions fail with a SinkClosedError.
func (r *Recorder) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Recorder) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// Operations returns a copy of the log in submission order.
func (r *Recorder) Operations() []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Operation, len(r.ops))
	copy(out, r.ops)
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// Violation returns the first submission made through a closed scope while
// the call was still running, or nil.
func (r *Recorder) Violation() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.violation == nil {
		return nil
	}
	return r.violation
}

func (r *Recorder) noteViolation(err *errspkg.SinkClosedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.violation == nil && !r.sealed {
		r.violation = err
	}
}

// Scope is the sink handed to exactly one handler invocation.
type Scope struct {
	rec       *Recorder
	mu        sync.Mutex
	closed    bool
	submitted int
}

func (s *Scope) Submit(op Operation) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		err := &errspkg.SinkClosedError{Method: op.Method}
		s.rec.noteViolation(err)
		return err
	}
	if err := s.rec.Submit(op); err != nil {
		return err
	}
	s.mu.Lock()
	s.submitted++
	s.mu.Unlock()
	return nil
}

func (s *Scope) TemporaryBlipID(waveletID string) string {
	return s.rec.TemporaryBlipID(waveletID)
}

// Close ends the invocation. It is safe to call more than once.
func (s *Scope) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Submitted reports how many operations this scope recorded.
func (s *Scope) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return maps.Clone(params)
}
