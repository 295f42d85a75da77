// Package recorder records and validates simulation state.
//
// A StateRecorder sits between a simulation and a byte transport. The
// simulation serializes itself by calling WriteBytes while saving and
// ReadBytes while restoring, in a fixed order. The recorder never looks at
// what the bytes mean.
//
// In validating mode ReadBytes changes meaning: the simulation first puts the
// freshly computed value into the target memory, the recorder compares it with
// the recorded bytes, reports any difference, and then overwrites the target
// with the recording. The same restore code therefore doubles as a
// nondeterminism probe.
package recorder

import (
	"io"
	"log"

	"github.com/willibrandon/ChronoState/pkg/metrics"
	"github.com/willibrandon/ChronoState/pkg/stream"
)

// Recorder is everything a simulation needs to save, restore or validate itself.
type Recorder interface {
	stream.Writer
	stream.Reader
	Filter

	// IsValidating reports whether reads compare against live memory.
	IsValidating() bool

	// Annotate names the logical object whose fields are about to be
	// serialized, so divergences can be attributed to it.
	Annotate(object string)
}

// Mode is the copyable part of a recorder's configuration.
type Mode struct {
	Validating bool
}

// StateRecorder implements Recorder over a sink and a source.
// It is not safe for concurrent use.
type StateRecorder struct {
	mode   Mode
	sink   stream.Writer
	source stream.Reader

	filter   Filter
	reporter Reporter
	policy   Policy
	logger   *log.Logger
	metrics  *metrics.Metrics

	written int64
	read    int64

	pass        int
	object      string
	reported    bool
	divergences []Divergence
	suppressed  int
	quieted     bool
	scratch     []byte
}

// Option configures a StateRecorder.
type Option func(*StateRecorder)

// WithFilter sets the inclusion filter. A nil filter includes everything.
func WithFilter(f Filter) Option {
	return func(r *StateRecorder) {
		if f == nil {
			f = AllowAll{}
		}
		r.filter = f
	}
}

// WithReporter sets where divergences are reported.
func WithReporter(rep Reporter) Option {
	return func(r *StateRecorder) {
		if rep == nil {
			rep = discardReporter{}
		}
		r.reporter = rep
	}
}

// WithPolicy sets the divergence reporting policy.
func WithPolicy(p Policy) Option {
	return func(r *StateRecorder) {
		r.policy = p
	}
}

// WithLogger sets the logger used for recorder diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(r *StateRecorder) {
		if l == nil {
			l = log.New(io.Discard, "", 0)
		}
		r.logger = l
	}
}

// WithMetrics attaches prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *StateRecorder) {
		r.metrics = m
	}
}

// WithMode sets the initial mode.
func WithMode(m Mode) Option {
	return func(r *StateRecorder) {
		r.mode = m
	}
}

// New creates a recorder writing to w and reading from r. Either may be nil
// when the recorder is only used in one direction; using the missing side
// fails with stream.ErrTransportFault.
func New(w stream.Writer, r stream.Reader, opts ...Option) *StateRecorder {
	rec := &StateRecorder{
		sink:     w,
		source:   r,
		filter:   AllowAll{},
		reporter: discardReporter{},
		logger:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(rec)
		}
	}
	return rec
}

// NewBuffered creates a recorder over a fresh in-memory buffer used for both
// directions. Call Rewind on the returned buffer between capture and restore.
func NewBuffered(opts ...Option) (*StateRecorder, *stream.Buffer) {
	buf := &stream.Buffer{}
	return New(buf, buf, opts...), buf
}

// Clone returns a recorder over new transports that carries over only the
// mode. Filter, reporter, counters and divergences start fresh.
func (r *StateRecorder) Clone(w stream.Writer, src stream.Reader, opts ...Option) *StateRecorder {
	return New(w, src, append([]Option{WithMode(r.mode)}, opts...)...)
}

// SetValidating switches between plain and validating reads. Only call it
// between whole passes.
func (r *StateRecorder) SetValidating(validating bool) {
	r.mode.Validating = validating
}

// IsValidating reports whether reads compare against live memory.
func (r *StateRecorder) IsValidating() bool {
	return r.mode.Validating
}

// Mode returns the current mode.
func (r *StateRecorder) Mode() Mode {
	return r.mode
}

// ShouldSaveBody reports whether body takes part in the pass.
func (r *StateRecorder) ShouldSaveBody(body Body) bool {
	return r.filter.ShouldSaveBody(body)
}

// ShouldSaveConstraint reports whether constraint takes part in the pass.
func (r *StateRecorder) ShouldSaveConstraint(constraint Constraint) bool {
	return r.filter.ShouldSaveConstraint(constraint)
}

// ShouldSaveContact reports whether the contact between two bodies takes part in the pass.
func (r *StateRecorder) ShouldSaveContact(body1, body2 BodyID) bool {
	return r.filter.ShouldSaveContact(body1, body2)
}

// Annotate names the object whose fields follow.
func (r *StateRecorder) Annotate(object string) {
	r.object = object
}

// Object returns the current annotation.
func (r *StateRecorder) Object() string {
	return r.object
}

// BeginPass starts a new logical pass: the pass counter advances, the
// annotation is cleared and the single-fire reporting state is reset.
func (r *StateRecorder) BeginPass() {
	r.pass++
	r.object = ""
	r.reported = false
	r.quieted = false
}

// Pass returns the number of passes begun so far.
func (r *StateRecorder) Pass() int {
	return r.pass
}

// WriteBytes appends p to the sink. The mode has no effect on writes.
func (r *StateRecorder) WriteBytes(p []byte) error {
	if r.sink == nil {
		return &stream.Error{Code: stream.CodeTransportFault, Op: "write", Offset: r.written, Want: len(p), Cause: errNoSink}
	}
	if err := r.sink.WriteBytes(p); err != nil {
		return err
	}
	r.written += int64(len(p))
	r.metrics.AddWritten(len(p))
	return nil
}

// ReadBytes reads the next len(p) recorded bytes into p.
//
// When validating, p must already hold the live value of the range. If it
// differs from the recording a Divergence is recorded and, depending on the
// policy, reported. Either way p holds the recorded bytes on return.
func (r *StateRecorder) ReadBytes(p []byte) error {
	if r.source == nil {
		return &stream.Error{Code: stream.CodeTransportFault, Op: "read", Offset: r.read, Want: len(p), Cause: errNoSource}
	}

	offset := r.read
	if !r.mode.Validating {
		if err := r.source.ReadBytes(p); err != nil {
			return err
		}
		r.read += int64(len(p))
		r.metrics.AddRead(len(p), false)
		return nil
	}

	recorded := r.scratchBuf(len(p))
	if err := r.source.ReadBytes(recorded); err != nil {
		return err
	}
	r.read += int64(len(p))
	r.metrics.AddRead(len(p), true)

	if i := firstDiff(recorded, p); i >= 0 {
		r.diverge(Divergence{
			Pass:       r.pass,
			Offset:     offset,
			Length:     len(p),
			FirstIndex: i,
			Object:     r.object,
			Expected:   append([]byte(nil), recorded...),
			Actual:     append([]byte(nil), p...),
		})
	}
	copy(p, recorded)
	return nil
}

func (r *StateRecorder) scratchBuf(n int) []byte {
	if cap(r.scratch) < n {
		r.scratch = make([]byte, n)
	}
	return r.scratch[:n]
}

func (r *StateRecorder) diverge(d Divergence) {
	r.divergences = append(r.divergences, d)
	r.metrics.IncDivergence()

	if r.policy == ReportFirst && r.reported {
		if !r.quieted {
			r.logger.Printf("suppressing further divergence reports for pass %d", r.pass)
			r.quieted = true
		}
		r.suppressed++
		return
	}
	r.reported = true
	r.reporter.Report(d)
}

// BytesWritten returns the number of bytes written through the recorder.
func (r *StateRecorder) BytesWritten() int64 {
	return r.written
}

// BytesRead returns the number of bytes read through the recorder.
func (r *StateRecorder) BytesRead() int64 {
	return r.read
}

// Divergences returns every divergence recorded so far, reported or not.
func (r *StateRecorder) Divergences() []Divergence {
	out := make([]Divergence, len(r.divergences))
	copy(out, r.divergences)
	return out
}

// Suppressed returns how many divergences were kept from the reporter by
// the ReportFirst policy.
func (r *StateRecorder) Suppressed() int {
	return r.suppressed
}

// ResetDivergences forgets recorded divergences.
func (r *StateRecorder) ResetDivergences() {
	r.divergences = nil
	r.suppressed = 0
	r.reported = false
	r.quieted = false
}

// Err returns a *DivergenceError if any divergence has been recorded.
func (r *StateRecorder) Err() error {
	if len(r.divergences) == 0 {
		return nil
	}
	return &DivergenceError{Count: len(r.divergences), First: r.divergences[0]}
}
