package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/willibrandon/ChronoState/pkg/metrics"
	"github.com/willibrandon/ChronoState/pkg/stream"
)

type testBody struct {
	id  BodyID
	pos [4]byte
}

func (b *testBody) ID() BodyID       { return b.id }
func (b *testBody) IsStatic() bool   { return false }
func (b *testBody) IsSleeping() bool { return false }
func (b *testBody) Layer() uint8     { return 0 }

// saveBodies and restoreBodies play the role of a simulation adapter that
// serializes only the 4-byte position of each included body.
func saveBodies(rec Recorder, bodies []*testBody) error {
	for _, b := range bodies {
		if !rec.ShouldSaveBody(b) {
			continue
		}
		rec.Annotate(fmt.Sprintf("body %d", b.id))
		if err := rec.WriteBytes(b.pos[:]); err != nil {
			return err
		}
	}
	return nil
}

func restoreBodies(rec Recorder, bodies []*testBody) error {
	for _, b := range bodies {
		if !rec.ShouldSaveBody(b) {
			continue
		}
		rec.Annotate(fmt.Sprintf("body %d", b.id))
		if err := rec.ReadBytes(b.pos[:]); err != nil {
			return err
		}
	}
	return nil
}

func twoBodies() []*testBody {
	return []*testBody{
		{id: 1, pos: [4]byte{1, 2, 3, 4}},
		{id: 2, pos: [4]byte{5, 6, 7, 8}},
	}
}

func TestInitialModeIsCapturing(t *testing.T) {
	rec := New(nil, nil)
	if rec.IsValidating() {
		t.Error("new recorder should not be validating")
	}
	rec.SetValidating(true)
	if !rec.IsValidating() {
		t.Error("SetValidating(true) did not take effect")
	}
}

func TestCaptureAndRestoreRoundTrip(t *testing.T) {
	rec, buf := NewBuffered()
	bodies := twoBodies()

	if err := saveBodies(rec, bodies); err != nil {
		t.Fatalf("save error: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("stream = %v, want bodies in order A,B", buf.Bytes())
	}

	// Scribble over live state, then restore.
	for _, b := range bodies {
		b.pos = [4]byte{}
	}
	buf.Rewind()
	if err := restoreBodies(rec, bodies); err != nil {
		t.Fatalf("restore error: %v", err)
	}
	if bodies[0].pos != [4]byte{1, 2, 3, 4} || bodies[1].pos != [4]byte{5, 6, 7, 8} {
		t.Errorf("restored positions = %v %v", bodies[0].pos, bodies[1].pos)
	}
	if rec.BytesWritten() != rec.BytesRead() {
		t.Errorf("written %d != read %d", rec.BytesWritten(), rec.BytesRead())
	}
	if len(rec.Divergences()) != 0 {
		t.Errorf("plain restore recorded divergences: %v", rec.Divergences())
	}
}

func TestValidationNoopOnIdenticalState(t *testing.T) {
	var reports []Divergence
	rec, buf := NewBuffered(WithReporter(ReporterFunc(func(d Divergence) {
		reports = append(reports, d)
	})))
	bodies := twoBodies()

	if err := saveBodies(rec, bodies); err != nil {
		t.Fatal(err)
	}
	buf.Rewind()
	rec.SetValidating(true)
	if err := restoreBodies(rec, bodies); err != nil {
		t.Fatal(err)
	}

	if len(reports) != 0 {
		t.Errorf("expected no reports, got %v", reports)
	}
	if err := rec.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
	if bodies[1].pos != [4]byte{5, 6, 7, 8} {
		t.Errorf("live state changed: %v", bodies[1].pos)
	}
}

func TestValidationCorrectsDivergence(t *testing.T) {
	var reports []Divergence
	rec, buf := NewBuffered(WithReporter(ReporterFunc(func(d Divergence) {
		reports = append(reports, d)
	})))
	bodies := twoBodies()

	if err := saveBodies(rec, bodies); err != nil {
		t.Fatal(err)
	}

	// Nondeterministic step: body B's position is off by one in one component.
	bodies[1].pos[2]++

	buf.Rewind()
	rec.SetValidating(true)
	rec.BeginPass()
	if err := restoreBodies(rec, bodies); err != nil {
		t.Fatal(err)
	}

	if len(reports) != 1 {
		t.Fatalf("expected exactly 1 report, got %d: %v", len(reports), reports)
	}
	d := reports[0]
	if d.Object != "body 2" {
		t.Errorf("Object = %q, want %q", d.Object, "body 2")
	}
	if d.Offset != 4 || d.Length != 4 || d.FirstIndex != 2 {
		t.Errorf("range offset=%d len=%d first=%d, want 4/4/2", d.Offset, d.Length, d.FirstIndex)
	}
	if !bytes.Equal(d.Expected, []byte{5, 6, 7, 8}) || !bytes.Equal(d.Actual, []byte{5, 6, 8, 8}) {
		t.Errorf("expected/actual = %v/%v", d.Expected, d.Actual)
	}
	if d.Pass != 1 {
		t.Errorf("Pass = %d, want 1", d.Pass)
	}
	if bodies[1].pos != [4]byte{5, 6, 7, 8} {
		t.Errorf("live state not forced back to recording: %v", bodies[1].pos)
	}

	err := rec.Err()
	if !errors.Is(err, ErrDivergenceDetected) {
		t.Fatalf("Err() = %v, want ErrDivergenceDetected", err)
	}
	var derr *DivergenceError
	if !errors.As(err, &derr) || derr.Count != 1 {
		t.Errorf("DivergenceError = %+v", derr)
	}
}

func TestDivergenceKeepsReportsIndependentOfScratch(t *testing.T) {
	rec, buf := NewBuffered()
	a := []byte{1, 1}
	b := []byte{2, 2}
	rec.WriteBytes(a)
	rec.WriteBytes(b)

	buf.Rewind()
	rec.SetValidating(true)
	rec.ReadBytes([]byte{9, 9})
	rec.ReadBytes([]byte{8, 8})

	ds := rec.Divergences()
	if len(ds) != 2 {
		t.Fatalf("got %d divergences, want 2", len(ds))
	}
	if !bytes.Equal(ds[0].Expected, a) || !bytes.Equal(ds[1].Expected, b) {
		t.Errorf("expected bytes aliased scratch buffer: %v %v", ds[0].Expected, ds[1].Expected)
	}
}

func TestPredicateStabilityBalancesBytes(t *testing.T) {
	filters := []struct {
		name   string
		filter Filter
	}{
		{"all", AllowAll{}},
		{"only odd", FilterFuncs{Body: func(b Body) bool { return b.ID()%2 == 1 }}},
		{"none", FilterFuncs{Body: func(Body) bool { return false }}},
	}

	for _, tt := range filters {
		t.Run(tt.name, func(t *testing.T) {
			buf := &stream.Buffer{}
			counter := &stream.Counter{W: buf, R: buf}
			rec := New(counter, counter, WithFilter(tt.filter))
			bodies := []*testBody{{id: 1}, {id: 2}, {id: 3}, {id: 4}, {id: 5}}

			if err := saveBodies(rec, bodies); err != nil {
				t.Fatal(err)
			}
			buf.Rewind()
			if err := restoreBodies(rec, bodies); err != nil {
				t.Fatal(err)
			}
			if counter.Written() != counter.Read() {
				t.Errorf("written %d, consumed %d", counter.Written(), counter.Read())
			}
			if !buf.IsEOF() {
				t.Errorf("%d bytes left unread", buf.Len())
			}
		})
	}
}

func TestPredicatesIgnoreMode(t *testing.T) {
	filter := FilterFuncs{
		Body:       func(b Body) bool { return b.ID() != 2 },
		Constraint: func(Constraint) bool { return false },
		Contact:    func(a, b BodyID) bool { return a < b },
	}
	rec := New(nil, nil, WithFilter(filter))
	body := &testBody{id: 2}

	for _, validating := range []bool{false, true, false} {
		rec.SetValidating(validating)
		if rec.ShouldSaveBody(body) {
			t.Errorf("validating=%v: body 2 included", validating)
		}
		if rec.ShouldSaveConstraint(nil) {
			t.Errorf("validating=%v: constraint included", validating)
		}
		if !rec.ShouldSaveContact(1, 2) || rec.ShouldSaveContact(2, 1) {
			t.Errorf("validating=%v: contact answers changed", validating)
		}
	}
}

func TestDefaultFilterIncludesEverything(t *testing.T) {
	rec := New(nil, nil, WithFilter(nil))
	if !rec.ShouldSaveBody(&testBody{id: 7}) || !rec.ShouldSaveConstraint(nil) || !rec.ShouldSaveContact(1, 2) {
		t.Error("default filter should include everything")
	}

	var funcs FilterFuncs
	if !funcs.ShouldSaveBody(nil) || !funcs.ShouldSaveConstraint(nil) || !funcs.ShouldSaveContact(0, 0) {
		t.Error("zero FilterFuncs should include everything")
	}
}

func TestUnstablePredicateFailsRestore(t *testing.T) {
	buf := &stream.Buffer{}
	bodies := twoBodies()

	// Save excludes body B.
	rec := New(buf, buf, WithFilter(FilterFuncs{Body: func(b Body) bool { return b.ID() != 2 }}))
	if err := saveBodies(rec, bodies); err != nil {
		t.Fatal(err)
	}

	// Restore (wrongly) includes it.
	buf.Rewind()
	restore := rec.Clone(buf, buf)
	err := restoreBodies(restore, bodies)
	if !errors.Is(err, stream.ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}

func TestCloneCarriesOnlyMode(t *testing.T) {
	var reported int
	rec, buf := NewBuffered(
		WithFilter(FilterFuncs{Body: func(Body) bool { return false }}),
		WithReporter(ReporterFunc(func(Divergence) { reported++ })),
	)
	rec.WriteBytes([]byte{1})
	rec.SetValidating(true)
	rec.BeginPass()

	clone := rec.Clone(&stream.Buffer{}, buf)
	if !clone.IsValidating() {
		t.Error("clone lost validation flag")
	}
	if clone.BytesWritten() != 0 || clone.Pass() != 0 {
		t.Errorf("clone copied stream state: written=%d pass=%d", clone.BytesWritten(), clone.Pass())
	}
	if !clone.ShouldSaveBody(&testBody{}) {
		t.Error("clone copied filter")
	}

	buf.Rewind()
	clone.ReadBytes([]byte{2})
	if reported != 0 {
		t.Error("clone copied reporter")
	}
	if len(clone.Divergences()) != 1 {
		t.Errorf("clone divergences = %d, want 1", len(clone.Divergences()))
	}
}

func TestReportFirstPolicy(t *testing.T) {
	var reports []Divergence
	var logs bytes.Buffer
	rec, buf := NewBuffered(
		WithPolicy(ReportFirst),
		WithLogger(log.New(&logs, "", 0)),
		WithReporter(ReporterFunc(func(d Divergence) { reports = append(reports, d) })),
	)
	for i := 0; i < 3; i++ {
		rec.WriteBytes([]byte{byte(i)})
	}

	rec.SetValidating(true)
	for pass := 0; pass < 2; pass++ {
		buf.Rewind()
		rec.BeginPass()
		for i := 0; i < 3; i++ {
			live := []byte{byte(i + 10)}
			if err := rec.ReadBytes(live); err != nil {
				t.Fatal(err)
			}
			if live[0] != byte(i) {
				t.Errorf("pass %d range %d not corrected: %d", pass, i, live[0])
			}
		}
	}

	if len(reports) != 2 {
		t.Errorf("got %d reports, want one per pass", len(reports))
	}
	if rec.Suppressed() != 4 {
		t.Errorf("Suppressed() = %d, want 4", rec.Suppressed())
	}
	if len(rec.Divergences()) != 6 {
		t.Errorf("Divergences() = %d, want 6", len(rec.Divergences()))
	}
	for _, pass := range []int{1, 2} {
		line := fmt.Sprintf("suppressing further divergence reports for pass %d", pass)
		if strings.Count(logs.String(), line) != 1 {
			t.Errorf("expected one suppression notice for pass %d, logs:\n%s", pass, logs.String())
		}
	}

	rec.ResetDivergences()
	if rec.Err() != nil || rec.Suppressed() != 0 {
		t.Error("ResetDivergences did not clear state")
	}
}

func TestMissingTransport(t *testing.T) {
	rec := New(nil, nil)
	if err := rec.WriteBytes([]byte{1}); !errors.Is(err, stream.ErrTransportFault) {
		t.Errorf("write without sink: %v", err)
	}
	if err := rec.ReadBytes(make([]byte, 1)); !errors.Is(err, stream.ErrTransportFault) {
		t.Errorf("read without source: %v", err)
	}
}

func TestValidatingReadPastEnd(t *testing.T) {
	rec, _ := NewBuffered(WithMode(Mode{Validating: true}))
	live := []byte{1, 2}
	if err := rec.ReadBytes(live); !errors.Is(err, stream.ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
	if len(rec.Divergences()) != 0 {
		t.Error("failed read must not report a divergence")
	}
}

func TestMetricsAndLogging(t *testing.T) {
	m, err := metrics.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	var logs bytes.Buffer
	logger := log.New(&logs, "", 0)

	rec, buf := NewBuffered(WithMetrics(m), WithReporter(LogReporter(logger)))
	rec.WriteBytes([]byte{1, 2, 3})
	buf.Rewind()
	rec.SetValidating(true)
	rec.Annotate("global")
	rec.ReadBytes([]byte{1, 2, 4})

	if got := testutil.ToFloat64(m.BytesWritten); got != 3 {
		t.Errorf("bytes written = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.BytesRead.WithLabelValues("validate")); got != 3 {
		t.Errorf("bytes validated = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Divergences); got != 1 {
		t.Errorf("divergences = %v, want 1", got)
	}
	if !strings.Contains(logs.String(), `object="global"`) {
		t.Errorf("log output missing object: %q", logs.String())
	}
}

func TestMultiReporter(t *testing.T) {
	var a, b int
	rep := MultiReporter(
		ReporterFunc(func(Divergence) { a++ }),
		nil,
		ReporterFunc(func(Divergence) { b++ }),
	)
	rep.Report(Divergence{})
	if a != 1 || b != 1 {
		t.Errorf("a=%d b=%d, want 1/1", a, b)
	}
	LogReporter(nil).Report(Divergence{})
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", ReportAll, false},
		{"all", ReportAll, false},
		{"first", ReportFirst, false},
		{"some", ReportAll, true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestStateFlags(t *testing.T) {
	if !StateAll.Has(StateBodies | StateContacts) {
		t.Error("StateAll should include bodies and contacts")
	}
	if StateBodies.Has(StateContacts) {
		t.Error("StateBodies should not include contacts")
	}
	if got := (StateGlobal | StateConstraints).String(); got != "Global|Constraints" {
		t.Errorf("String() = %q", got)
	}
	if StateAll.String() != "All" || StateFlags(0).String() != "None" {
		t.Error("unexpected names for All/None")
	}
}
