package recorder

import "log"

// Reporter receives divergences as validation detects them.
type Reporter interface {
	Report(d Divergence)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Divergence)

// Report implements Reporter.
func (f ReporterFunc) Report(d Divergence) {
	if f != nil {
		f(d)
	}
}

type discardReporter struct{}

func (discardReporter) Report(Divergence) {}

// LogReporter writes one line per divergence to l.
func LogReporter(l *log.Logger) Reporter {
	if l == nil {
		return discardReporter{}
	}
	return ReporterFunc(func(d Divergence) {
		l.Printf("divergence pass=%d offset=%d len=%d object=%q first=%d expected=%x actual=%x",
			d.Pass, d.Offset, d.Length, d.Object, d.FirstIndex, d.Expected, d.Actual)
	})
}

type multiReporter []Reporter

func (m multiReporter) Report(d Divergence) {
	for _, r := range m {
		r.Report(d)
	}
}

// MultiReporter fans each divergence out to every non-nil reporter, in order.
func MultiReporter(reporters ...Reporter) Reporter {
	var m multiReporter
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}
