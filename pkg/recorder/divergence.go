package recorder

import "fmt"

// Divergence describes one byte range whose live value differed from the
// recording during validation.
type Divergence struct {
	Pass       int    `json:"pass"`
	Offset     int64  `json:"offset"`      // offset of the range within the recording
	Length     int    `json:"length"`      // length of the range
	FirstIndex int    `json:"first_index"` // index of the first differing byte within the range
	Object     string `json:"object,omitempty"`
	Expected   []byte `json:"expected"` // recorded bytes, now in live memory
	Actual     []byte `json:"actual"`   // live bytes before correction
}

// String returns a human-readable representation of the divergence
func (d Divergence) String() string {
	obj := d.Object
	if obj == "" {
		obj = "<unknown>"
	}
	return fmt.Sprintf("Divergence{Pass: %d, Object: %s, Offset: %d, Length: %d, First: %d, Expected: %x, Actual: %x}",
		d.Pass, obj, d.Offset, d.Length, d.FirstIndex, d.Expected, d.Actual)
}

// Policy controls how often divergences reach the Reporter.
type Policy int

const (
	// ReportAll reports every divergent range
	ReportAll Policy = iota
	// ReportFirst reports only the first divergent range of each pass
	ReportFirst
)

// String returns the string representation of the Policy
func (p Policy) String() string {
	switch p {
	case ReportAll:
		return "all"
	case ReportFirst:
		return "first"
	default:
		return "unknown"
	}
}

// ParsePolicy converts "all" or "first" to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "all":
		return ReportAll, nil
	case "first":
		return ReportFirst, nil
	default:
		return ReportAll, fmt.Errorf("unknown divergence policy %q, must be one of: all, first", s)
	}
}

func firstDiff(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}
