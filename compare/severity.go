package compare

import "fmt"

// Severity is an informational five-level gradient of how much an image
// changed. It is independent of the pass/fail gate.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMinimal
	SeverityMinor
	SeverityMajor
	SeverityCritical
)

var severityNames = [...]string{"none", "minimal", "minor", "major", "critical"}

// Severities lists every level, lowest first.
var Severities = []Severity{SeverityNone, SeverityMinimal, SeverityMinor, SeverityMajor, SeverityCritical}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity is the inverse of String.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if n == name {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("compare: unknown severity %q", name)
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PassThreshold is the diff percentage at or above which a pair fails.
const PassThreshold = 1.0

// Classify maps a diff percentage onto the severity ladder, evaluated top
// down with strict comparisons.
func Classify(diffPercentage float64) Severity {
	switch {
	case diffPercentage > 10:
		return SeverityCritical
	case diffPercentage > 5:
		return SeverityMajor
	case diffPercentage > 1:
		return SeverityMinor
	case diffPercentage > 0.1:
		return SeverityMinimal
	default:
		return SeverityNone
	}
}

// Passed is the binary gate, evaluated independently of Classify: a 0.5%
// change is "minimal" and passes.
func Passed(diffPercentage float64) bool {
	return diffPercentage < PassThreshold
}
