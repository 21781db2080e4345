package compare

// DeviceStats is the pass/fail split of one device.
type DeviceStats struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`
}

// Statistics aggregates a comparison run. Total counts every compared pair;
// pairs that could not be compared count in Errors only, never in Passed or
// Failed.
type Statistics struct {
	Total      int                    `json:"total"`
	Passed     int                    `json:"passed"`
	Failed     int                    `json:"failed"`
	Errors     int                    `json:"errors"`
	BySeverity map[Severity]int       `json:"bySeverity"`
	ByDevice   map[string]DeviceStats `json:"byDevice"`
}

// NewStatistics returns empty statistics with every severity present.
func NewStatistics() Statistics {
	s := Statistics{
		BySeverity: make(map[Severity]int, len(Severities)),
		ByDevice:   make(map[string]DeviceStats),
	}
	for _, sev := range Severities {
		s.BySeverity[sev] = 0
	}
	return s
}

// Add accumulates one result.
func (s *Statistics) Add(r Result) {
	if s.BySeverity == nil || s.ByDevice == nil {
		*s = mergeInto(NewStatistics(), *s)
	}
	s.Total++
	dev := s.ByDevice[r.Device]
	switch {
	case !r.Success:
		s.Errors++
		dev.Errors++
	case r.Passed:
		s.Passed++
		dev.Passed++
	default:
		s.Failed++
		dev.Failed++
	}
	if r.Success {
		s.BySeverity[r.Severity]++
	}
	s.ByDevice[r.Device] = dev
}

func mergeInto(dst, src Statistics) Statistics {
	dst.Total, dst.Passed, dst.Failed, dst.Errors = src.Total, src.Passed, src.Failed, src.Errors
	for k, v := range src.BySeverity {
		dst.BySeverity[k] = v
	}
	for k, v := range src.ByDevice {
		dst.ByDevice[k] = v
	}
	return dst
}

// Summarize recomputes statistics from a result set.
func Summarize(results []Result) Statistics {
	s := NewStatistics()
	for _, r := range results {
		s.Add(r)
	}
	return s
}

// PassRate is the percentage of successfully compared pairs that passed.
func (s Statistics) PassRate() float64 {
	n := s.Passed + s.Failed
	if n == 0 {
		return 0
	}
	return float64(s.Passed) / float64(n) * 100
}

// HasChanges reports whether any pair failed the gate.
func (s Statistics) HasChanges() bool { return s.Failed > 0 }
