package progress

// Meter counts bytes as they are written and says when a progress report is due.
type Meter struct {
	total          int64 // cumulative total
	sinceReport    int64 // bytes since last report
	reportInterval int64 // bytes
}

func NewMeter(interval int64) *Meter {
	return &Meter{reportInterval: interval}
}

// Add records n more bytes and reports whether at least one interval has
// elapsed since the last due report.
func (m *Meter) Add(n int64) bool {
	if n <= 0 {
		return false
	}

	m.total += n
	m.sinceReport += n

	if m.sinceReport >= m.reportInterval {
		m.sinceReport = 0

		return true
	}

	return false
}

// Total returns every byte added so far.
func (m *Meter) Total() int64 {
	return m.total
}

// Pending reports whether bytes were added since the last due report.
func (m *Meter) Pending() bool {
	return m.sinceReport > 0
}
