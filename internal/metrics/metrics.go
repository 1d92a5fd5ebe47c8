// Package metrics holds the Prometheus counters for model validation and
// file I/O. A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values.
const (
	ResultPass = "pass"
	ResultFail = "fail"

	DirectionRead  = "read"
	DirectionWrite = "write"

	FormatFITS = "fits"
	FormatASDF = "asdf"
)

// Metrics groups the counters registered by New.
type Metrics struct {
	Validations  *prometheus.CounterVec
	Files        *prometheus.CounterVec
	FITSKeywords *prometheus.CounterVec
}

// New creates the counters and registers them with reg. A nil reg leaves
// them unregistered, which suits tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stdatamodels_validations_total",
				Help: "Total number of model validations by result.",
			},
			[]string{"result"},
		),
		Files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stdatamodels_files_total",
				Help: "Total number of model files read or written.",
			},
			[]string{"format", "direction"},
		),
		FITSKeywords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stdatamodels_fits_keywords_total",
				Help: "Total number of schema-mapped FITS keywords read or written.",
			},
			[]string{"direction"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Validations, m.Files, m.FITSKeywords)
	}

	// Pre-initialize label combinations so they are exported as zero.
	m.Validations.WithLabelValues(ResultPass)
	m.Validations.WithLabelValues(ResultFail)
	for _, f := range []string{FormatFITS, FormatASDF} {
		m.Files.WithLabelValues(f, DirectionRead)
		m.Files.WithLabelValues(f, DirectionWrite)
	}
	m.FITSKeywords.WithLabelValues(DirectionRead)
	m.FITSKeywords.WithLabelValues(DirectionWrite)
	return m
}

// Validation records one validation outcome.
func (m *Metrics) Validation(ok bool) {
	if m == nil {
		return
	}
	result := ResultPass
	if !ok {
		result = ResultFail
	}
	m.Validations.WithLabelValues(result).Inc()
}

// File records one file read or written.
func (m *Metrics) File(format, direction string) {
	if m == nil {
		return
	}
	m.Files.WithLabelValues(format, direction).Inc()
}

// Keywords adds n mapped keywords moved in direction.
func (m *Metrics) Keywords(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FITSKeywords.WithLabelValues(direction).Add(float64(n))
}
