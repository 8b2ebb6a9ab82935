package usecase

import "sync/atomic"

// MetricsSummary represents aggregated check counters since start-up.
type MetricsSummary struct {
	ChecksStarted int64   `json:"checks_started"`
	AIGenerated   int64   `json:"ai_generated"`
	Real          int64   `json:"real"`
	BackendErrors int64   `json:"backend_errors"`
	NoFile        int64   `json:"no_file"`
	Superseded    int64   `json:"superseded"`
	ErrorRate     float64 `json:"error_rate"`
}

type checkMetrics struct {
	started       atomic.Int64
	aiGenerated   atomic.Int64
	real          atomic.Int64
	backendErrors atomic.Int64
	noFile        atomic.Int64
	superseded    atomic.Int64
}

// Metrics returns the in-process check counters.
func (uc *ImageCheckUseCase) Metrics() *MetricsSummary {
	m := &uc.metrics
	summary := &MetricsSummary{
		ChecksStarted: m.started.Load(),
		AIGenerated:   m.aiGenerated.Load(),
		Real:          m.real.Load(),
		BackendErrors: m.backendErrors.Load(),
		NoFile:        m.noFile.Load(),
		Superseded:    m.superseded.Load(),
	}

	completed := summary.AIGenerated + summary.Real + summary.BackendErrors
	if completed > 0 {
		summary.ErrorRate = float64(summary.BackendErrors) / float64(completed)
	}
	return summary
}
