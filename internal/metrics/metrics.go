package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalCells atomic.Int64

var (
	SamplingStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sampling_steps_total",
		Help: "The total number of grid positions sampled",
	})

	SamplingStepDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "sampling_step_duration_seconds",
		Help: "Duration of a single grid-position sampling step",
	})

	CodemapsGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codemaps_generated_total",
		Help: "The total number of codemaps fully generated",
	}, []string{"level"})

	ConstraintCellsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "constraint_cells_total",
		Help: "Total number of codemap cells seeded from a constraint",
	})

	ForwardDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forward_pass_duration_seconds",
		Help:    "Histogram of full forward-pass durations during sampling",
		Buckets: prometheus.DefBuckets,
	})

	SequenceLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prepared_sequence_length",
		Help:    "Distribution of prepared sequence lengths",
		Buckets: []float64{16, 64, 256, 1024, 4096, 16384},
	})

	LogitNaNTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logit_nan_total",
		Help: "Total count of NaN/Inf values observed in logits",
	})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_errors_total",
		Help: "Total number of validation errors",
	}, []string{"operation", "error_type"})

	MaskedTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "masked_tokens_total",
		Help: "Total number of sequence tokens replaced by the mask token",
	})

	CodemapCellsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codemap_cells_total",
		Help: "Total number of cells across fully generated codemaps",
	}, []string{"level"})
)

// RecordStep tracks one sampled grid position
func RecordStep(d time.Duration) {
	SamplingStepsTotal.Inc()
	SamplingStepDuration.Observe(d.Seconds())
	totalCells.Add(1)
}

// RecordCodemap tracks a completed codemap of the given level
func RecordCodemap(level string, cells int) {
	CodemapsGeneratedTotal.WithLabelValues(level).Inc()
	CodemapCellsTotal.WithLabelValues(level).Add(float64(cells))
}

// RecordValidationError tracks a failed eager validation
func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

// TotalCells returns the number of cells sampled since process start
func TotalCells() int64 {
	return totalCells.Load()
}
