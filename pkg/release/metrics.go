package release

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	moormetrics "github.com/moorcd/moor/pkg/metrics"
)

var (
	releaseDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "moor",
		Subsystem: "release",
		Name:      "duration_seconds",
		Help:      "End to end release duration in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{moormetrics.LabelEnvironment, moormetrics.LabelOutcome})
	stageDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "moor",
		Subsystem: "release",
		Name:      "stage_duration_seconds",
		Help:      "Duration in seconds of each stage of a release.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{moormetrics.LabelStage})
)

func NewStageTimer(stage string) *metrics.Timer {
	return metrics.NewTimer(stageDuration.With(moormetrics.LabelStage, stage))
}
