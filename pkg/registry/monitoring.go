package registry

// Monitoring middleware for registry interfaces

import (
	"context"
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/pkg/errors"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/moorcd/moor/pkg/image"
	moormetrics "github.com/moorcd/moor/pkg/metrics"
)

var resolveDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "moor",
	Subsystem: "registry",
	Name:      "resolve_duration_seconds",
	Help:      "Duration of digest resolution requests, in seconds.",
	Buckets:   stdprometheus.DefBuckets,
}, []string{moormetrics.LabelSuccess})

type instrumentedResolver struct {
	next Resolver
}

func NewInstrumentedResolver(next Resolver) Resolver {
	return &instrumentedResolver{
		next: next,
	}
}

func (m *instrumentedResolver) ResolveDigest(ctx context.Context, ref image.Ref) (res image.Digest, err error) {
	start := time.Now()
	res, err = m.next.ResolveDigest(ctx, ref)
	resolveDuration.With(
		moormetrics.LabelSuccess, strconv.FormatBool(err == nil || errors.Cause(err) == ErrDigestNotFound),
	).Observe(time.Since(start).Seconds())
	return
}
