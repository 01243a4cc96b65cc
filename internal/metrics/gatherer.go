package metrics

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	gethmetrics "github.com/luxfi/geth/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// registrySource is the subset of gethmetrics.Registry the gatherer needs;
// narrowed to ease testing against a fake registry.
type registrySource interface {
	Each(func(string, any))
	Get(string) any
}

// Gatherer adapts a github.com/luxfi/geth/metrics registry to
// prometheus.Gatherer, grounded on the teacher's
// metrics/prometheus.Gatherer (itself adapting the same registry type to
// the same interface) — condensed here to the metric kinds the scheduler
// actually registers: counters and gauges.
type Gatherer struct {
	registry registrySource
}

var _ prometheus.Gatherer = (*Gatherer)(nil)

// NewGatherer returns a Gatherer over the given registry. Pass
// metrics.Registry for the process-wide instance.
func NewGatherer(registry registrySource) *Gatherer {
	return &Gatherer{registry: registry}
}

var (
	errMetricSkip       = errors.New("metric skipped")
	errMetricUnsupported = errors.New("metric type not supported")
)

func ptrTo[T any](v T) *T { return &v }

// Gather implements prometheus.Gatherer.
func (g *Gatherer) Gather() ([]*dto.MetricFamily, error) {
	var names []string
	g.registry.Each(func(name string, _ any) { names = append(names, name) })
	sort.Strings(names)

	mfs := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		mf, err := g.metricFamily(name)
		switch {
		case errors.Is(err, errMetricSkip):
			continue
		case err != nil:
			return nil, err
		}
		mfs = append(mfs, mf)
	}
	return mfs, nil
}

func (g *Gatherer) metricFamily(name string) (*dto.MetricFamily, error) {
	m := g.registry.Get(name)
	exported := strings.ReplaceAll(name, "/", "_")
	if m == nil {
		return nil, fmt.Errorf("%w: %q is nil", errMetricSkip, name)
	}

	switch v := m.(type) {
	case gethmetrics.Counter:
		return &dto.MetricFamily{
			Name: &exported,
			Type: dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{{
				Counter: &dto.Counter{Value: ptrTo(float64(v.Snapshot().Count()))},
			}},
		}, nil

	case gethmetrics.Gauge:
		return &dto.MetricFamily{
			Name: &exported,
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{
				Gauge: &dto.Gauge{Value: ptrTo(float64(v.Snapshot().Value()))},
			}},
		}, nil

	case gethmetrics.Histogram:
		snap := v.Snapshot()
		if snap.Count() == 0 {
			return nil, fmt.Errorf("%w: %q has no samples", errMetricSkip, name)
		}
		quantiles := []float64{.5, .9, .99}
		thresholds := snap.Percentiles(quantiles)
		dq := make([]*dto.Quantile, len(quantiles))
		for i, q := range quantiles {
			dq[i] = &dto.Quantile{Quantile: ptrTo(q), Value: ptrTo(thresholds[i])}
		}
		return &dto.MetricFamily{
			Name: &exported,
			Type: dto.MetricType_SUMMARY.Enum(),
			Metric: []*dto.Metric{{
				Summary: &dto.Summary{
					SampleCount: ptrTo(uint64(snap.Count())),
					SampleSum:   ptrTo(float64(snap.Sum())),
					Quantile:    dq,
				},
			}},
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q is a %T", errMetricUnsupported, name, m)
	}
}
