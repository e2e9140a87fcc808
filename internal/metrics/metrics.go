package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "arrowship"

// Metric names, without the namespace prefix.
const (
	MetricBatches        = "batches_total"
	MetricRows           = "rows_total"
	MetricRetries        = "retries_total"
	MetricTokenRefreshes = "token_refreshes_total"
	MetricPauses         = "table_pauses_total"
	MetricSendSeconds    = "send_duration_seconds"
)

// Batch outcomes.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
	OutcomeDryRun  = "dry_run"
)

// Row statuses.
const (
	RowsSuccessful = "successful"
	RowsFailed     = "failed"
)

// Recorder holds the engine's collectors.
type Recorder struct {
	reg *prometheus.Registry

	batches   *prometheus.CounterVec
	rows      *prometheus.CounterVec
	retries   *prometheus.CounterVec
	refreshes prometheus.Counter
	pauses    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// New returns a Recorder backed by a fresh registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricBatches,
			Help:      "Batches sent, by table and outcome.",
		}, []string{"table", "outcome"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRows,
			Help:      "Rows sent, by table and status.",
		}, []string{"table", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRetries,
			Help:      "Retried attempts, by the error kind that caused the retry.",
		}, []string{"kind"}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricTokenRefreshes,
			Help:      "Access token refreshes.",
		}),
		pauses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricPauses,
			Help:      "Failure-rate pauses, by table.",
		}, []string{"table"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricSendSeconds,
			Help:      "Send latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"table"}),
	}
	r.reg.MustRegister(r.batches, r.rows, r.retries, r.refreshes, r.pauses, r.latency)
	return r
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Batch records one finished Send.
func (r *Recorder) Batch(table, outcome string, successful, failed int, latency time.Duration) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(table, outcome).Inc()
	r.rows.WithLabelValues(table, RowsSuccessful).Add(float64(successful))
	r.rows.WithLabelValues(table, RowsFailed).Add(float64(failed))
	r.latency.WithLabelValues(table).Observe(latency.Seconds())
}

// Retry records a retried attempt caused by an error of kind.
func (r *Recorder) Retry(kind string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(kind).Inc()
}

// TokenRefresh records n token refreshes.
func (r *Recorder) TokenRefresh(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.refreshes.Add(float64(n))
}

// Pause records a failure-rate pause for table.
func (r *Recorder) Pause(table string) {
	if r == nil {
		return
	}
	r.pauses.WithLabelValues(table).Inc()
}

// Gather returns the current metric families keyed by full name.
func (r *Recorder) Gather() (map[string]*dto.MetricFamily, error) {
	if r == nil {
		return map[string]*dto.MetricFamily{}, nil
	}
	mfs, err := r.reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out, nil
}

// Dump writes every metric family to w in the text exposition format.
func (r *Recorder) Dump(w io.Writer) error {
	if r == nil {
		return nil
	}
	mfs, err := r.reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Parse decodes a text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned.
func Parse(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// Sum adds up every counter, gauge or untyped value in mf, and the sample
// count of histograms. It returns 0 for a nil family.
func Sum(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		case m.Histogram != nil:
			total += float64(m.Histogram.GetSampleCount())
		}
	}
	return total
}

// FullName prefixes name with the recorder namespace.
func FullName(name string) string {
	return prometheus.BuildFQName(namespace, "", name)
}
