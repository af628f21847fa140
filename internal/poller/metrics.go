package poller

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/jpalmerr/pulseproxy/internal/store"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// serviceLabel is injected into every federated sample.
const serviceLabel = "service"

// ParseExposition decodes a Prometheus text exposition into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func ParseExposition(body []byte) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(bytes.NewReader(body))
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// SumFamilies adds up the counter, gauge and untyped values of each family.
// Histograms and summaries are left out.
func SumFamilies(mfs map[string]*dto.MetricFamily) map[string]float64 {
	sums := make(map[string]float64, len(mfs))
	for name, mf := range mfs {
		switch mf.GetType() {
		case dto.MetricType_COUNTER, dto.MetricType_GAUGE, dto.MetricType_UNTYPED:
			sums[name] = sumFamily(mf)
		}
	}
	return sums
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil.
func sumFamily(mf *dto.MetricFamily) float64 {
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
		}
	}
	return total
}

// Federate writes every family scraped in snap as Prometheus text, with a
// service="<target>" label on each sample. Families with the same name from
// different targets are merged; a target whose family type disagrees with
// the first one seen is skipped for that family.
//
// The snapshot is not modified.
func Federate(w io.Writer, snap store.Snapshot) error {
	merged := make(map[string]*dto.MetricFamily)

	for _, target := range snap.Names() {
		families := snap.Results[target].Families
		names := make([]string, 0, len(families))
		for name := range families {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			src := families[name]
			dst, ok := merged[name]
			if !ok {
				dst = &dto.MetricFamily{
					Name: src.Name,
					Help: src.Help,
					Type: src.Type,
				}
				merged[name] = dst
			} else if dst.GetType() != src.GetType() {
				continue
			}
			for _, m := range src.GetMetric() {
				dst.Metric = append(dst.Metric, withService(m, target))
			}
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := expfmt.MetricFamilyToText(w, merged[name]); err != nil {
			return fmt.Errorf("write family %s: %w", name, err)
		}
	}
	return nil
}

// withService returns a copy of m carrying the service label. An existing
// service label is kept as exported_service.
func withService(m *dto.Metric, target string) *dto.Metric {
	labels := make([]*dto.LabelPair, 0, len(m.GetLabel())+1)
	for _, lp := range m.GetLabel() {
		if lp.GetName() == serviceLabel {
			labels = append(labels, labelPair("exported_"+serviceLabel, lp.GetValue()))
			continue
		}
		labels = append(labels, lp)
	}
	labels = append(labels, labelPair(serviceLabel, target))
	sort.Slice(labels, func(i, j int) bool {
		return labels[i].GetName() < labels[j].GetName()
	})

	return &dto.Metric{
		Label:       labels,
		Gauge:       m.Gauge,
		Counter:     m.Counter,
		Summary:     m.Summary,
		Untyped:     m.Untyped,
		Histogram:   m.Histogram,
		TimestampMs: m.TimestampMs,
	}
}

func labelPair(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: &name, Value: &value}
}
