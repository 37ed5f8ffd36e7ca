package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const metricPrefix = "aeroledger_"

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Summarise the server's own metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		body, err := newClient().raw(ctx, "/metrics")
		if err != nil {
			return err
		}
		defer body.Close()

		lines, err := summariseMetrics(body)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(lines) == 0 {
			fmt.Fprintf(w, "  %s\n", gray("No aeroledger metrics exposed yet"))
			return nil
		}
		for _, l := range lines {
			fmt.Fprintf(w, "  %-60s %s\n", l.series, l.value)
		}
		return nil
	},
}

// metricLine is one printable series.
type metricLine struct {
	series string
	value  string
}

// summariseMetrics decodes a text exposition and returns one line per
// aeroledger series. Histograms print count and mean.
func summariseMetrics(r io.Reader) ([]metricLine, error) {
	dec := expfmt.NewDecoder(r, expfmt.NewFormat(expfmt.TypeTextPlain))
	var out []metricLine
	for {
		var mf dto.MetricFamily
		if err := dec.Decode(&mf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse metrics: %w", err)
		}
		if !strings.HasPrefix(mf.GetName(), metricPrefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			out = append(out, metricLine{
				series: seriesName(mf.GetName(), m.GetLabel()),
				value:  formatValue(m),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].series < out[j].series })
	return out, nil
}

func seriesName(name string, labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, lp := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

func formatValue(m *dto.Metric) string {
	switch {
	case m.Counter != nil:
		return fmt.Sprintf("%g", m.Counter.GetValue())
	case m.Gauge != nil:
		return fmt.Sprintf("%g", m.Gauge.GetValue())
	case m.Histogram != nil:
		h := m.Histogram
		if h.GetSampleCount() == 0 {
			return "count=0"
		}
		return fmt.Sprintf("count=%d mean=%.3fs", h.GetSampleCount(), h.GetSampleSum()/float64(h.GetSampleCount()))
	case m.Untyped != nil:
		return fmt.Sprintf("%g", m.Untyped.GetValue())
	}
	return "?"
}
