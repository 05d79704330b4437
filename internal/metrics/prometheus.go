// Package metrics publishes the outcome of the last run in Prometheus
// textfile format for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tis24dev/flowsave/internal/logging"
)

const namespace = "flowsave"

// RunMetrics is the subset of a flow result exported as metrics.
type RunMetrics struct {
	Flow          string // backup, restore or rollback
	Status        string
	Qualifier     string
	Hostname      string
	ScriptVersion string

	StartTime time.Time
	EndTime   time.Time

	ExitCode     int
	WarningCount int
	ErrorCount   int

	// Records per kind (workflow, credential).
	Records map[string]int
	// Kinds that failed to transfer.
	FailedKinds []string
	Changes     int
}

// Duration returns EndTime-StartTime, or zero when either is unset.
func (m *RunMetrics) Duration() time.Duration {
	if m.StartTime.IsZero() || m.EndTime.IsZero() {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

// PrometheusExporter writes run metrics to <dir>/flowsave_<flow>.prom.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates a new PrometheusExporter using the provided directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

// FileName returns the textfile written for flow.
func FileName(flow string) string {
	return fmt.Sprintf("%s_%s.prom", namespace, flow)
}

// Export writes the given metrics snapshot. Each flow has its own file so a
// restore does not hide the last backup's metrics.
func (pe *PrometheusExporter) Export(m *RunMetrics) error {
	if pe == nil || m == nil {
		return nil
	}
	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}
	if m.Flow == "" {
		return fmt.Errorf("metrics flow name is empty")
	}
	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	reg := prometheus.NewRegistry()
	if err := register(reg, m); err != nil {
		return err
	}

	finalPath := filepath.Join(pe.textfileDir, FileName(m.Flow))
	if err := prometheus.WriteToTextfile(finalPath, reg); err != nil {
		return fmt.Errorf("write metrics file %s: %w", finalPath, err)
	}
	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", finalPath)
	}
	return nil
}

func gauge(name, help string, labels prometheus.Labels, value float64) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
	g.Set(value)
	return g
}

// status maps a run to 0=success, 1=warning, 2=error.
func status(m *RunMetrics) float64 {
	switch {
	case m.ExitCode != 0:
		return 2
	case m.WarningCount > 0 || len(m.FailedKinds) > 0:
		return 1
	}
	return 0
}

func register(reg *prometheus.Registry, m *RunMetrics) error {
	flow := prometheus.Labels{"flow": m.Flow}
	end := m.EndTime
	if end.IsZero() {
		end = m.StartTime
	}

	collectors := []prometheus.Collector{
		gauge("start_time_seconds", "Unix timestamp of run start", flow, float64(m.StartTime.Unix())),
		gauge("end_time_seconds", "Unix timestamp of run end", flow, float64(end.Unix())),
		gauge("duration_seconds", "Duration of last run in seconds", flow, m.Duration().Seconds()),
		gauge("exit_code", "Exit code of last run", flow, float64(m.ExitCode)),
		gauge("status", "Status of last run (0=success,1=warning,2=error)", flow, status(m)),
		gauge("warnings_total", "Warnings logged during last run", flow, float64(m.WarningCount)),
		gauge("errors_total", "Errors logged during last run", flow, float64(m.ErrorCount)),
		gauge("changed_files", "Files reported changed by the last incremental check", flow, float64(m.Changes)),
		gauge("info", "Static information about this instance", prometheus.Labels{
			"flow":           m.Flow,
			"hostname":       m.Hostname,
			"script_version": m.ScriptVersion,
			"result":         m.Status,
			"qualifier":      m.Qualifier,
		}, 1),
	}

	records := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "records",
		Help:        "Records transferred per kind in last run",
		ConstLabels: flow,
	}, []string{"kind"})
	for kind, n := range m.Records {
		records.WithLabelValues(kind).Set(float64(n))
	}
	for _, kind := range m.FailedKinds {
		records.WithLabelValues(kind).Set(-1)
	}
	collectors = append(collectors, records)

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metric: %w", err)
		}
	}
	return nil
}
