// ABOUTME: Prometheus metrics exposition for Vanta sync runs.
// ABOUTME: Exports the converter report, output volume and vulnerability breakdowns on /metrics.

package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/engine"
	"github.com/DaYuM/airbyte-connectors/internal/types"
)

type RunDataProvider interface {
	GetRunData() *engine.RunData
	LastError() error
}

type MetricsHandler struct {
	collector RunDataProvider
	logger    *logrus.Logger

	// mu serializes scrapes: the gauge vecs are shared and reset on every request
	mu sync.Mutex

	reportCounter   *prometheus.GaugeVec
	destinationRecs *prometheus.GaugeVec
	syncInfo        *prometheus.GaugeVec

	vulnerabilitySeverity *prometheus.GaugeVec
	artifactStatus        *prometheus.GaugeVec
}

func NewMetricsHandler(collector RunDataProvider, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		collector: collector,
		logger:    logger,

		reportCounter: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vanta_converter_report",
				Help: "Counters of the last converter run report",
			},
			[]string{"counter"},
		),

		destinationRecs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vanta_destination_records",
				Help: "Destination records emitted by the last run by model",
			},
			[]string{"model"},
		),

		syncInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vanta_sync_info",
				Help: "Information about the last sync run",
			},
			[]string{"info_type"},
		),

		vulnerabilitySeverity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vanta_vulnerabilities",
				Help: "sec_Vulnerability records emitted by the last run by severity",
			},
			[]string{"severity"},
		),

		artifactStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vanta_artifact_vulnerability_status",
				Help: "cicd_ArtifactVulnerability records emitted by the last run by status category",
			},
			[]string{"category", "detail"},
		),
	}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Fresh registry per request so stale label sets never leak between runs
	registry := prometheus.NewRegistry()
	registry.MustRegister(m.reportCounter)
	registry.MustRegister(m.destinationRecs)
	registry.MustRegister(m.syncInfo)
	registry.MustRegister(m.vulnerabilitySeverity)
	registry.MustRegister(m.artifactStatus)

	m.reportCounter.Reset()
	m.destinationRecs.Reset()
	m.syncInfo.Reset()
	m.vulnerabilitySeverity.Reset()
	m.artifactStatus.Reset()

	run := m.collector.GetRunData()
	switch {
	case m.collector.LastError() != nil:
		m.syncInfo.WithLabelValues("last_run_success").Set(0)
	case run != nil:
		m.syncInfo.WithLabelValues("last_run_success").Set(1)
	}

	if run != nil {
		m.populate(run)
	} else {
		m.logger.Debug("No completed sync run to export")
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	handler.ServeHTTP(w, r)
}

func (m *MetricsHandler) populate(run *engine.RunData) {
	if run.Report != nil {
		for name, value := range run.Report.Counters() {
			m.reportCounter.WithLabelValues(name).Set(float64(value))
		}
	}

	for _, model := range types.DestinationModels() {
		m.destinationRecs.WithLabelValues(string(model)).Set(0)
	}
	for _, record := range run.Records {
		m.destinationRecs.WithLabelValues(string(record.Model)).Inc()

		switch typed := record.Record.(type) {
		case types.Vulnerability:
			m.vulnerabilitySeverity.WithLabelValues(sanitizeLabelValue(typed.Severity)).Inc()
		case types.ArtifactVulnerability:
			category, detail := "unknown", "unknown"
			if typed.Status != nil {
				category = sanitizeLabelValue(typed.Status.Category)
				detail = sanitizeLabelValue(typed.Status.Detail)
			}
			m.artifactStatus.WithLabelValues(category, detail).Inc()
		}
	}

	m.syncInfo.WithLabelValues("last_run_timestamp").Set(float64(run.Finished.Unix()))
	m.syncInfo.WithLabelValues("last_run_duration_seconds").Set(run.Finished.Sub(run.Started).Seconds())
	m.syncInfo.WithLabelValues("records_out").Set(float64(len(run.Records)))
}

// sanitizeLabelValue cleans strings for use as Prometheus labels
func sanitizeLabelValue(value string) string {
	if value == "" {
		return "unknown"
	}

	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\t", " ")

	if len(value) > 200 {
		value = value[:200] + "..."
	}

	return strings.TrimSpace(value)
}

// CreateMetricsHandler creates a standard HTTP handler that can be used with http.ServeMux
func CreateMetricsHandler(dataProvider RunDataProvider, logger *logrus.Logger) http.HandlerFunc {
	metricsHandler := NewMetricsHandler(dataProvider, logger)
	return metricsHandler.ServeHTTP
}
