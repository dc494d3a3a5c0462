// ABOUTME: HTTP handler exposing the destination records of the latest sync run.
// ABOUTME: Supports model and severity filters, a record limit and pretty printing.

package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/engine"
	"github.com/DaYuM/airbyte-connectors/internal/types"
	"github.com/DaYuM/airbyte-connectors/internal/vanta"
)

const maxLimit = 10000

type RunDataProvider interface {
	GetRunData() *engine.RunData
}

type RecordsHandler struct {
	collector RunDataProvider
	logger    *logrus.Logger
}

type RecordsResponse struct {
	Source      string                    `json:"source"`
	Records     []types.DestinationRecord `json:"records"`
	Summary     RecordsSummary            `json:"summary"`
	Report      *vanta.Report             `json:"report"`
	LastUpdated string                    `json:"last_updated"`
}

type RecordsSummary struct {
	TotalRecords      int            `json:"total_records"`
	ModelBreakdown    map[string]int `json:"model_breakdown"`
	SeverityBreakdown map[string]int `json:"severity_breakdown"`
	TopCVEs           []CVESummary   `json:"top_cves"`
}

// CVESummary counts the sec_Vulnerability records that carry one external id
type CVESummary struct {
	ID                 string `json:"id"`
	VulnerabilityCount int    `json:"vulnerability_count"`
}

func NewRecordsHandler(collector RunDataProvider, logger *logrus.Logger) *RecordsHandler {
	return &RecordsHandler{
		collector: collector,
		logger:    logger,
	}
}

func (h *RecordsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithField("endpoint", "/records")

	modelFilter := strings.TrimSpace(r.URL.Query().Get("model"))
	severityFilter := strings.TrimSpace(r.URL.Query().Get("severity"))
	limitParam := strings.TrimSpace(r.URL.Query().Get("limit"))

	if modelFilter != "" && !validModel(modelFilter) {
		http.Error(w, "Invalid model filter. Must be one of: "+modelList(), http.StatusBadRequest)
		return
	}

	if len(severityFilter) > 50 {
		http.Error(w, "Severity filter too long. Maximum allowed is 50 characters", http.StatusBadRequest)
		return
	}

	limit := 0 // no limit by default
	if limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid limit parameter. Must be a positive integer", http.StatusBadRequest)
			return
		}
		if parsed > maxLimit {
			http.Error(w, "Limit parameter too large. Maximum allowed is 10000", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	run := h.collector.GetRunData()
	if run == nil {
		http.Error(w, "No sync run has completed yet", http.StatusServiceUnavailable)
		return
	}

	logger.WithFields(logrus.Fields{
		"model_filter":    modelFilter,
		"severity_filter": severityFilter,
		"limit":           limit,
		"total_records":   len(run.Records),
	}).Debug("Processing records request")

	filtered := []types.DestinationRecord{}
	for _, record := range run.Records {
		if modelFilter != "" && string(record.Model) != modelFilter {
			continue
		}
		if severityFilter != "" {
			vuln, ok := record.Record.(types.Vulnerability)
			if !ok || !strings.EqualFold(vuln.Severity, severityFilter) {
				continue
			}
		}
		filtered = append(filtered, record)
		if limit > 0 && len(filtered) == limit {
			break
		}
	}

	response := RecordsResponse{
		Source:      run.Source,
		Records:     filtered,
		Summary:     summarize(run.Records),
		Report:      run.Report,
		LastUpdated: run.Finished.UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	if r.URL.Query().Get("pretty") != "" {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(response); err != nil {
		logger.WithError(err).Error("Failed to encode JSON response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.WithFields(logrus.Fields{
		"filtered_records": len(filtered),
		"top_cves":         len(response.Summary.TopCVEs),
	}).Info("Served records response")
}

// summarize covers every record of the run regardless of filters
func summarize(records []types.DestinationRecord) RecordsSummary {
	summary := RecordsSummary{
		TotalRecords:      len(records),
		ModelBreakdown:    make(map[string]int),
		SeverityBreakdown: make(map[string]int),
	}
	cves := make(map[string]int)

	for _, record := range records {
		summary.ModelBreakdown[string(record.Model)]++

		vuln, ok := record.Record.(types.Vulnerability)
		if !ok {
			continue
		}
		severity := vuln.Severity
		if severity == "" {
			severity = "unknown"
		}
		summary.SeverityBreakdown[severity]++
		for _, id := range vuln.ExternalIDs {
			if id != "" {
				cves[id]++
			}
		}
	}

	for id, count := range cves {
		summary.TopCVEs = append(summary.TopCVEs, CVESummary{ID: id, VulnerabilityCount: count})
	}
	sort.Slice(summary.TopCVEs, func(i, j int) bool {
		if summary.TopCVEs[i].VulnerabilityCount != summary.TopCVEs[j].VulnerabilityCount {
			return summary.TopCVEs[i].VulnerabilityCount > summary.TopCVEs[j].VulnerabilityCount
		}
		return summary.TopCVEs[i].ID < summary.TopCVEs[j].ID
	})
	if len(summary.TopCVEs) > 10 {
		summary.TopCVEs = summary.TopCVEs[:10]
	}
	return summary
}

func validModel(model string) bool {
	for _, m := range types.DestinationModels() {
		if string(m) == model {
			return true
		}
	}
	return false
}

func modelList() string {
	var names []string
	for _, m := range types.DestinationModels() {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

// CreateRecordsHandler creates a standard HTTP handler
func CreateRecordsHandler(dataProvider RunDataProvider, logger *logrus.Logger) http.HandlerFunc {
	handler := NewRecordsHandler(dataProvider, logger)
	return handler.ServeHTTP
}
