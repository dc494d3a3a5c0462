// ABOUTME: End-of-run counters describing anomalies, query misses and resolutions.
// ABOUTME: Logged as one structured entry and exported as Prometheus gauges.

package vanta

import "github.com/sirupsen/logrus"

// Report summarizes a single Finalize call
type Report struct {
	VulnsMissingIDs                      int `json:"nVulnsMissingIds"`
	DuplicateAwsUIDs                     int `json:"nDuplicateAwsUids"`
	DuplicateAwsV2UIDsAndTitles          int `json:"nDuplicateAwsV2UidsAndTitles"`
	VulnerabilitiesMissingRepositoryName int `json:"nVulnerabilitiesWithMissingRepositoryNames"`
	VulnerabilitiesMissingCICDArtifacts  int `json:"nVulnerabilitiesWithMissingCICDArtifacts"`
	NoResponseVcsRepositoryQuery         int `json:"nNoResponseFromVcsRepositoryQuery"`
	NoResponseCicdArtifactQuery          int `json:"nNoResponseFromCicdArtifactQuery"`
	EmptyResultsVcsRepositoryQuery       int `json:"nEmptyResultsFromVcsRepositoryQuery"`
	EmptyResultsCicdArtifactQuery        int `json:"nEmptyResultsFromCicdArtifactQuery"`
	NoResponseAWSArtifactFromName        int `json:"nNoResponseAWSArtifactFromName"`
	EmptyResultsAWSArtifactFromName      int `json:"nEmptyResultsAWSArtifactFromName"`
	MissedRepositoryNames                int `json:"nMissedRepositoryNames"`
	FarosRequests                        int `json:"nFarosRequests"`
	ResolvedVCSVulns                     int `json:"nResolvedVCSVulns"`
	ResolvedCICDVulns                    int `json:"nResolvedCICDVulns"`
	RecordsIn                            int `json:"nRecordsIn"`
	RecordsOut                           int `json:"nRecordsOut"`
}

// Counters returns every counter keyed by its report name
func (r *Report) Counters() map[string]int {
	return map[string]int{
		"nVulnsMissingIds":                           r.VulnsMissingIDs,
		"nDuplicateAwsUids":                          r.DuplicateAwsUIDs,
		"nDuplicateAwsV2UidsAndTitles":               r.DuplicateAwsV2UIDsAndTitles,
		"nVulnerabilitiesWithMissingRepositoryNames": r.VulnerabilitiesMissingRepositoryName,
		"nVulnerabilitiesWithMissingCICDArtifacts":   r.VulnerabilitiesMissingCICDArtifacts,
		"nNoResponseFromVcsRepositoryQuery":          r.NoResponseVcsRepositoryQuery,
		"nNoResponseFromCicdArtifactQuery":           r.NoResponseCicdArtifactQuery,
		"nEmptyResultsFromVcsRepositoryQuery":        r.EmptyResultsVcsRepositoryQuery,
		"nEmptyResultsFromCicdArtifactQuery":         r.EmptyResultsCicdArtifactQuery,
		"nNoResponseAWSArtifactFromName":             r.NoResponseAWSArtifactFromName,
		"nEmptyResultsAWSArtifactFromName":           r.EmptyResultsAWSArtifactFromName,
		"nMissedRepositoryNames":                     r.MissedRepositoryNames,
		"nFarosRequests":                             r.FarosRequests,
		"nResolvedVCSVulns":                          r.ResolvedVCSVulns,
		"nResolvedCICDVulns":                         r.ResolvedCICDVulns,
		"nRecordsIn":                                 r.RecordsIn,
		"nRecordsOut":                                r.RecordsOut,
	}
}

// Fields renders the report for a single structured log entry
func (r *Report) Fields() logrus.Fields {
	fields := logrus.Fields{}
	for name, value := range r.Counters() {
		fields[name] = value
	}
	return fields
}
