// ABOUTME: Destination record shapes emitted to the Faros graph.
// ABOUTME: Defines vulnerability entities, associations and the graph object keys they reference.

package types

// DestinationModel names a Faros graph model
type DestinationModel string

const (
	ModelSecVulnerability           DestinationModel = "sec_Vulnerability"
	ModelVcsRepository              DestinationModel = "vcs_Repository"
	ModelVcsRepositoryVulnerability DestinationModel = "vcs_RepositoryVulnerability"
	ModelCicdRepository             DestinationModel = "cicd_Repository"
	ModelCicdArtifact               DestinationModel = "cicd_Artifact"
	ModelCicdArtifactVulnerability  DestinationModel = "cicd_ArtifactVulnerability"
)

// DestinationModels lists every model a conversion can emit
func DestinationModels() []DestinationModel {
	return []DestinationModel{
		ModelSecVulnerability,
		ModelVcsRepositoryVulnerability,
		ModelCicdArtifactVulnerability,
		ModelVcsRepository,
		ModelCicdArtifact,
		ModelCicdRepository,
	}
}

// DestinationRecord is one record written to the graph
type DestinationRecord struct {
	Model  DestinationModel `json:"model"`
	Record any              `json:"record"`
}

// VulnerabilityKey references a sec_Vulnerability
type VulnerabilityKey struct {
	UID    string `json:"uid"`
	Source string `json:"source"`
}

// Vulnerability is the sec_Vulnerability entity
type Vulnerability struct {
	UID          string   `json:"uid"`
	Source       string   `json:"source"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Severity     string   `json:"severity,omitempty"`
	URL          string   `json:"url"`
	DiscoveredAt string   `json:"discoveredAt,omitempty"`
	ExternalIDs  []string `json:"vulnerabilityIds"`
}

// VcsOrgKey references a vcs_Organization
type VcsOrgKey struct {
	UID    string `json:"uid"`
	Source string `json:"source"`
}

// VcsRepoKey references a vcs_Repository
type VcsRepoKey struct {
	Name         string    `json:"name"`
	Organization VcsOrgKey `json:"organization"`
}

// CicdOrgKey references a cicd_Organization
type CicdOrgKey struct {
	UID    string `json:"uid"`
	Source string `json:"source"`
}

// CicdRepoKey references a cicd_Repository. For container registries the uid is the repository name.
type CicdRepoKey struct {
	Organization CicdOrgKey `json:"organization"`
	UID          string     `json:"uid"`
}

// CicdArtifactKey references a cicd_Artifact. The uid is usually a commit sha or image digest.
type CicdArtifactKey struct {
	UID        string      `json:"uid"`
	Repository CicdRepoKey `json:"repository"`
}

// Status is a categorized status with the source's own detail string
type Status struct {
	Category string `json:"category"`
	Detail   string `json:"detail"`
}

// RepositoryVulnerability is the vcs_RepositoryVulnerability association
type RepositoryVulnerability struct {
	Repository    VcsRepoKey       `json:"repository"`
	Vulnerability VulnerabilityKey `json:"vulnerability"`
	URL           string           `json:"url"`
	DueAt         string           `json:"dueAt,omitempty"`
	CreatedAt     string           `json:"createdAt,omitempty"`
}

// ArtifactVulnerability is the cicd_ArtifactVulnerability association
type ArtifactVulnerability struct {
	Artifact       CicdArtifactKey  `json:"artifact"`
	Vulnerability  VulnerabilityKey `json:"vulnerability"`
	URL            string           `json:"url"`
	DueAt          string           `json:"dueAt,omitempty"`
	CreatedAt      string           `json:"createdAt,omitempty"`
	AcknowledgedAt string           `json:"acknowledgedAt,omitempty"`
	Status         *Status          `json:"status,omitempty"` // AWS v2 only
}
