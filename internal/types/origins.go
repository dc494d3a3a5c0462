// ABOUTME: Raw Vanta vulnerability shapes for the git, AWS v1 and AWS v2 origins.
// ABOUTME: Defines the tagged intake envelope that dispatches vuln_data on vuln_type.

package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// VulnType tags the origin of a raw Vanta vulnerability
type VulnType string

const (
	VulnTypeGit   VulnType = "git"
	VulnTypeAWS   VulnType = "aws"
	VulnTypeAWSV2 VulnType = "awsv2"
)

// ErrUnknownVulnType is returned when an envelope carries an unsupported vuln_type
var ErrUnknownVulnType = errors.New("unknown vuln_type")

// SecurityAdvisory is the advisory block attached to git (dependabot style) vulnerabilities
type SecurityAdvisory struct {
	CveID       string `json:"cveId,omitempty"`
	GhsaID      string `json:"ghsaId,omitempty"`
	Description string `json:"description,omitempty"`
}

// GitVulnerability is a Vanta vulnerability reported against a source repository
type GitVulnerability struct {
	ID               string            `json:"id,omitempty"`
	UID              string            `json:"uid,omitempty"`
	DisplayName      string            `json:"displayName,omitempty"`
	Severity         string            `json:"severity,omitempty"`
	RepositoryName   string            `json:"repositoryName,omitempty"`
	SecurityAdvisory *SecurityAdvisory `json:"securityAdvisory,omitempty"`
	SLADeadline      string            `json:"slaDeadline,omitempty"`
	CreatedAt        string            `json:"createdAt,omitempty"`
	ExternalURL      string            `json:"externalURL,omitempty"`
}

// Finding is one scanner finding inside an AWS v1 vulnerability
type Finding struct {
	Name        string `json:"name,omitempty"` // CVE id followed by a free text summary
	Description string `json:"description,omitempty"`
	URI         string `json:"uri,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// AWSVulnerability is the v1 container (ECR) vulnerability shape
type AWSVulnerability struct {
	ID             string    `json:"id,omitempty"`
	UID            string    `json:"uid,omitempty"`
	DisplayName    string    `json:"displayName,omitempty"`
	Severity       string    `json:"severity,omitempty"`
	RepositoryName string    `json:"repositoryName,omitempty"`
	ImageTags      []string  `json:"imageTags,omitempty"`
	Findings       []Finding `json:"findings,omitempty"`
	SLADeadline    string    `json:"slaDeadline,omitempty"`
	CreatedAt      string    `json:"createdAt,omitempty"`
	ExternalURL    string    `json:"externalURL,omitempty"`
}

// Asset identifies the container image an AWS v2 vulnerability was found in
type Asset struct {
	DisplayName string `json:"displayName,omitempty"`
}

// Ignored carries the risk acceptance on an AWS v2 vulnerability
type Ignored struct {
	IgnoreReason string `json:"ignoreReason,omitempty"`
	IgnoredUntil string `json:"ignoredUntil,omitempty"`
}

// AWSV2Vulnerability is the newer, more detailed container vulnerability shape
type AWSV2Vulnerability struct {
	ID                      string   `json:"id,omitempty"`
	UID                     string   `json:"uid,omitempty"`
	DisplayName             string   `json:"displayName,omitempty"`
	Description             string   `json:"description,omitempty"`
	Severity                string   `json:"severity,omitempty"` // LOW, MEDIUM, HIGH, CRITICAL
	ExternalVulnerabilityID string   `json:"externalVulnerabilityId,omitempty"`
	Asset                   *Asset   `json:"asset,omitempty"`
	ImageDigest             string   `json:"imageDigest,omitempty"`
	ImageTags               []string `json:"imageTags,omitempty"`
	RelatedURLs             []string `json:"relatedUrls,omitempty"`
	Ignored                 *Ignored `json:"ignored,omitempty"`
	RemediateBy             string   `json:"remediateBy,omitempty"`
	CreatedAt               string   `json:"createdAt,omitempty"`
	ExternalURL             string   `json:"externalURL,omitempty"`
}

// InputRecord is one intake record. Exactly one of Git, AWS, AWSV2 is set, matching Type.
type InputRecord struct {
	Type  VulnType
	Git   *GitVulnerability
	AWS   *AWSVulnerability
	AWSV2 *AWSV2Vulnerability
}

type envelope struct {
	VulnType VulnType        `json:"vuln_type"`
	VulnData json.RawMessage `json:"vuln_data"`
}

// NewGitRecord wraps a git vulnerability in an intake record
func NewGitRecord(v *GitVulnerability) InputRecord {
	return InputRecord{Type: VulnTypeGit, Git: v}
}

// NewAWSRecord wraps an AWS v1 vulnerability in an intake record
func NewAWSRecord(v *AWSVulnerability) InputRecord {
	return InputRecord{Type: VulnTypeAWS, AWS: v}
}

// NewAWSV2Record wraps an AWS v2 vulnerability in an intake record
func NewAWSV2Record(v *AWSV2Vulnerability) InputRecord {
	return InputRecord{Type: VulnTypeAWSV2, AWSV2: v}
}

// UnmarshalJSON decodes {"vuln_type": ..., "vuln_data": {...}} into the matching variant
func (r *InputRecord) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	decoded := InputRecord{Type: env.VulnType}
	var target any
	switch env.VulnType {
	case VulnTypeGit:
		decoded.Git = &GitVulnerability{}
		target = decoded.Git
	case VulnTypeAWS:
		decoded.AWS = &AWSVulnerability{}
		target = decoded.AWS
	case VulnTypeAWSV2:
		decoded.AWSV2 = &AWSV2Vulnerability{}
		target = decoded.AWSV2
	default:
		return fmt.Errorf("%w: %q", ErrUnknownVulnType, env.VulnType)
	}

	if len(env.VulnData) > 0 && string(env.VulnData) != "null" {
		if err := json.Unmarshal(env.VulnData, target); err != nil {
			return fmt.Errorf("failed to decode %s vuln_data: %w", env.VulnType, err)
		}
	}

	*r = decoded
	return nil
}

// MarshalJSON encodes the record back into its envelope form
func (r InputRecord) MarshalJSON() ([]byte, error) {
	var data any
	switch r.Type {
	case VulnTypeGit:
		data = r.Git
	case VulnTypeAWS:
		data = r.AWS
	case VulnTypeAWSV2:
		data = r.AWSV2
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVulnType, r.Type)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{VulnType: r.Type, VulnData: raw})
}

// ID returns the Vanta record id (not the vulnerability uid)
func (r InputRecord) ID() string {
	switch {
	case r.Git != nil:
		return r.Git.ID
	case r.AWS != nil:
		return r.AWS.ID
	case r.AWSV2 != nil:
		return r.AWSV2.ID
	}
	return ""
}

// CreatedAt returns the raw creation timestamp of the wrapped vulnerability
func (r InputRecord) CreatedAt() string {
	switch {
	case r.Git != nil:
		return r.Git.CreatedAt
	case r.AWS != nil:
		return r.AWS.CreatedAt
	case r.AWSV2 != nil:
		return r.AWSV2.CreatedAt
	}
	return ""
}
