// ABOUTME: Builds vcs and cicd association records for resolved vulnerabilities.
// ABOUTME: Only AWS v2 associations carry a status.

package vanta

import (
	"fmt"

	"github.com/DaYuM/airbyte-connectors/internal/types"
)

func repositoryAssociation(repo types.VcsRepoKey, v *vulnerability, source string) types.DestinationRecord {
	return types.DestinationRecord{
		Model: types.ModelVcsRepositoryVulnerability,
		Record: types.RepositoryVulnerability{
			Repository:    repo,
			Vulnerability: types.VulnerabilityKey{UID: v.uid, Source: source},
			URL:           encodeURL(v.git.ExternalURL),
			DueAt:         v.git.SLADeadline,
			CreatedAt:     v.git.CreatedAt,
		},
	}
}

func artifactAssociation(t artifactTarget, source string) (types.DestinationRecord, error) {
	assoc := types.ArtifactVulnerability{
		Artifact:      t.artifact,
		Vulnerability: types.VulnerabilityKey{UID: t.vuln.uid, Source: source},
	}

	switch t.vuln.origin {
	case types.VulnTypeAWS:
		raw := t.vuln.aws
		assoc.URL = encodeURL(raw.ExternalURL)
		assoc.DueAt = raw.SLADeadline
		assoc.CreatedAt = raw.CreatedAt
		assoc.AcknowledgedAt = raw.CreatedAt
	case types.VulnTypeAWSV2:
		raw := t.vuln.awsV2
		assoc.URL = encodeURL(raw.ExternalURL)
		assoc.DueAt = raw.RemediateBy
		assoc.CreatedAt = raw.CreatedAt
		assoc.AcknowledgedAt = raw.CreatedAt
		assoc.Status = ignoredStatus(raw.Ignored)
	default:
		return types.DestinationRecord{}, fmt.Errorf("%w: %q", ErrInvalidVulnType, t.vuln.origin)
	}

	return types.DestinationRecord{Model: types.ModelCicdArtifactVulnerability, Record: assoc}, nil
}

func ignoredStatus(ignored *types.Ignored) *types.Status {
	if ignored != nil && (ignored.IgnoreReason != "" || ignored.IgnoredUntil != "") {
		return &types.Status{Category: statusIgnored, Detail: ignored.IgnoreReason}
	}
	return &types.Status{Category: statusOpen, Detail: ""}
}
