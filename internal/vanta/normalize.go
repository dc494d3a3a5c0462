// ABOUTME: Identity and severity normalization shared by every Vanta origin.
// ABOUTME: Builds sec_Vulnerability entities and extracts commit shas and CVE tokens.

package vanta

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/DaYuM/airbyte-connectors/internal/types"
)

const (
	// DefaultSource is the sec_Vulnerability source for every emitted record
	DefaultSource = "vanta"

	unknownSeverity      = "UNKNOWN"
	noDescription        = "No description found"
	placeholderCicdRepo  = "vanta-aws-repo"
	statusIgnored        = "Ignored"
	statusOpen           = "Open"
	placeholderVcsOrgUID = "faros-ai"
	placeholderVcsSource = "GitHub"
	placeholderCicdOrg   = "farosai"
	placeholderCicdSrc   = "Docker"
)

// awsV2SeverityScores maps AWS v2 severities to CVSS-like scores
var awsV2SeverityScores = map[string]float64{
	"LOW":      3.0,
	"MEDIUM":   6.0,
	"HIGH":     9.0,
	"CRITICAL": 10.0,
}

var commitShaPattern = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// vulnerability is the origin-agnostic view of one raw record. The origin pointer
// (exactly one of git, aws, awsV2) keeps the fields needed for associations.
type vulnerability struct {
	uid         string
	title       string
	description string
	severity    string
	url         string
	discovered  string
	externalIDs []string

	origin types.VulnType
	git    *types.GitVulnerability
	aws    *types.AWSVulnerability
	awsV2  *types.AWSV2Vulnerability
}

// entity builds the sec_Vulnerability. uid and source are mandatory.
func (v *vulnerability) entity(source string) (types.Vulnerability, error) {
	if v.uid == "" || source == "" {
		return types.Vulnerability{}, fmt.Errorf("%w: uid=%q source=%q title=%q", ErrMissingIdentifier, v.uid, source, v.title)
	}
	ids := v.externalIDs
	if ids == nil {
		ids = []string{}
	}
	return types.Vulnerability{
		UID:          v.uid,
		Source:       source,
		Title:        v.title,
		Description:  v.description,
		Severity:     v.severity,
		URL:          encodeURL(v.url),
		DiscoveredAt: v.discovered,
		ExternalIDs:  ids,
	}, nil
}

// imageTags returns the tags of container origins
func (v *vulnerability) imageTags() []string {
	switch v.origin {
	case types.VulnTypeAWS:
		return v.aws.ImageTags
	case types.VulnTypeAWSV2:
		return v.awsV2.ImageTags
	}
	return nil
}

// severityFromAWSV2 reduces an AWS v2 severity to its score, formatted without trailing zeros
func severityFromAWSV2(severity string) string {
	score, ok := awsV2SeverityScores[severity]
	if !ok || score == 0 {
		return unknownSeverity
	}
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// firstToken returns the text before the first space, which for AWS findings is the CVE id
func firstToken(s string) string {
	return strings.SplitN(s, " ", 2)[0]
}

// looksLikeGithubCommitSha reports whether tag is a full 40 character hex sha
func looksLikeGithubCommitSha(tag string) bool {
	return commitShaPattern.MatchString(tag)
}

// commitShaFromTags returns the first tag shaped like a commit sha
func commitShaFromTags(tags []string) string {
	for _, tag := range tags {
		if looksLikeGithubCommitSha(tag) {
			return tag
		}
	}
	return ""
}

// lastPathSegment truncates "org/team/repo" to "repo"
func lastPathSegment(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// encodeURL is the single place URLs pass through before emission; absent URLs become "".
func encodeURL(url string) string {
	return url
}

func placeholderRepository(name string) types.VcsRepoKey {
	return types.VcsRepoKey{
		Name: name,
		Organization: types.VcsOrgKey{
			UID:    placeholderVcsOrgUID,
			Source: placeholderVcsSource,
		},
	}
}

// placeholderArtifact derives the synthesized cicd repository and artifact for a container vulnerability
func placeholderArtifact(v *vulnerability) (types.CicdRepoKey, types.CicdArtifactKey, error) {
	repoName := placeholderCicdRepo
	artifactUID := v.uid

	switch v.origin {
	case types.VulnTypeAWSV2:
		if v.awsV2.Asset != nil && v.awsV2.Asset.DisplayName != "" {
			repoName = v.awsV2.Asset.DisplayName
		}
		if v.awsV2.ImageDigest != "" {
			artifactUID = v.awsV2.ImageDigest
		}
	case types.VulnTypeAWS:
		if v.aws.RepositoryName != "" {
			repoName = v.aws.RepositoryName
		}
		if len(v.aws.ImageTags) > 0 {
			artifactUID = v.aws.ImageTags[0]
		}
	default:
		return types.CicdRepoKey{}, types.CicdArtifactKey{}, fmt.Errorf("%w: %q", ErrInvalidVulnType, v.origin)
	}

	repo := types.CicdRepoKey{
		Organization: types.CicdOrgKey{UID: placeholderCicdOrg, Source: placeholderCicdSrc},
		UID:          repoName,
	}
	return repo, types.CicdArtifactKey{UID: artifactUID, Repository: repo}, nil
}
