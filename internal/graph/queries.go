// ABOUTME: GraphQL documents used against the Faros graph and the root keys of their results.
// ABOUTME: Also builds the batched resolvedAt mutation for vulnerability associations.

package graph

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	KeyVcsRepository              = "vcs_Repository"
	KeyCicdArtifact               = "cicd_Artifact"
	KeyVcsRepositoryVulnerability = "vcs_RepositoryVulnerability"
	KeyCicdArtifactVulnerability  = "cicd_ArtifactVulnerability"
)

// VcsRepositoryQuery looks repositories up by name. Variables: vcsRepoNames, limit.
const VcsRepositoryQuery = `query vcsRepositoryQuery($vcsRepoNames: [String!], $limit: Int) {
  vcs_Repository(where: {name: {_in: $vcsRepoNames}}, limit: $limit) {
    name
    organization {
      uid
      source
    }
  }
}`

// CicdArtifactQueryByCommitSha looks artifacts up by uid (commit sha). Variables: commitShas, limit.
const CicdArtifactQueryByCommitSha = `query cicdArtifactQueryByCommitSha($commitShas: [String!], $limit: Int) {
  cicd_Artifact(where: {uid: {_in: $commitShas}}, limit: $limit) {
    uid
    repository {
      uid
      organization {
        uid
        source
      }
    }
  }
}`

// CicdArtifactQueryByRepoName returns artifacts of the named repositories, newest first.
// Variables: repoNames, limit.
const CicdArtifactQueryByRepoName = `query cicdArtifactQueryByRepoName($repoNames: [String!], $limit: Int) {
  cicd_Artifact(
    where: {repository: {uid: {_in: $repoNames}}}
    distinct_on: repositoryId
    order_by: [{repositoryId: asc}, {createdAt: desc}]
    limit: $limit
  ) {
    uid
    repository {
      uid
      organization {
        uid
        source
      }
    }
  }
}`

// VcsRepositoryVulnerabilityQuery pages unresolved vanta repository vulnerabilities. Variables: id, limit.
const VcsRepositoryVulnerabilityQuery = `query vcsRepositoryVulnerabilityQuery($id: String, $limit: Int) {
  vcs_RepositoryVulnerability(
    where: {id: {_gt: $id}, resolvedAt: {_is_null: true}, vulnerability: {source: {_eq: "vanta"}}}
    order_by: {id: asc}
    limit: $limit
  ) {
    id
    resolvedAt
    vulnerability {
      uid
    }
  }
}`

// CicdArtifactVulnerabilityQuery pages unresolved vanta artifact vulnerabilities. Variables: id, limit.
const CicdArtifactVulnerabilityQuery = `query cicdArtifactVulnerabilityQuery($id: String, $limit: Int) {
  cicd_ArtifactVulnerability(
    where: {id: {_gt: $id}, resolvedAt: {_is_null: true}, vulnerability: {source: {_eq: "vanta"}}}
    order_by: {id: asc}
    limit: $limit
  ) {
    id
    resolvedAt
    vulnerability {
      uid
    }
  }
}`

// ResolveMutation builds one mutation document setting resolvedAt on every id.
// offset is the index of ids[0] in the caller's full queue and keeps aliases unique across batches.
func ResolveMutation(model string, ids []string, offset int, resolvedAt string) string {
	var sb strings.Builder
	sb.WriteString("mutation UpdateVulnerabilities{")
	for i, id := range ids {
		fmt.Fprintf(&sb, ` update%d: update_%s(where: {id: {_eq: %s}} _set: {resolvedAt: %s}) {affected_rows}`,
			offset+i, model, quoteString(id), quoteString(resolvedAt))
	}
	sb.WriteString(" }")
	return sb.String()
}

// quoteString renders s as a GraphQL string literal. JSON string escapes are a subset of GraphQL's.
func quoteString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
