// ABOUTME: Seeds the in-memory graph with the inventory matching the generated records.
// ABOUTME: Lets --mock runs exercise resolution, placeholders and reconciliation without API access.

package mock

import (
	"github.com/sirupsen/logrus"

	graphmock "github.com/DaYuM/airbyte-connectors/internal/graph/mock"
	"github.com/DaYuM/airbyte-connectors/internal/types"
)

// StaleVulnerabilityUID is an association left unresolved in the seeded graph that no generated record reports
const StaleVulnerabilityUID = "stale-vanta-finding"

// NewSeededGraph returns an in-memory graph that knows web-frontend and payments-api but not orders-db.
// web-frontend images resolve by commit sha. The payments-api build is not indexed by sha, so its v1
// record falls back to the repository's newest artifact. orders-db images carry no sha and get placeholders.
func NewSeededGraph(logger *logrus.Logger) *graphmock.Graph {
	g := graphmock.NewGraph(logger)
	SeedGraph(g)
	return g
}

// SeedGraph registers the repositories, artifacts and stale associations of the mock fleet
func SeedGraph(g *graphmock.Graph) {
	org := types.CicdOrgKey{UID: OrgName, Source: "Docker"}
	for _, svc := range Services {
		if svc.Profile == "database" {
			continue
		}
		g.AddRepository(types.VcsRepoKey{
			Name:         svc.Repository,
			Organization: types.VcsOrgKey{UID: OrgName, Source: "GitHub"},
		})

		uid := svc.CommitSha
		if svc.Profile == "api" {
			uid = "sha256:" + stableDigest(svc.Repository, "previous")
		}
		g.AddArtifact(types.CicdArtifactKey{
			UID:        uid,
			Repository: types.CicdRepoKey{Organization: org, UID: svc.Repository},
		})
	}

	g.AddRepositoryVulnerability(StaleVulnerabilityUID)
	g.AddArtifactVulnerability(StaleVulnerabilityUID)
}
