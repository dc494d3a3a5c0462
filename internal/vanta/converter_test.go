// ABOUTME: End-to-end tests of the converter against the in-memory graph.
// ABOUTME: Covers intake limits, resolution, synthesis, reconciliation and dedup.

package vanta

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaYuM/airbyte-connectors/internal/graph"
	"github.com/DaYuM/airbyte-connectors/internal/graph/mock"
	"github.com/DaYuM/airbyte-connectors/internal/types"
)

const (
	testSha      = "0123456789abcdef0123456789abcdef01234567"
	unknownSha   = "ffffffffffffffffffffffffffffffffffffffff"
	testResolved = "2024-06-01T12:00:00.000Z"
)

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

type sleepRecorder struct {
	calls []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func newTestConverter(config Config, client graph.Client) (*Converter, *sleepRecorder) {
	sleeper := &sleepRecorder{}
	c := NewConverter(config, client, newTestLogger(), WithClock(fixedNow), WithSleeper(sleeper.sleep))
	return c, sleeper
}

func recordsOf[T any](records []types.DestinationRecord, model types.DestinationModel) []T {
	var out []T
	for _, r := range records {
		if r.Model != model {
			continue
		}
		if typed, ok := r.Record.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

func convertAll(t *testing.T, c *Converter, records ...types.InputRecord) {
	t.Helper()
	for _, r := range records {
		out, err := c.Convert(r)
		require.NoError(t, err)
		assert.Empty(t, out)
	}
}

func countQueries(g *mock.Graph, query string) int {
	n := 0
	for _, q := range g.Queries() {
		if q.Query == query {
			n++
		}
	}
	return n
}

func TestConvertCapsIntake(t *testing.T) {
	c, _ := newTestConverter(Config{MaxRecords: 2}, nil)
	for i := 0; i < 5; i++ {
		_, err := c.Convert(types.NewGitRecord(&types.GitVulnerability{UID: "g"}))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Buffered())

	unlimited, _ := newTestConverter(Config{MaxRecords: 0}, nil)
	for i := 0; i < 5; i++ {
		_, err := unlimited.Convert(types.NewGitRecord(&types.GitVulnerability{UID: "g"}))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, unlimited.Buffered())
}

func TestConvertFiltersOldRecords(t *testing.T) {
	c, _ := newTestConverter(Config{FilterLastNDays: 30}, nil)
	convertAll(t, c,
		types.NewGitRecord(&types.GitVulnerability{UID: "old", CreatedAt: "2024-01-01T00:00:00.000Z"}),
		types.NewAWSRecord(&types.AWSVulnerability{UID: "recent", CreatedAt: "2024-05-20T00:00:00Z"}),
		types.NewAWSV2Record(&types.AWSV2Vulnerability{UID: "undated"}),
	)
	assert.Equal(t, 2, c.Buffered())
}

func TestConvertRejectsInvalidType(t *testing.T) {
	c, _ := newTestConverter(Config{}, nil)

	_, err := c.Convert(types.InputRecord{Type: "bogus"})
	assert.True(t, errors.Is(err, ErrInvalidVulnType))

	_, err = c.Convert(types.InputRecord{Type: types.VulnTypeGit})
	assert.True(t, errors.Is(err, ErrInvalidVulnType))
	assert.Equal(t, 0, c.Buffered())
}

func TestConverterID(t *testing.T) {
	c, _ := newTestConverter(Config{}, nil)
	assert.Equal(t, "vanta-123", c.ID(types.NewAWSV2Record(&types.AWSV2Vulnerability{ID: "vanta-123"})))
}

func TestFinalizeWithoutGraphClient(t *testing.T) {
	c, _ := newTestConverter(Config{}, nil)
	convertAll(t, c, types.NewGitRecord(&types.GitVulnerability{UID: "g1", RepositoryName: "repoA"}))

	_, _, err := c.Finalize(context.Background())
	assert.True(t, errors.Is(err, ErrNoGraphClient))
}

func TestFinalizeGitResolvedRepository(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	repoA := types.VcsRepoKey{Name: "repoA", Organization: types.VcsOrgKey{UID: "acme", Source: "GitHub"}}
	g.AddRepository(repoA)

	c, _ := newTestConverter(Config{}, g)
	convertAll(t, c, types.NewGitRecord(&types.GitVulnerability{
		UID:              "g1",
		RepositoryName:   "repoA",
		SecurityAdvisory: &types.SecurityAdvisory{CveID: "CVE-1", GhsaID: ""},
		SLADeadline:      "2024-07-01T00:00:00Z",
		ExternalURL:      "https://app.vanta.com/g1",
	}))

	out, report, err := c.Finalize(context.Background())
	require.NoError(t, err)

	vulns := recordsOf[types.Vulnerability](out, types.ModelSecVulnerability)
	require.Len(t, vulns, 1)
	assert.Equal(t, "g1", vulns[0].UID)
	assert.Equal(t, "vanta", vulns[0].Source)
	assert.Equal(t, []string{"CVE-1", ""}, vulns[0].ExternalIDs)

	assocs := recordsOf[types.RepositoryVulnerability](out, types.ModelVcsRepositoryVulnerability)
	require.Len(t, assocs, 1)
	assert.Equal(t, repoA, assocs[0].Repository)
	assert.Equal(t, types.VulnerabilityKey{UID: "g1", Source: "vanta"}, assocs[0].Vulnerability)
	assert.Equal(t, "https://app.vanta.com/g1", assocs[0].URL)
	assert.Equal(t, "2024-07-01T00:00:00Z", assocs[0].DueAt)

	assert.Empty(t, recordsOf[types.VcsRepoKey](out, types.ModelVcsRepository))
	assert.Equal(t, 0, report.MissedRepositoryNames)
	assert.Equal(t, 1, report.FarosRequests)
	assert.Equal(t, 1, report.RecordsIn)
	assert.Equal(t, len(out), report.RecordsOut)
	assert.Equal(t, 0, c.Buffered())
}

func TestFinalizeSynthesizesMissingRepository(t *testing.T) {
	tests := []struct {
		name        string
		omitKey     bool
		noResponses int
	}{
		{name: "empty result", omitKey: false, noResponses: 0},
		{name: "no response", omitKey: true, noResponses: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mock.NewGraph(newTestLogger())
			if tt.omitKey {
				g.OmitKeys[graph.KeyVcsRepository] = true
			}
			c, _ := newTestConverter(Config{}, g)
			convertAll(t, c,
				types.NewGitRecord(&types.GitVulnerability{UID: "g1", RepositoryName: "repoB"}),
				types.NewGitRecord(&types.GitVulnerability{UID: "g2", RepositoryName: "repoB"}),
			)

			out, report, err := c.Finalize(context.Background())
			require.NoError(t, err)

			placeholder := types.VcsRepoKey{Name: "repoB", Organization: types.VcsOrgKey{UID: "faros-ai", Source: "GitHub"}}
			assert.Equal(t, []types.VcsRepoKey{placeholder}, recordsOf[types.VcsRepoKey](out, types.ModelVcsRepository))

			assocs := recordsOf[types.RepositoryVulnerability](out, types.ModelVcsRepositoryVulnerability)
			require.Len(t, assocs, 2)
			for _, a := range assocs {
				assert.Equal(t, placeholder, a.Repository)
			}
			assert.Equal(t, 1, report.MissedRepositoryNames)
			assert.Equal(t, tt.noResponses, report.NoResponseVcsRepositoryQuery)
		})
	}
}

func TestFinalizeBatchesRepositoryLookups(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	c, _ := newTestConverter(Config{MaxRecords: 0, BatchSize: 2}, g)
	for _, name := range []string{"r1", "r2", "r3", "r1", "r4", "r5"} {
		convertAll(t, c, types.NewGitRecord(&types.GitVulnerability{UID: "uid-" + name, RepositoryName: name}))
	}

	_, report, err := c.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, countQueries(g, graph.VcsRepositoryQuery))
	assert.Equal(t, 5, report.MissedRepositoryNames)
}

func TestFinalizeAWSV2IgnoredStatus(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	c, _ := newTestConverter(Config{}, g)
	convertAll(t, c, types.NewAWSV2Record(&types.AWSV2Vulnerability{
		UID:         "v2-1",
		Severity:    "HIGH",
		Asset:       &types.Asset{DisplayName: "web"},
		ImageDigest: "sha256:abc",
		Ignored:     &types.Ignored{IgnoreReason: "accepted risk"},
		RemediateBy: "2024-08-01T00:00:00Z",
		CreatedAt:   "2024-05-01T00:00:00Z",
	}))

	out, _, err := c.Finalize(context.Background())
	require.NoError(t, err)

	vulns := recordsOf[types.Vulnerability](out, types.ModelSecVulnerability)
	require.Len(t, vulns, 1)
	assert.Equal(t, "9", vulns[0].Severity)

	assocs := recordsOf[types.ArtifactVulnerability](out, types.ModelCicdArtifactVulnerability)
	require.Len(t, assocs, 1)
	require.NotNil(t, assocs[0].Status)
	assert.Equal(t, types.Status{Category: "Ignored", Detail: "accepted risk"}, *assocs[0].Status)
	assert.Equal(t, "sha256:abc", assocs[0].Artifact.UID)
	assert.Equal(t, "web", assocs[0].Artifact.Repository.UID)
	assert.Equal(t, "2024-08-01T00:00:00Z", assocs[0].DueAt)
	assert.Equal(t, "2024-05-01T00:00:00Z", assocs[0].AcknowledgedAt)

	assert.Len(t, recordsOf[types.CicdArtifactKey](out, types.ModelCicdArtifact), 1)
	assert.Len(t, recordsOf[types.CicdRepoKey](out, types.ModelCicdRepository), 1)
}

func TestFinalizeAWSV2ResolvedByCommitSha(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	artifact := types.CicdArtifactKey{
		UID:        testSha,
		Repository: types.CicdRepoKey{Organization: types.CicdOrgKey{UID: "acme", Source: "GitHub"}, UID: "web"},
	}
	g.AddArtifact(artifact)

	c, _ := newTestConverter(Config{}, g)
	convertAll(t, c,
		types.NewAWSV2Record(&types.AWSV2Vulnerability{UID: "v2-1", ImageTags: []string{"latest", testSha}, Ignored: &types.Ignored{IgnoredUntil: "2025-01-01"}}),
		types.NewAWSV2Record(&types.AWSV2Vulnerability{UID: "v2-2", ImageTags: []string{testSha}}),
		types.NewAWSV2Record(&types.AWSV2Vulnerability{UID: "v2-2", DisplayName: "dup", ImageTags: []string{testSha}}),
		types.NewAWSV2Record(&types.AWSV2Vulnerability{UID: "v2-3", ImageTags: []string{unknownSha}}),
	)

	out, report, err := c.Finalize(context.Background())
	require.NoError(t, err)

	assocs := recordsOf[types.ArtifactVulnerability](out, types.ModelCicdArtifactVulnerability)
	require.Len(t, assocs, 2)
	assert.Equal(t, artifact, assocs[0].Artifact)
	assert.Equal(t, "v2-1", assocs[0].Vulnerability.UID)
	assert.Equal(t, "Ignored", assocs[0].Status.Category)
	assert.Equal(t, "", assocs[0].Status.Detail)
	assert.Equal(t, "v2-2", assocs[1].Vulnerability.UID)
	assert.Equal(t, types.Status{Category: "Open", Detail: ""}, *assocs[1].Status)

	assert.Empty(t, recordsOf[types.CicdArtifactKey](out, types.ModelCicdArtifact))
	assert.Equal(t, 1, report.DuplicateAwsV2UIDsAndTitles)
	assert.Equal(t, 1, report.DuplicateAwsUIDs)
	assert.Equal(t, 1, report.VulnerabilitiesMissingCICDArtifacts)
}

func TestFinalizeMergesAWSVariants(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	c, _ := newTestConverter(Config{}, g)
	convertAll(t, c,
		types.NewAWSRecord(&types.AWSVulnerability{UID: "shared", Severity: "LOW", Findings: []types.Finding{{Name: "CVE-1 x"}}}),
		types.NewAWSV2Record(&types.AWSV2Vulnerability{UID: "shared", Severity: "CRITICAL", ExternalVulnerabilityID: "CVE-1"}),
	)

	out, report, err := c.Finalize(context.Background())
	require.NoError(t, err)

	vulns := recordsOf[types.Vulnerability](out, types.ModelSecVulnerability)
	require.Len(t, vulns, 1)
	assert.Equal(t, "10", vulns[0].Severity)
	assert.Equal(t, 1, report.DuplicateAwsUIDs)
}

func TestFinalizeAWSV1ByRepositoryName(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	repo := types.CicdRepoKey{Organization: types.CicdOrgKey{UID: "acme", Source: "Docker"}, UID: "api"}
	g.AddArtifact(types.CicdArtifactKey{UID: "older", Repository: repo})
	g.AddArtifact(types.CicdArtifactKey{UID: "newest", Repository: repo})

	c, _ := newTestConverter(Config{}, g)
	convertAll(t, c,
		types.NewAWSRecord(&types.AWSVulnerability{
			UID:            "a1",
			RepositoryName: "platform/team/api",
			ImageTags:      []string{unknownSha},
			SLADeadline:    "2024-09-01T00:00:00Z",
			CreatedAt:      "2024-05-01T00:00:00Z",
			Findings:       []types.Finding{{Name: "CVE-1"}},
		}),
		types.NewAWSRecord(&types.AWSVulnerability{UID: "a2", ImageTags: []string{unknownSha}, Findings: []types.Finding{{Name: "CVE-2"}}}),
		types.NewAWSRecord(&types.AWSVulnerability{UID: "a3", RepositoryName: "ghost", ImageTags: []string{unknownSha}, Findings: []types.Finding{{Name: "CVE-3"}}}),
	)

	out, report, err := c.Finalize(context.Background())
	require.NoError(t, err)

	var repoNames []string
	for _, q := range g.Queries() {
		if q.Query == graph.CicdArtifactQueryByRepoName {
			repoNames = append(repoNames, q.Variables["repoNames"].([]string)...)
		}
	}
	assert.Equal(t, []string{"api", "ghost"}, repoNames)

	assocs := recordsOf[types.ArtifactVulnerability](out, types.ModelCicdArtifactVulnerability)
	require.Len(t, assocs, 1)
	assert.Equal(t, "newest", assocs[0].Artifact.UID)
	assert.Equal(t, "a1", assocs[0].Vulnerability.UID)
	assert.Equal(t, "2024-09-01T00:00:00Z", assocs[0].DueAt)
	assert.Equal(t, "2024-05-01T00:00:00Z", assocs[0].AcknowledgedAt)
	assert.Nil(t, assocs[0].Status)

	assert.Equal(t, 1, report.VulnerabilitiesMissingRepositoryName)
	assert.Equal(t, 1, report.VulnerabilitiesMissingCICDArtifacts)
}

func TestFinalizeDeduplicatesSynthesizedEntities(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	c, _ := newTestConverter(Config{}, g)
	convertAll(t, c,
		types.NewAWSRecord(&types.AWSVulnerability{UID: "a1", RepositoryName: "worker", ImageTags: []string{"latest"}, Findings: []types.Finding{{Name: "CVE-1"}}}),
		types.NewAWSRecord(&types.AWSVulnerability{UID: "a2", RepositoryName: "worker", ImageTags: []string{"latest"}, Findings: []types.Finding{{Name: "CVE-2"}}}),
	)

	out, _, err := c.Finalize(context.Background())
	require.NoError(t, err)

	assert.Len(t, recordsOf[types.CicdArtifactKey](out, types.ModelCicdArtifact), 1)
	assert.Len(t, recordsOf[types.CicdRepoKey](out, types.ModelCicdRepository), 1)
	assert.Len(t, recordsOf[types.ArtifactVulnerability](out, types.ModelCicdArtifactVulnerability), 2)
}

func TestFinalizeSkipsReconciliationByDefault(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	g.AddArtifactVulnerability("gone")

	c, _ := newTestConverter(Config{}, g)
	_, report, err := c.Finalize(context.Background())
	require.NoError(t, err)

	assert.Empty(t, g.Mutations())
	assert.Equal(t, 0, report.ResolvedCICDVulns)
	assert.Equal(t, 0, countQueries(g, graph.CicdArtifactVulnerabilityQuery))
}

func TestFinalizeResolvesMissingAWSVulnerability(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	goneID := g.AddArtifactVulnerability("gone")
	stillID := g.AddArtifactVulnerability("still")
	v2ID := g.AddArtifactVulnerability("still-v2")

	c, sleeper := newTestConverter(Config{UpdateExistingVulnerabilities: true}, g)
	convertAll(t, c,
		types.NewAWSRecord(&types.AWSVulnerability{UID: "still", ImageTags: []string{"latest"}, Findings: []types.Finding{{Name: "CVE-1"}}}),
		types.NewAWSV2Record(&types.AWSV2Vulnerability{UID: "still-v2"}),
	)

	_, report, err := c.Finalize(context.Background())
	require.NoError(t, err)

	mutations := g.Mutations()
	require.Len(t, mutations, 1)
	assert.Contains(t, mutations[0], goneID)
	assert.NotContains(t, mutations[0], stillID)
	assert.NotContains(t, mutations[0], v2ID)
	assert.Contains(t, mutations[0], "update0: update_cicd_ArtifactVulnerability")

	resolvedAt, ok := g.Resolved(goneID)
	assert.True(t, ok)
	assert.Equal(t, testResolved, resolvedAt)
	_, ok = g.Resolved(stillID)
	assert.False(t, ok)

	assert.Equal(t, 1, report.ResolvedCICDVulns)
	assert.Equal(t, 0, report.ResolvedVCSVulns)
	assert.Empty(t, sleeper.calls)
}

func TestFinalizeResolvesInBatches(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	for i := 0; i < 25; i++ {
		g.AddRepositoryVulnerability("stale")
	}

	c, sleeper := newTestConverter(Config{UpdateExistingVulnerabilities: true, PageSize: 10}, g)
	_, report, err := c.Finalize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, countQueries(g, graph.VcsRepositoryVulnerabilityQuery))

	mutations := g.Mutations()
	require.Len(t, mutations, 3)
	assert.Equal(t, 10, strings.Count(mutations[0], "update_vcs_RepositoryVulnerability"))
	assert.Equal(t, 10, strings.Count(mutations[1], "update_vcs_RepositoryVulnerability"))
	assert.Equal(t, 5, strings.Count(mutations[2], "update_vcs_RepositoryVulnerability"))
	assert.Contains(t, mutations[2], "update20: ")
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.calls)
	assert.Equal(t, 25, report.ResolvedVCSVulns)
	assert.Equal(t, 7, report.FarosRequests)
}

func TestNewConverterMutationPause(t *testing.T) {
	tests := []struct {
		name     string
		pause    time.Duration
		expected time.Duration
	}{
		{name: "zero uses the default", pause: 0, expected: DefaultMutationPause},
		{name: "negative disables", pause: -1, expected: 0},
		{name: "explicit value kept", pause: 250 * time.Millisecond, expected: 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConverter(Config{MutationPause: tt.pause}, nil, newTestLogger())
			assert.Equal(t, tt.expected, c.config.MutationPause)
		})
	}
}

func TestFinalizeResolvesWithoutPauseWhenDisabled(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	for i := 0; i < 11; i++ {
		g.AddArtifactVulnerability("stale")
	}

	c, sleeper := newTestConverter(Config{UpdateExistingVulnerabilities: true, MutationPause: -1}, g)
	_, report, err := c.Finalize(context.Background())
	require.NoError(t, err)

	assert.Len(t, g.Mutations(), 2)
	assert.Equal(t, []time.Duration{0}, sleeper.calls)
	assert.Equal(t, 11, report.ResolvedCICDVulns)
}

func TestFinalizeReconcileMissingResponseKey(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	g.OmitKeys[graph.KeyCicdArtifactVulnerability] = true

	c, _ := newTestConverter(Config{UpdateExistingVulnerabilities: true}, g)
	_, _, err := c.Finalize(context.Background())
	assert.True(t, errors.Is(err, ErrMissingResponseKey))
}

// stubClient answers each query text with a canned response
type stubClient struct {
	responses map[string]graph.Response
	mutations []string
}

func (s *stubClient) Query(_ context.Context, _, query string, _ map[string]any) (graph.Response, error) {
	return s.responses[query], nil
}

func (s *stubClient) Mutate(_ context.Context, _, mutation string) error {
	s.mutations = append(s.mutations, mutation)
	return nil
}

func TestFinalizeReconcileMissingAssociationID(t *testing.T) {
	client := &stubClient{responses: map[string]graph.Response{
		graph.VcsRepositoryVulnerabilityQuery: {graph.KeyVcsRepositoryVulnerability: []byte(`[]`)},
		graph.CicdArtifactVulnerabilityQuery:  {graph.KeyCicdArtifactVulnerability: []byte(`[{"id":"","resolvedAt":null,"vulnerability":{"uid":"x"}}]`)},
	}}

	c, _ := newTestConverter(Config{UpdateExistingVulnerabilities: true}, client)
	_, _, err := c.Finalize(context.Background())
	assert.True(t, errors.Is(err, ErrMissingAssociationID))
	assert.Empty(t, client.mutations)
}

func TestFinalizeReconcileKeepsActiveRowsWithoutID(t *testing.T) {
	client := &stubClient{responses: map[string]graph.Response{
		graph.VcsRepositoryVulnerabilityQuery: {graph.KeyVcsRepositoryVulnerability: []byte(`[{"id":"","resolvedAt":null,"vulnerability":{"uid":"g1"}}]`)},
		graph.CicdArtifactVulnerabilityQuery:  {graph.KeyCicdArtifactVulnerability: []byte(`[]`)},
	}}

	c, _ := newTestConverter(Config{UpdateExistingVulnerabilities: true}, client)
	convertAll(t, c, types.NewGitRecord(&types.GitVulnerability{UID: "g1", RepositoryName: "repoA"}))

	_, report, err := c.Finalize(context.Background())
	require.NoError(t, err)
	assert.Empty(t, client.mutations)
	assert.Equal(t, 0, report.ResolvedVCSVulns)
}

func TestFinalizePropagatesQueryErrors(t *testing.T) {
	g := mock.NewGraph(newTestLogger())
	g.QueryErr = errors.New("backend down")

	c, _ := newTestConverter(Config{}, g)
	convertAll(t, c, types.NewGitRecord(&types.GitVulnerability{UID: "g1", RepositoryName: "repoA"}))

	_, _, err := c.Finalize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}
