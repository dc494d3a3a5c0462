// ABOUTME: In-memory Faros graph used for tests and local runs without API access.
// ABOUTME: Answers the lookup and pagination queries and applies resolvedAt mutations.

package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/DaYuM/airbyte-connectors/internal/graph"
	"github.com/DaYuM/airbyte-connectors/internal/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Association is a stored vcs_RepositoryVulnerability or cicd_ArtifactVulnerability row
type Association struct {
	ID               string
	VulnerabilityUID string
	ResolvedAt       string
}

// QueryCall records one Query invocation
type QueryCall struct {
	Graph     string
	Query     string
	Variables map[string]any
}

// Graph implements graph.Client in memory
type Graph struct {
	mu     sync.Mutex
	logger *logrus.Logger

	repositories []types.VcsRepoKey
	artifacts    []types.CicdArtifactKey // newest first
	repoVulns    []*Association
	artifactVuln []*Association

	queries   []QueryCall
	mutations []string

	// OmitKeys makes responses leave out the given root keys, as a backend with no answer would
	OmitKeys map[string]bool
	// QueryErr, when set, fails every query
	QueryErr error
}

var updatePattern = regexp.MustCompile(`update_(\w+)\(where: \{id: \{_eq: "((?:[^"\\]|\\.)*)"\}\} _set: \{resolvedAt: "((?:[^"\\]|\\.)*)"\}\)`)

// NewGraph creates an empty in-memory graph
func NewGraph(logger *logrus.Logger) *Graph {
	return &Graph{
		logger:   logger,
		OmitKeys: make(map[string]bool),
	}
}

// AddRepository registers an existing vcs_Repository
func (g *Graph) AddRepository(key types.VcsRepoKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.repositories = append(g.repositories, key)
}

// AddArtifact registers an existing cicd_Artifact. Later additions are treated as more recent.
func (g *Graph) AddArtifact(key types.CicdArtifactKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.artifacts = append([]types.CicdArtifactKey{key}, g.artifacts...)
}

// AddRepositoryVulnerability stores an unresolved repository association and returns its id
func (g *Graph) AddRepositoryVulnerability(vulnUID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := uuid.NewString()
	g.repoVulns = append(g.repoVulns, &Association{ID: id, VulnerabilityUID: vulnUID})
	return id
}

// AddArtifactVulnerability stores an unresolved artifact association and returns its id
func (g *Graph) AddArtifactVulnerability(vulnUID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := uuid.NewString()
	g.artifactVuln = append(g.artifactVuln, &Association{ID: id, VulnerabilityUID: vulnUID})
	return id
}

// AddArtifactVulnerabilityWithID stores an unresolved artifact association under a fixed id
func (g *Graph) AddArtifactVulnerabilityWithID(id, vulnUID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.artifactVuln = append(g.artifactVuln, &Association{ID: id, VulnerabilityUID: vulnUID})
}

// Queries returns the queries received so far
func (g *Graph) Queries() []QueryCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]QueryCall(nil), g.queries...)
}

// Mutations returns the mutation documents received so far
func (g *Graph) Mutations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.mutations...)
}

// Resolved returns the resolvedAt of the association with the given id, searching both kinds
func (g *Graph) Resolved(id string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, a := range append(append([]*Association(nil), g.repoVulns...), g.artifactVuln...) {
		if a.ID == id {
			return a.ResolvedAt, a.ResolvedAt != ""
		}
	}
	return "", false
}

// Query implements graph.Client
func (g *Graph) Query(ctx context.Context, graphName, query string, variables map[string]any) (graph.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.queries = append(g.queries, QueryCall{Graph: graphName, Query: query, Variables: variables})
	if g.QueryErr != nil {
		return nil, g.QueryErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := intVar(variables["limit"])
	var key string
	var rows any

	switch query {
	case graph.VcsRepositoryQuery:
		key = graph.KeyVcsRepository
		wanted := toSet(stringsVar(variables["vcsRepoNames"]))
		matched := []types.VcsRepoKey{}
		for _, repo := range g.repositories {
			if wanted[repo.Name] {
				matched = append(matched, repo)
			}
		}
		rows = truncate(matched, limit)
	case graph.CicdArtifactQueryByCommitSha:
		key = graph.KeyCicdArtifact
		wanted := toSet(stringsVar(variables["commitShas"]))
		matched := []types.CicdArtifactKey{}
		for _, artifact := range g.artifacts {
			if wanted[artifact.UID] {
				matched = append(matched, artifact)
			}
		}
		rows = truncate(matched, limit)
	case graph.CicdArtifactQueryByRepoName:
		key = graph.KeyCicdArtifact
		wanted := toSet(stringsVar(variables["repoNames"]))
		seen := make(map[string]bool)
		matched := []types.CicdArtifactKey{}
		for _, artifact := range g.artifacts {
			repo := artifact.Repository.UID
			if wanted[repo] && !seen[repo] {
				seen[repo] = true
				matched = append(matched, artifact)
			}
		}
		rows = truncate(matched, limit)
	case graph.VcsRepositoryVulnerabilityQuery:
		key = graph.KeyVcsRepositoryVulnerability
		rows = page(g.repoVulns, stringVar(variables["id"]), limit)
	case graph.CicdArtifactVulnerabilityQuery:
		key = graph.KeyCicdArtifactVulnerability
		rows = page(g.artifactVuln, stringVar(variables["id"]), limit)
	default:
		return nil, fmt.Errorf("mock graph: unsupported query")
	}

	resp := graph.Response{}
	if g.OmitKeys[key] {
		return resp, nil
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	resp[key] = raw
	return resp, nil
}

// Mutate implements graph.Client
func (g *Graph) Mutate(ctx context.Context, graphName, mutation string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.mutations = append(g.mutations, mutation)
	for _, m := range updatePattern.FindAllStringSubmatch(mutation, -1) {
		var target []*Association
		switch m[1] {
		case graph.KeyVcsRepositoryVulnerability:
			target = g.repoVulns
		case graph.KeyCicdArtifactVulnerability:
			target = g.artifactVuln
		default:
			return fmt.Errorf("mock graph: unsupported update of %s", m[1])
		}
		for _, a := range target {
			if a.ID == m[2] {
				a.ResolvedAt = m[3]
			}
		}
	}
	g.logger.WithField("mutation_bytes", len(mutation)).Debug("Mock graph applied mutation")
	return nil
}

type associationRow struct {
	ID            string  `json:"id"`
	ResolvedAt    *string `json:"resolvedAt"`
	Vulnerability struct {
		UID string `json:"uid"`
	} `json:"vulnerability"`
}

func page(all []*Association, after string, limit int) []associationRow {
	sorted := append([]*Association(nil), all...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	rows := []associationRow{}
	for _, a := range sorted {
		if a.ResolvedAt != "" || a.ID <= after {
			continue
		}
		row := associationRow{ID: a.ID}
		row.Vulnerability.UID = a.VulnerabilityUID
		rows = append(rows, row)
		if limit > 0 && len(rows) == limit {
			break
		}
	}
	return rows
}

func truncate[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func stringsVar(v any) []string {
	switch typed := v.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func stringVar(v any) string {
	s, _ := v.(string)
	return s
}

func intVar(v any) int {
	switch typed := v.(type) {
	case int:
		return typed
	case float64:
		return int(typed)
	}
	return 0
}
