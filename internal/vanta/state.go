// ABOUTME: Per-run accumulator threaded through the finalization stages.
// ABOUTME: Holds identity maps, diagnostic sets and the graph request counter.

package vanta

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/graph"
)

// stringSet is an insertion-ordered set so batches and reports stay deterministic
type stringSet struct {
	index map[string]struct{}
	items []string
}

func newStringSet() *stringSet {
	return &stringSet{index: make(map[string]struct{})}
}

// Add inserts v and reports whether it was new
func (s *stringSet) Add(v string) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

func (s *stringSet) Has(v string) bool {
	_, ok := s.index[v]
	return ok
}

func (s *stringSet) Len() int {
	return len(s.items)
}

func (s *stringSet) Items() []string {
	return s.items
}

type uidAndTitle struct {
	uid   string
	title string
}

// runState is created at the start of Finalize and discarded when it returns
type runState struct {
	source    string
	graphName string
	client    graph.Client
	logger    *logrus.Logger

	// git origin
	gitRepoNames  *stringSet
	gitRepoToUIDs map[string][]string
	gitByUID      map[string]*vulnerability

	// aws origins
	awsUIDs    *stringSet
	awsByUID   map[string]*vulnerability
	awsV2ByUID map[string]*vulnerability

	missingIDs                  int
	duplicateAwsUIDs            *stringSet
	duplicateAwsV2UIDsAndTitles map[uidAndTitle]struct{}
	missingRepositoryNames      *stringSet
	missingCICDArtifacts        *stringSet

	noResponseVcs          *stringSet
	emptyResultsVcs        *stringSet
	noResponseCicd         *stringSet
	emptyResultsCicd       *stringSet
	noResponseArtifactName *stringSet
	emptyArtifactName      *stringSet
	missedRepositoryNames  *stringSet

	requests     int
	resolvedVCS  int
	resolvedCICD int
}

func newRunState(source, graphName string, client graph.Client, logger *logrus.Logger) *runState {
	return &runState{
		source:                      source,
		graphName:                   graphName,
		client:                      client,
		logger:                      logger,
		gitRepoNames:                newStringSet(),
		gitRepoToUIDs:               make(map[string][]string),
		gitByUID:                    make(map[string]*vulnerability),
		awsUIDs:                     newStringSet(),
		awsByUID:                    make(map[string]*vulnerability),
		awsV2ByUID:                  make(map[string]*vulnerability),
		duplicateAwsUIDs:            newStringSet(),
		duplicateAwsV2UIDsAndTitles: make(map[uidAndTitle]struct{}),
		missingRepositoryNames:      newStringSet(),
		missingCICDArtifacts:        newStringSet(),
		noResponseVcs:               newStringSet(),
		emptyResultsVcs:             newStringSet(),
		noResponseCicd:              newStringSet(),
		emptyResultsCicd:            newStringSet(),
		noResponseArtifactName:      newStringSet(),
		emptyArtifactName:           newStringSet(),
		missedRepositoryNames:       newStringSet(),
	}
}

// query forwards to the graph client and counts the round trip
func (s *runState) query(ctx context.Context, query string, variables map[string]any) (graph.Response, error) {
	s.requests++
	return s.client.Query(ctx, s.graphName, query, variables)
}

func (s *runState) mutate(ctx context.Context, mutation string) error {
	s.requests++
	return s.client.Mutate(ctx, s.graphName, mutation)
}

// activeAWSUIDs is every AWS uid observed in this run, across both schemas
func (s *runState) activeAWSUIDs() map[string]struct{} {
	active := make(map[string]struct{}, len(s.awsByUID)+len(s.awsV2ByUID))
	for uid := range s.awsByUID {
		active[uid] = struct{}{}
	}
	for uid := range s.awsV2ByUID {
		active[uid] = struct{}{}
	}
	return active
}

func (s *runState) activeGitUIDs() map[string]struct{} {
	active := make(map[string]struct{}, len(s.gitByUID))
	for uid := range s.gitByUID {
		active[uid] = struct{}{}
	}
	return active
}

// awsV1Vulnerabilities returns one v1 vulnerability per uid in first-seen order
func (s *runState) awsV1Vulnerabilities() []*vulnerability {
	out := make([]*vulnerability, 0, s.awsUIDs.Len())
	for _, uid := range s.awsUIDs.Items() {
		out = append(out, s.awsByUID[uid])
	}
	return out
}

func (s *runState) report() *Report {
	return &Report{
		VulnsMissingIDs:                      s.missingIDs,
		DuplicateAwsUIDs:                     s.duplicateAwsUIDs.Len(),
		DuplicateAwsV2UIDsAndTitles:          len(s.duplicateAwsV2UIDsAndTitles),
		VulnerabilitiesMissingRepositoryName: s.missingRepositoryNames.Len(),
		VulnerabilitiesMissingCICDArtifacts:  s.missingCICDArtifacts.Len(),
		NoResponseVcsRepositoryQuery:         s.noResponseVcs.Len(),
		NoResponseCicdArtifactQuery:          s.noResponseCicd.Len(),
		EmptyResultsVcsRepositoryQuery:       s.emptyResultsVcs.Len(),
		EmptyResultsCicdArtifactQuery:        s.emptyResultsCicd.Len(),
		NoResponseAWSArtifactFromName:        s.noResponseArtifactName.Len(),
		EmptyResultsAWSArtifactFromName:      s.emptyArtifactName.Len(),
		MissedRepositoryNames:                s.missedRepositoryNames.Len(),
		FarosRequests:                        s.requests,
		ResolvedVCSVulns:                     s.resolvedVCS,
		ResolvedCICDVulns:                    s.resolvedCICD,
	}
}
