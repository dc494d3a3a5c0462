// ABOUTME: Entity resolution of repositories and artifacts against the graph.
// ABOUTME: Missing repositories and sha-less artifacts get synthesized placeholder entities.

package vanta

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/graph"
	"github.com/DaYuM/airbyte-connectors/internal/types"
)

// artifactTarget pairs a container vulnerability with the artifact it is associated to
type artifactTarget struct {
	vuln     *vulnerability
	artifact types.CicdArtifactKey
}

// resolveRepositories links git vulnerabilities to vcs repositories, creating the ones the graph lacks
func (s *runState) resolveRepositories(ctx context.Context, batchSize int) ([]types.DestinationRecord, error) {
	found, err := runInBatches(ctx, s.gitRepoNames.Items(), batchSize, s.repositoriesByName)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]types.VcsRepoKey, len(found)+s.missedRepositoryNames.Len())
	for _, key := range found {
		byName[key.Name] = key
	}

	var out []types.DestinationRecord
	for _, name := range s.missedRepositoryNames.Items() {
		key := placeholderRepository(name)
		byName[name] = key
		out = append(out, types.DestinationRecord{Model: types.ModelVcsRepository, Record: key})
	}

	for _, name := range s.gitRepoNames.Items() {
		key, ok := byName[name]
		if !ok {
			continue
		}
		for _, uid := range s.gitRepoToUIDs[name] {
			v, ok := s.gitByUID[uid]
			if !ok {
				s.logger.WithField("uid", uid).Debug("Git vulnerability not found for repository uid")
				continue
			}
			out = append(out, repositoryAssociation(key, v, s.source))
		}
	}

	s.logger.WithFields(logrus.Fields{
		"repositories": s.gitRepoNames.Len(),
		"found":        len(found),
		"created":      s.missedRepositoryNames.Len(),
	}).Info("Resolved vcs repositories for git vulnerabilities")
	return out, nil
}

func (s *runState) repositoriesByName(ctx context.Context, names []string) ([]types.VcsRepoKey, error) {
	resp, err := s.query(ctx, graph.VcsRepositoryQuery, map[string]any{
		"vcsRepoNames": names,
		"limit":        len(names),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query vcs repositories: %w", err)
	}
	rows, ok, err := graph.Rows[types.VcsRepoKey](resp, graph.KeyVcsRepository)
	if err != nil {
		return nil, err
	}

	switch {
	case !ok:
		s.logger.WithField("names", len(names)).Debug("No response for vcs repository query")
		for _, name := range names {
			s.noResponseVcs.Add(name)
		}
	case len(rows) == 0:
		s.emptyResultsVcs.Add(strings.Join(names, ","))
	case len(rows) > len(names):
		s.logger.WithFields(logrus.Fields{
			"requested": len(names),
			"returned":  len(rows),
		}).Warn("Vcs repository query returned more rows than requested")
	}

	returned := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		returned[row.Name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := returned[name]; !ok {
			s.missedRepositoryNames.Add(name)
		}
	}
	return rows, nil
}

// resolveArtifactsByCommitSha matches container vulnerabilities to artifacts by the commit sha in their
// image tags. Vulnerabilities without a sha get a synthesized artifact; those whose sha the graph does
// not know are returned as unresolved.
func (s *runState) resolveArtifactsByCommitSha(ctx context.Context, vulns []*vulnerability, batchSize int) ([]artifactTarget, []types.DestinationRecord, []*vulnerability, error) {
	seen := make(map[string]struct{}, len(vulns))
	shas := newStringSet()
	bySha := make(map[string][]*vulnerability)
	var noSha []*vulnerability

	for _, v := range vulns {
		if _, dup := seen[v.uid]; dup {
			title := v.title
			if title == "" {
				title = v.uid
			}
			s.logger.WithField("uid", v.uid).Debug("Duplicate container vulnerability uid")
			s.duplicateAwsV2UIDsAndTitles[uidAndTitle{uid: v.uid, title: title}] = struct{}{}
			continue
		}
		seen[v.uid] = struct{}{}

		sha := commitShaFromTags(v.imageTags())
		if sha == "" {
			noSha = append(noSha, v)
			continue
		}
		shas.Add(sha)
		bySha[sha] = append(bySha[sha], v)
	}

	artifacts, err := runInBatches(ctx, shas.Items(), batchSize, s.artifactsByCommitSha)
	if err != nil {
		return nil, nil, nil, err
	}
	byUID := make(map[string]types.CicdArtifactKey, len(artifacts))
	for _, a := range artifacts {
		if _, ok := byUID[a.UID]; !ok {
			byUID[a.UID] = a
		}
	}

	var targets []artifactTarget
	var unresolved []*vulnerability
	for _, sha := range shas.Items() {
		artifact, ok := byUID[sha]
		for _, v := range bySha[sha] {
			if ok {
				targets = append(targets, artifactTarget{vuln: v, artifact: artifact})
			} else {
				unresolved = append(unresolved, v)
			}
		}
	}

	var created []types.DestinationRecord
	for _, v := range noSha {
		repo, artifact, err := placeholderArtifact(v)
		if err != nil {
			return nil, nil, nil, err
		}
		created = append(created,
			types.DestinationRecord{Model: types.ModelCicdArtifact, Record: artifact},
			types.DestinationRecord{Model: types.ModelCicdRepository, Record: repo},
		)
		targets = append(targets, artifactTarget{vuln: v, artifact: artifact})
	}

	s.logger.WithFields(logrus.Fields{
		"vulnerabilities": len(vulns),
		"commit_shas":     shas.Len(),
		"without_sha":     len(noSha),
		"unresolved":      len(unresolved),
	}).Info("Resolved cicd artifacts by commit sha")
	return targets, created, unresolved, nil
}

func (s *runState) artifactsByCommitSha(ctx context.Context, shas []string) ([]types.CicdArtifactKey, error) {
	resp, err := s.query(ctx, graph.CicdArtifactQueryByCommitSha, map[string]any{
		"commitShas": shas,
		"limit":      len(shas),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query cicd artifacts by commit sha: %w", err)
	}
	rows, ok, err := graph.Rows[types.CicdArtifactKey](resp, graph.KeyCicdArtifact)
	if err != nil {
		return nil, err
	}
	if !ok {
		for _, sha := range shas {
			s.noResponseCicd.Add(sha)
		}
	} else if len(rows) == 0 {
		s.emptyResultsCicd.Add(strings.Join(shas, ","))
	}
	return rows, nil
}

// resolveArtifactsByRepoName falls back to the newest artifact of the vulnerability's repository
func (s *runState) resolveArtifactsByRepoName(ctx context.Context, vulns []*vulnerability, batchSize int) ([]artifactTarget, error) {
	names := newStringSet()
	var pending []*vulnerability
	var pendingNames []string

	for _, v := range vulns {
		if v.origin != types.VulnTypeAWS {
			return nil, fmt.Errorf("%w: %q cannot be resolved by repository name", ErrInvalidVulnType, v.origin)
		}
		if v.aws.RepositoryName == "" {
			s.logger.WithField("uid", v.uid).Debug("Container vulnerability has no repository name")
			s.missingRepositoryNames.Add(v.uid)
			continue
		}
		name := lastPathSegment(v.aws.RepositoryName)
		names.Add(name)
		pending = append(pending, v)
		pendingNames = append(pendingNames, name)
	}

	artifacts, err := runInBatches(ctx, names.Items(), batchSize, s.artifactsByRepoName)
	if err != nil {
		return nil, err
	}
	byRepo := make(map[string]types.CicdArtifactKey, len(artifacts))
	for _, a := range artifacts {
		if _, ok := byRepo[a.Repository.UID]; !ok {
			byRepo[a.Repository.UID] = a
		}
	}

	var targets []artifactTarget
	for i, v := range pending {
		artifact, ok := byRepo[pendingNames[i]]
		if !ok {
			s.missingCICDArtifacts.Add(v.uid)
			continue
		}
		targets = append(targets, artifactTarget{vuln: v, artifact: artifact})
	}

	s.logger.WithFields(logrus.Fields{
		"vulnerabilities": len(vulns),
		"repositories":    names.Len(),
		"resolved":        len(targets),
	}).Info("Resolved cicd artifacts by repository name")
	return targets, nil
}

func (s *runState) artifactsByRepoName(ctx context.Context, names []string) ([]types.CicdArtifactKey, error) {
	resp, err := s.query(ctx, graph.CicdArtifactQueryByRepoName, map[string]any{
		"repoNames": names,
		"limit":     len(names),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query cicd artifacts by repository name: %w", err)
	}
	rows, ok, err := graph.Rows[types.CicdArtifactKey](resp, graph.KeyCicdArtifact)
	if err != nil {
		return nil, err
	}
	if !ok {
		for _, name := range names {
			s.noResponseArtifactName.Add(name)
		}
	} else if len(rows) == 0 {
		s.emptyArtifactName.Add(strings.Join(names, ","))
	}
	return rows, nil
}
