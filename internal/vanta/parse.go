// ABOUTME: Origin parsers turning buffered git, AWS v1 and AWS v2 records into vulnerabilities.
// ABOUTME: Populates the run's identity maps as a side effect.

package vanta

import (
	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/types"
)

// skipMissingID records a raw vulnerability dropped for lacking a uid
func (s *runState) skipMissingID(origin types.VulnType, recordID string) {
	s.missingIDs++
	s.logger.WithFields(logrus.Fields{
		"vuln_type": origin,
		"record_id": recordID,
	}).Debug("Skipping vulnerability without uid")
}

// parseGit maps git records and fills the repository name to uid index
func (s *runState) parseGit(records []*types.GitVulnerability) []*vulnerability {
	var out []*vulnerability
	for _, raw := range records {
		if raw.UID == "" {
			s.skipMissingID(types.VulnTypeGit, raw.ID)
			continue
		}

		cve, ghsa, description := "", "", ""
		if adv := raw.SecurityAdvisory; adv != nil {
			cve, ghsa, description = adv.CveID, adv.GhsaID, adv.Description
		}

		v := &vulnerability{
			uid:         raw.UID,
			title:       raw.DisplayName,
			description: description,
			severity:    raw.Severity,
			discovered:  raw.CreatedAt,
			externalIDs: []string{cve, ghsa},
			origin:      types.VulnTypeGit,
			git:         raw,
		}
		s.gitByUID[raw.UID] = v

		if raw.RepositoryName == "" {
			s.missingRepositoryNames.Add(raw.UID)
		} else {
			s.gitRepoNames.Add(raw.RepositoryName)
			s.gitRepoToUIDs[raw.RepositoryName] = append(s.gitRepoToUIDs[raw.RepositoryName], raw.UID)
		}
		out = append(out, v)
	}
	return out
}

// parseAWS fans every v1 record out into one vulnerability per finding.
// The uid map keeps the copy built from the last finding.
func (s *runState) parseAWS(records []*types.AWSVulnerability) []*vulnerability {
	var out []*vulnerability
	for _, raw := range records {
		if raw.UID == "" {
			s.skipMissingID(types.VulnTypeAWS, raw.ID)
			continue
		}

		for _, finding := range raw.Findings {
			description := finding.Description
			if description == "" {
				description = noDescription
			}
			v := &vulnerability{
				uid:         raw.UID,
				title:       raw.DisplayName,
				description: description,
				severity:    raw.Severity,
				url:         finding.URI,
				discovered:  raw.CreatedAt,
				externalIDs: []string{firstToken(finding.Name)},
				origin:      types.VulnTypeAWS,
				aws:         raw,
			}
			s.awsUIDs.Add(raw.UID)
			s.awsByUID[raw.UID] = v
			out = append(out, v)
		}
	}
	return out
}

func (s *runState) parseAWSV2(records []*types.AWSV2Vulnerability) []*vulnerability {
	var out []*vulnerability
	for _, raw := range records {
		if raw.UID == "" {
			s.skipMissingID(types.VulnTypeAWSV2, raw.ID)
			continue
		}

		url := ""
		if len(raw.RelatedURLs) > 0 {
			url = raw.RelatedURLs[0]
		}
		v := &vulnerability{
			uid:         raw.UID,
			title:       raw.DisplayName,
			description: raw.Description,
			severity:    severityFromAWSV2(raw.Severity),
			url:         url,
			discovered:  raw.CreatedAt,
			externalIDs: []string{raw.ExternalVulnerabilityID},
			origin:      types.VulnTypeAWSV2,
			awsV2:       raw,
		}
		if _, seen := s.awsV2ByUID[raw.UID]; !seen {
			s.awsV2ByUID[raw.UID] = v
		}
		out = append(out, v)
	}
	return out
}
