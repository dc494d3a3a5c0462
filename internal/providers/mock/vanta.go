// ABOUTME: Mock Vanta record source for local testing and development.
// ABOUTME: Generates git, AWS v1 and AWS v2 vulnerabilities for a small fleet of services.

package mock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/providers/cluster"
	"github.com/DaYuM/airbyte-connectors/internal/types"
)

// OrgName is the organization every generated repository belongs to
const OrgName = "faros-ai"

// recordNamespace makes generated uids stable across runs
var recordNamespace = uuid.MustParse("0b6f2d55-6a43-4c61-9d31-7f1e0c3b8a90")

// Service is one generated workload. CommitSha is the image tag ECR builds carry, empty when the image is tagged by version only.
type Service struct {
	Repository string
	CommitSha  string
	Version    string
	Profile    string
}

// Services lists the generated fleet
var Services = []Service{
	{Repository: "web-frontend", CommitSha: "3f2c9a1b7d4e5f60718293a4b5c6d7e8f9012345", Version: "v1.2.3", Profile: "web"},
	{Repository: "payments-api", CommitSha: "8d1e4c7a09b2f35e6d7c8b9a0f1e2d3c4b5a6978", Version: "v2.1.0", Profile: "api"},
	{Repository: "orders-db", CommitSha: "", Version: "14.9", Profile: "database"},
}

type advisory struct {
	cve         string
	ghsa        string
	severity    string // AWS v2 scale: LOW, MEDIUM, HIGH, CRITICAL
	title       string
	description string
}

var profiles = map[string][]advisory{
	"web": {
		{cve: "CVE-2024-6387", ghsa: "GHSA-2x8c-95vh-gfv4", severity: "HIGH", title: "openssh: regreSSHion signal handler race", description: "A signal handler race condition in sshd allows unauthenticated remote code execution."},
		{cve: "CVE-2024-2961", severity: "HIGH", title: "glibc: iconv out of bounds write", description: "The iconv() function may overflow the output buffer by up to 4 bytes."},
	},
	"api": {
		{cve: "CVE-2024-35195", ghsa: "GHSA-9wx4-h78v-vm56", severity: "MEDIUM", title: "requests: session verify=False persists", description: "Requests Session objects keep skipping certificate verification after a verify=False request."},
		{cve: "CVE-2024-6232", severity: "LOW", title: "python: tarfile header parsing ReDoS", description: "Regular expressions used while parsing tar headers allow a ReDoS."},
	},
	"database": {
		{cve: "CVE-2024-3094", severity: "CRITICAL", title: "xz: malicious code in liblzma", description: "Malicious code was discovered in the upstream xz tarballs starting with 5.6.0."},
		{cve: "CVE-2024-0727", severity: "LOW", title: "openssl: PKCS12 NULL dereference", description: "Processing a maliciously formatted PKCS12 file may crash OpenSSL."},
	},
}

// MockSource implements RecordSource with generated data
type MockSource struct {
	now     func() time.Time
	cluster cluster.Discoverer
	logger  *logrus.Logger
}

// NewMockSource creates a new mock record source
func NewMockSource(logger *logrus.Logger) *MockSource {
	return &MockSource{
		now:    time.Now,
		logger: logger,
	}
}

// WithClusterScope drops AWS records of images no workload found by d runs. Git records are kept.
func (m *MockSource) WithClusterScope(d cluster.Discoverer) *MockSource {
	m.cluster = d
	return m
}

// Name returns the source name
func (m *MockSource) Name() string {
	return "mock"
}

// ReadRecords generates one git record per advisory, one AWS v1 record per image
// and one AWS v2 record per advisory and image. The first v2 record of the web image
// reuses that image's v1 uid so the AWS merge has an overlap to drop.
func (m *MockSource) ReadRecords(ctx context.Context) ([]types.InputRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var scope *cluster.Scope
	if m.cluster != nil {
		images, err := m.cluster.DiscoverImages(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to discover images from %s: %w", m.cluster.Name(), err)
		}
		scope = cluster.NewScope(images)
	}

	now := m.now().UTC()
	created := now.Add(-72 * time.Hour).Format(time.RFC3339)
	due := now.Add(14 * 24 * time.Hour).Format(time.RFC3339)

	var records []types.InputRecord
	for _, svc := range Services {
		findings := profiles[svc.Profile]

		for _, adv := range findings {
			records = append(records, types.NewGitRecord(m.gitVulnerability(svc, adv, created, due)))
		}

		v1 := m.awsVulnerability(svc, findings, created, due)
		if scope != nil && !scope.Running(svc.Repository, v1.ImageTags, "") {
			continue
		}
		records = append(records, types.NewAWSRecord(v1))

		for i, adv := range findings {
			v2 := m.awsV2Vulnerability(svc, adv, created, due)
			if i == 0 && svc.Profile == "web" {
				v2.UID = v1.UID
			}
			// risk accepted on the database image
			if svc.Profile == "database" && adv.severity == "LOW" {
				v2.Ignored = &types.Ignored{IgnoreReason: "ACCEPTED_RISK", IgnoredUntil: due}
			}
			records = append(records, types.NewAWSV2Record(v2))
		}
	}

	m.logger.WithFields(logrus.Fields{
		"services":      len(Services),
		"record_count":  len(records),
		"cluster_scope": scope != nil,
	}).Info("Generated mock Vanta records")
	return records, nil
}

func stableID(parts ...string) string {
	return uuid.NewSHA1(recordNamespace, []byte(strings.Join(parts, "/"))).String()
}

func (s Service) tags() []string {
	if s.CommitSha == "" {
		return []string{s.Version}
	}
	return []string{s.Version, s.CommitSha}
}

func (m *MockSource) gitVulnerability(svc Service, adv advisory, created, due string) *types.GitVulnerability {
	id := stableID("git", svc.Repository, adv.cve)
	return &types.GitVulnerability{
		ID:             id,
		UID:            id,
		DisplayName:    adv.title,
		Severity:       gitSeverity(adv.severity),
		RepositoryName: svc.Repository,
		SecurityAdvisory: &types.SecurityAdvisory{
			CveID:       adv.cve,
			GhsaID:      adv.ghsa,
			Description: adv.description,
		},
		SLADeadline: due,
		CreatedAt:   created,
		ExternalURL: fmt.Sprintf("https://github.com/%s/%s/security/dependabot", OrgName, svc.Repository),
	}
}

func (m *MockSource) awsVulnerability(svc Service, findings []advisory, created, due string) *types.AWSVulnerability {
	id := stableID("aws", svc.Repository, svc.Version)
	v := &types.AWSVulnerability{
		ID:             id,
		UID:            id,
		DisplayName:    fmt.Sprintf("%s:%s", svc.Repository, svc.Version),
		RepositoryName: svc.Repository,
		ImageTags:      svc.tags(),
		SLADeadline:    due,
		CreatedAt:      created,
		ExternalURL:    fmt.Sprintf("https://console.aws.amazon.com/ecr/repositories/private/123456789012/%s", svc.Repository),
	}
	for _, adv := range findings {
		v.Findings = append(v.Findings, types.Finding{
			Name:        adv.cve + " " + adv.title,
			Description: adv.description,
			URI:         "https://nvd.nist.gov/vuln/detail/" + adv.cve,
			Severity:    adv.severity,
		})
		if severityRank[adv.severity] > severityRank[v.Severity] {
			v.Severity = adv.severity
		}
	}
	return v
}

func (m *MockSource) awsV2Vulnerability(svc Service, adv advisory, created, due string) *types.AWSV2Vulnerability {
	id := stableID("awsv2", svc.Repository, svc.Version, adv.cve)
	return &types.AWSV2Vulnerability{
		ID:                      id,
		UID:                     id,
		DisplayName:             adv.cve,
		Description:             adv.description,
		Severity:                adv.severity,
		ExternalVulnerabilityID: adv.cve,
		Asset:                   &types.Asset{DisplayName: svc.Repository},
		ImageDigest:             "sha256:" + stableDigest(svc.Repository, svc.Version),
		ImageTags:               svc.tags(),
		RelatedURLs:             []string{"https://nvd.nist.gov/vuln/detail/" + adv.cve},
		RemediateBy:             due,
		CreatedAt:               created,
	}
}

var severityRank = map[string]int{"LOW": 1, "MEDIUM": 2, "HIGH": 3, "CRITICAL": 4}

// gitSeverity renders the dependabot style lower case severity
func gitSeverity(s string) string {
	switch s {
	case "CRITICAL":
		return "critical"
	case "HIGH":
		return "high"
	case "MEDIUM":
		return "moderate"
	}
	return "low"
}

func stableDigest(parts ...string) string {
	u := uuid.NewSHA1(recordNamespace, []byte(fmt.Sprint(parts)))
	return fmt.Sprintf("%x%x", u[:], u[:])
}
