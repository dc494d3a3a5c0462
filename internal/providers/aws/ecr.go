// ABOUTME: AWS ECR record source rendering image scan findings as Vanta AWS v1 vulnerabilities.
// ABOUTME: Handles cross-account role assumption and paging through repositories, images and findings.

package aws

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/providers/cluster"
	"github.com/DaYuM/airbyte-connectors/internal/types"
)

// ecrAPI is the subset of the ECR client the source pages through
type ecrAPI interface {
	ecr.DescribeRepositoriesAPIClient
	ecr.DescribeImagesAPIClient
	ecr.DescribeImageScanFindingsAPIClient
}

var severityRank = map[string]int{
	"INFORMATIONAL": 1,
	"LOW":           2,
	"MEDIUM":        3,
	"HIGH":          4,
	"CRITICAL":      5,
}

// ECRSource implements RecordSource for Amazon ECR
type ECRSource struct {
	client       ecrAPI
	accountID    string
	region       string
	repositories []string // empty means every repository in the registry
	cluster      cluster.Discoverer
	logger       *logrus.Logger
}

// NewECRSource creates a new ECR record source
func NewECRSource(ctx context.Context, accountID, region string, repositories []string, logger *logrus.Logger) (*ECRSource, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if assumeRoleARN := os.Getenv("AWS_IAM_ASSUME_ROLE_ARN"); assumeRoleARN != "" {
		logger.WithField("role_arn", assumeRoleARN).Info("Assuming role from AWS_IAM_ASSUME_ROLE_ARN environment variable")
		stsClient := sts.NewFromConfig(cfg.Copy())
		cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, assumeRoleARN))
	} else {
		// Assume the reader role when the registry lives in another account
		stsClient := sts.NewFromConfig(cfg.Copy())
		identity, err := stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			logger.WithError(err).Warn("Could not get caller identity, proceeding with default credentials")
		} else {
			currentAccountID := aws.ToString(identity.Account)
			logger.WithFields(logrus.Fields{
				"current_account": currentAccountID,
				"target_account":  accountID,
			}).Info("AWS identity information")

			if currentAccountID != accountID {
				roleARN := fmt.Sprintf("arn:aws:iam::%s:role/VantaSyncECRReadRole", accountID)
				logger.WithField("role_arn", roleARN).Info("Assuming cross-account role")
				cfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, roleARN))
			}
		}
	}

	return newECRSource(ecr.NewFromConfig(cfg), accountID, region, repositories, logger), nil
}

func newECRSource(client ecrAPI, accountID, region string, repositories []string, logger *logrus.Logger) *ECRSource {
	return &ECRSource{
		client:       client,
		accountID:    accountID,
		region:       region,
		repositories: repositories,
		logger:       logger,
	}
}

// WithClusterScope limits the source to images that workloads found by d are running
func (e *ECRSource) WithClusterScope(d cluster.Discoverer) *ECRSource {
	e.cluster = d
	return e
}

// Name returns the record source name
func (e *ECRSource) Name() string {
	return "aws-ecr"
}

func (e *ECRSource) registryHost() string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", e.accountID, e.region)
}

// clusterScope returns nil when the source is not scoped to a cluster
func (e *ECRSource) clusterScope(ctx context.Context) (*cluster.Scope, error) {
	if e.cluster == nil {
		return nil, nil
	}
	images, err := e.cluster.DiscoverImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover images from %s: %w", e.cluster.Name(), err)
	}

	host := e.registryHost()
	inRegistry := images[:0:0]
	for _, img := range images {
		if img.Registry == host {
			inRegistry = append(inRegistry, img)
		}
	}
	e.logger.WithFields(logrus.Fields{
		"discoverer":  e.cluster.Name(),
		"discovered":  len(images),
		"in_registry": len(inRegistry),
	}).Info("Scoping ECR source to running images")
	return cluster.NewScope(inRegistry), nil
}

// ReadRecords emits one AWS v1 vulnerability per scanned image that has findings.
// With a cluster scope only images some workload runs are read.
func (e *ECRSource) ReadRecords(ctx context.Context) ([]types.InputRecord, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"operation":  "read_records_ecr",
		"account_id": e.accountID,
		"region":     e.region,
	})

	scope, err := e.clusterScope(ctx)
	if err != nil {
		return nil, err
	}

	repositories, err := e.listRepositories(ctx)
	if err != nil {
		return nil, err
	}

	var records []types.InputRecord
	for _, repo := range repositories {
		if scope != nil && !scope.HasRepository(repo) {
			logger.WithField("repository", repo).Debug("Skipping repository without running workloads")
			continue
		}
		images, err := e.listScannedImages(ctx, repo)
		if err != nil {
			return nil, err
		}
		for _, image := range images {
			if scope != nil && !scope.Running(repo, image.ImageTags, aws.ToString(image.ImageDigest)) {
				continue
			}
			vuln, err := e.imageVulnerability(ctx, repo, image)
			if err != nil {
				return nil, err
			}
			if vuln == nil {
				continue
			}
			records = append(records, types.NewAWSRecord(vuln))
		}
	}

	logger.WithFields(logrus.Fields{
		"repositories": len(repositories),
		"record_count": len(records),
	}).Info("Read ECR image scan findings")
	return records, nil
}

func (e *ECRSource) listRepositories(ctx context.Context) ([]string, error) {
	input := &ecr.DescribeRepositoriesInput{RegistryId: aws.String(e.accountID)}
	if len(e.repositories) > 0 {
		input.RepositoryNames = e.repositories
	}

	var names []string
	paginator := ecr.NewDescribeRepositoriesPaginator(e.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe ECR repositories: %w", err)
		}
		for _, repo := range page.Repositories {
			names = append(names, aws.ToString(repo.RepositoryName))
		}
	}
	return names, nil
}

func (e *ECRSource) listScannedImages(ctx context.Context, repo string) ([]ecrtypes.ImageDetail, error) {
	var images []ecrtypes.ImageDetail
	paginator := ecr.NewDescribeImagesPaginator(e.client, &ecr.DescribeImagesInput{
		RegistryId:     aws.String(e.accountID),
		RepositoryName: aws.String(repo),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe images of repository '%s': %w", repo, err)
		}
		for _, image := range page.ImageDetails {
			if image.ImageScanStatus == nil {
				continue
			}
			switch image.ImageScanStatus.Status {
			case ecrtypes.ScanStatusComplete, ecrtypes.ScanStatusActive:
				images = append(images, image)
			default:
				e.logger.WithFields(logrus.Fields{
					"repository":  repo,
					"digest":      aws.ToString(image.ImageDigest),
					"scan_status": image.ImageScanStatus.Status,
				}).Debug("Skipping image without a completed scan")
			}
		}
	}
	return images, nil
}

// imageVulnerability returns nil when the scan has no findings
func (e *ECRSource) imageVulnerability(ctx context.Context, repo string, image ecrtypes.ImageDetail) (*types.AWSVulnerability, error) {
	digest := aws.ToString(image.ImageDigest)
	logger := e.logger.WithFields(logrus.Fields{
		"repository": repo,
		"digest":     digest,
	})

	var findings []types.Finding
	paginator := ecr.NewDescribeImageScanFindingsPaginator(e.client, &ecr.DescribeImageScanFindingsInput{
		RegistryId:     aws.String(e.accountID),
		RepositoryName: aws.String(repo),
		ImageId:        &ecrtypes.ImageIdentifier{ImageDigest: aws.String(digest)},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe scan findings of '%s@%s': %w", repo, digest, err)
		}
		if page.ImageScanFindings == nil {
			continue
		}
		for _, f := range page.ImageScanFindings.Findings {
			findings = append(findings, basicFinding(f))
		}
		for _, f := range page.ImageScanFindings.EnhancedFindings {
			findings = append(findings, enhancedFinding(f))
		}
	}
	if len(findings) == 0 {
		logger.Debug("Image scan has no findings")
		return nil, nil
	}

	uid := repo + "@" + digest
	displayName := repo
	if len(image.ImageTags) > 0 {
		displayName = repo + ":" + image.ImageTags[0]
	}
	v := &types.AWSVulnerability{
		ID:             uid,
		UID:            uid,
		DisplayName:    displayName,
		Severity:       highestSeverity(findings),
		RepositoryName: repo,
		ImageTags:      image.ImageTags,
		Findings:       findings,
		ExternalURL: fmt.Sprintf("https://%s.console.aws.amazon.com/ecr/repositories/private/%s/%s/_/image/%s/details?region=%s",
			e.region, e.accountID, repo, digest, e.region),
	}
	if image.ImagePushedAt != nil {
		v.CreatedAt = image.ImagePushedAt.UTC().Format(time.RFC3339)
	}

	logger.WithFields(logrus.Fields{
		"findings": len(findings),
		"severity": v.Severity,
	}).Debug("Rendered image scan findings")
	return v, nil
}

func basicFinding(f ecrtypes.ImageScanFinding) types.Finding {
	return types.Finding{
		Name:        aws.ToString(f.Name),
		Description: aws.ToString(f.Description),
		URI:         aws.ToString(f.Uri),
		Severity:    string(f.Severity),
	}
}

// enhancedFinding renders an Inspector finding. The name leads with the vulnerability id so
// the first token is the CVE like in basic scanning.
func enhancedFinding(f ecrtypes.EnhancedImageScanFinding) types.Finding {
	finding := types.Finding{
		Name:        aws.ToString(f.Title),
		Description: aws.ToString(f.Description),
		Severity:    aws.ToString(f.Severity),
	}
	if details := f.PackageVulnerabilityDetails; details != nil {
		if id := aws.ToString(details.VulnerabilityId); id != "" && !strings.HasPrefix(finding.Name, id) {
			finding.Name = strings.TrimSpace(id + " " + finding.Name)
		}
		finding.URI = aws.ToString(details.SourceUrl)
	}
	return finding
}

func highestSeverity(findings []types.Finding) string {
	highest := ""
	for _, f := range findings {
		if severityRank[f.Severity] > severityRank[highest] {
			highest = f.Severity
		}
	}
	return highest
}
