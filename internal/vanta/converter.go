// ABOUTME: Vanta vulnerabilities converter: buffers intake records and runs the finalization pipeline.
// ABOUTME: Finalize parses, merges, resolves, associates, reconciles and deduplicates in one pass.

package vanta

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/graph"
	"github.com/DaYuM/airbyte-connectors/internal/types"
)

// DefaultMaxRecords caps intake unless configured otherwise
const DefaultMaxRecords = 100

// Config controls intake limits and the optional reconciliation stage
type Config struct {
	Source                        string
	Graph                         string
	MaxRecords                    int // <= 0 disables the cap
	FilterLastNDays               int // <= 0 disables the filter
	UpdateExistingVulnerabilities bool
	BatchSize                     int
	PageSize                      int
	MutationBatchSize             int
	MutationPause                 time.Duration // 0 uses the default, < 0 disables the pause
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Source:            DefaultSource,
		Graph:             "default",
		MaxRecords:        DefaultMaxRecords,
		BatchSize:         DefaultBatchSize,
		PageSize:          DefaultPageSize,
		MutationBatchSize: DefaultMutationBatchSize,
		MutationPause:     DefaultMutationPause,
	}
}

// Option customizes a Converter
type Option func(*Converter)

// WithClock replaces the wall clock used for filtering and resolvedAt stamps
func WithClock(now func() time.Time) Option {
	return func(c *Converter) { c.now = now }
}

// WithSleeper replaces the pause between mutation batches
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Converter) { c.sleep = sleep }
}

// Converter buffers raw records per origin until Finalize
type Converter struct {
	config Config
	client graph.Client
	logger *logrus.Logger
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error

	git      []*types.GitVulnerability
	aws      []*types.AWSVulnerability
	awsV2    []*types.AWSV2Vulnerability
	accepted int
	ignored  int
}

// NewConverter creates a converter. client may be nil, in which case Finalize fails after parsing.
func NewConverter(config Config, client graph.Client, logger *logrus.Logger, opts ...Option) *Converter {
	defaults := DefaultConfig()
	if config.Source == "" {
		config.Source = defaults.Source
	}
	if config.Graph == "" {
		config.Graph = defaults.Graph
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.MutationBatchSize <= 0 {
		config.MutationBatchSize = defaults.MutationBatchSize
	}
	switch {
	case config.MutationPause == 0:
		config.MutationPause = defaults.MutationPause
	case config.MutationPause < 0:
		config.MutationPause = 0
	}

	c := &Converter{
		config: config,
		client: client,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DestinationModels lists every model Finalize can emit
func (c *Converter) DestinationModels() []types.DestinationModel {
	return types.DestinationModels()
}

// ID returns the Vanta id of the record's vuln_data
func (c *Converter) ID(record types.InputRecord) string {
	return record.ID()
}

// Convert buffers one record. It never emits records itself; everything is produced by Finalize.
func (c *Converter) Convert(record types.InputRecord) ([]types.DestinationRecord, error) {
	if c.config.MaxRecords > 0 && c.accepted >= c.config.MaxRecords {
		c.ignored++
		return nil, nil
	}
	if c.tooOld(record) {
		c.ignored++
		return nil, nil
	}

	switch {
	case record.Type == types.VulnTypeGit && record.Git != nil:
		c.git = append(c.git, record.Git)
	case record.Type == types.VulnTypeAWS && record.AWS != nil:
		c.aws = append(c.aws, record.AWS)
	case record.Type == types.VulnTypeAWSV2 && record.AWSV2 != nil:
		c.awsV2 = append(c.awsV2, record.AWSV2)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidVulnType, record.Type)
	}
	c.accepted++
	return nil, nil
}

// tooOld reports whether record was created before the filter window. Undated records always pass.
func (c *Converter) tooOld(record types.InputRecord) bool {
	if c.config.FilterLastNDays <= 0 {
		return false
	}
	created := record.CreatedAt()
	if created == "" {
		return false
	}
	at, err := time.Parse(time.RFC3339, created)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"id":         record.ID(),
			"created_at": created,
		}).Debug("Unparseable createdAt, keeping record")
		return false
	}
	cutoff := c.now().AddDate(0, 0, -c.config.FilterLastNDays)
	return at.Before(cutoff)
}

// Buffered returns the number of records waiting for Finalize
func (c *Converter) Buffered() int {
	return len(c.git) + len(c.aws) + len(c.awsV2)
}

// Finalize runs the whole pipeline over the buffered records and resets the buffers
func (c *Converter) Finalize(ctx context.Context) ([]types.DestinationRecord, *Report, error) {
	logger := c.logger.WithField("operation", "finalize")
	state := newRunState(c.config.Source, c.config.Graph, c.client, c.logger)
	defer c.reset()

	logger.WithFields(logrus.Fields{
		"git":     len(c.git),
		"aws":     len(c.aws),
		"awsv2":   len(c.awsV2),
		"ignored": c.ignored,
	}).Info("Processing buffered Vanta vulnerabilities")

	gitVulns := state.parseGit(c.git)
	awsVulns := state.parseAWS(c.aws)
	awsV2Vulns := state.parseAWSV2(c.awsV2)
	combined := state.combineAWS(awsVulns, awsV2Vulns)

	var records []types.DestinationRecord
	for _, v := range append(gitVulns, combined...) {
		entity, err := v.entity(state.source)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, types.DestinationRecord{Model: types.ModelSecVulnerability, Record: entity})
	}

	if c.client == nil {
		return nil, nil, ErrNoGraphClient
	}

	vcs, err := state.resolveRepositories(ctx, c.config.BatchSize)
	if err != nil {
		return nil, nil, err
	}
	records = append(records, vcs...)

	cicd, err := c.resolveArtifacts(ctx, state, awsV2Vulns)
	if err != nil {
		return nil, nil, err
	}
	records = append(records, cicd...)

	if c.config.UpdateExistingVulnerabilities {
		r := &reconciler{
			state:     state,
			pageSize:  c.config.PageSize,
			batchSize: c.config.MutationBatchSize,
			pause:     c.config.MutationPause,
			now:       c.now,
			sleep:     c.sleep,
		}
		if err := r.run(ctx); err != nil {
			return nil, nil, err
		}
	} else {
		logger.Info("Skipping update of existing vulnerabilities")
	}

	out, err := dedupRecords(records)
	if err != nil {
		return nil, nil, err
	}

	report := state.report()
	report.RecordsIn = len(c.git) + len(c.aws) + len(c.awsV2)
	report.RecordsOut = len(out)
	logger.WithFields(report.Fields()).Info("Vulnerabilities converter report")
	return out, report, nil
}

// resolveArtifacts associates AWS v2 then AWS v1 vulnerabilities with cicd artifacts
func (c *Converter) resolveArtifacts(ctx context.Context, state *runState, awsV2Vulns []*vulnerability) ([]types.DestinationRecord, error) {
	v2Targets, v2Created, v2Unresolved, err := state.resolveArtifactsByCommitSha(ctx, awsV2Vulns, c.config.BatchSize)
	if err != nil {
		return nil, err
	}
	for _, v := range v2Unresolved {
		state.missingCICDArtifacts.Add(v.uid)
	}

	v1Targets, v1Created, v1Unresolved, err := state.resolveArtifactsByCommitSha(ctx, state.awsV1Vulnerabilities(), c.config.BatchSize)
	if err != nil {
		return nil, err
	}
	byName, err := state.resolveArtifactsByRepoName(ctx, v1Unresolved, c.config.BatchSize)
	if err != nil {
		return nil, err
	}

	records := append(v2Created, v1Created...)
	for _, targets := range [][]artifactTarget{v2Targets, v1Targets, byName} {
		for _, t := range targets {
			record, err := artifactAssociation(t, state.source)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
	}
	return records, nil
}

func (c *Converter) reset() {
	c.git = nil
	c.aws = nil
	c.awsV2 = nil
	c.accepted = 0
	c.ignored = 0
}
