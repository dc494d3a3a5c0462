// ABOUTME: Factory for creating record sources and graph clients.
// ABOUTME: Centralizes source selection, mock wiring and query cache setup.

package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/cache"
	"github.com/DaYuM/airbyte-connectors/internal/graph"
	"github.com/DaYuM/airbyte-connectors/internal/providers/aws"
	"github.com/DaYuM/airbyte-connectors/internal/providers/local"
	"github.com/DaYuM/airbyte-connectors/internal/providers/mock"
)

const (
	SourceLocal = "local"
	SourceMock  = "mock"
	SourceECR   = "ecr"
)

// ProviderConfig holds configuration for creating sources and graph clients
type ProviderConfig struct {
	Source          string
	InputFile       string
	ECRAccountID    string
	ECRRegion       string
	ECRRepositories []string
	ClusterScope    bool   // only read images some cluster workload runs
	Kubeconfig      string // used outside a cluster, defaults to ~/.kube/config
	MockMode        bool   // mock records and an in-memory graph, for local testing

	FarosURL       string
	FarosAPIKey    string
	RequestTimeout time.Duration
	RateLimit      float64
	MaxRetries     int
	QueryCacheTTL  time.Duration
}

// CreateRecordSource creates a record source based on configuration
func CreateRecordSource(ctx context.Context, config *ProviderConfig, logger *logrus.Logger) (RecordSource, error) {
	if config.MockMode {
		logger.Info("Using mock record source for testing")
		return newMockSource(config, logger), nil
	}

	switch config.Source {
	case SourceMock:
		return newMockSource(config, logger), nil
	case SourceLocal:
		if config.InputFile == "" {
			return nil, fmt.Errorf("input file is required for the local source")
		}
		return local.NewLocalSource(config.InputFile, logger), nil
	case SourceECR:
		if config.ECRAccountID == "" || config.ECRRegion == "" {
			return nil, fmt.Errorf("ecr account id and region are required for the ecr source")
		}
		source, err := aws.NewECRSource(ctx, config.ECRAccountID, config.ECRRegion, config.ECRRepositories, logger)
		if err != nil {
			return nil, err
		}
		if config.ClusterScope {
			discoverer, err := aws.NewEKSDiscoverer(config.Kubeconfig, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create cluster discoverer: %w", err)
			}
			source.WithClusterScope(discoverer)
		}
		return source, nil
	default:
		return nil, fmt.Errorf("unsupported source: %s", config.Source)
	}
}

func newMockSource(config *ProviderConfig, logger *logrus.Logger) *mock.MockSource {
	source := mock.NewMockSource(logger)
	if config.ClusterScope {
		source.WithClusterScope(mock.NewMockEKSDiscoverer(logger))
	}
	return source
}

// CreateGraphClient creates the Faros graph client, wrapped in a query cache when a TTL is set
func CreateGraphClient(config *ProviderConfig, logger *logrus.Logger) (graph.Client, error) {
	if config.MockMode {
		logger.Info("Using seeded in-memory graph for testing")
		return mock.NewSeededGraph(logger), nil
	}

	client, err := graph.NewFarosClient(&graph.Config{
		URL:        config.FarosURL,
		APIKey:     config.FarosAPIKey,
		Timeout:    config.RequestTimeout,
		RateLimit:  config.RateLimit,
		MaxRetries: config.MaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create faros client: %w", err)
	}

	if config.QueryCacheTTL <= 0 {
		return client, nil
	}
	logger.WithField("ttl", config.QueryCacheTTL).Info("Caching entity lookup queries")
	return cache.NewCachedClient(client, config.QueryCacheTTL, config.QueryCacheTTL, logger), nil
}
