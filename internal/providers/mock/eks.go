// ABOUTME: Mock EKS discoverer for local testing and development.
// ABOUTME: Simulates a cluster running part of the generated fleet without cluster access.

package mock

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/providers/cluster"
)

// Registry is the ECR registry host of the simulated cluster images
const Registry = "123456789012.dkr.ecr.us-east-1.amazonaws.com"

// MockEKSDiscoverer implements cluster.Discoverer with a fixed set of workloads
type MockEKSDiscoverer struct {
	logger *logrus.Logger
}

// NewMockEKSDiscoverer creates a new mock EKS discoverer
func NewMockEKSDiscoverer(logger *logrus.Logger) *MockEKSDiscoverer {
	return &MockEKSDiscoverer{logger: logger}
}

// Name returns the discoverer name
func (m *MockEKSDiscoverer) Name() string {
	return "mock-eks"
}

// DiscoverImages runs web-frontend by commit sha and payments-api by version.
// orders-db is not deployed.
func (m *MockEKSDiscoverer) DiscoverImages(ctx context.Context) ([]cluster.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	workloads := []struct {
		uri, namespace, workload, workloadType string
	}{
		{Registry + "/web-frontend:" + Services[0].CommitSha, "production", "web-frontend", "Deployment"},
		{Registry + "/payments-api:" + Services[1].Version, "production", "payments-api", "Deployment"},
		{Registry + "/monitoring-agent:v3.4.1", "monitoring", "monitoring-agent", "DaemonSet"},
	}

	images := make([]cluster.Image, 0, len(workloads))
	for _, w := range workloads {
		img := cluster.ParseImage(w.uri)
		img.Namespace = w.namespace
		img.Workload = w.workload
		img.WorkloadType = w.workloadType
		images = append(images, img)
	}

	m.logger.WithField("image_count", len(images)).Info("Mock image discovery completed")
	return images, nil
}
