// ABOUTME: EKS workload discovery used to scope the ECR source to images that are deployed.
// ABOUTME: Lists Deployments, StatefulSets and DaemonSets through the Kubernetes API.

package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/DaYuM/airbyte-connectors/internal/providers/cluster"
)

// EKSDiscoverer implements cluster.Discoverer for Amazon EKS
type EKSDiscoverer struct {
	clientset kubernetes.Interface
	logger    *logrus.Logger
}

// NewEKSDiscoverer connects with the in-cluster config, falling back to kubeconfig
// (the given path, or ~/.kube/config when empty).
func NewEKSDiscoverer(kubeconfig string, logger *logrus.Logger) (*EKSDiscoverer, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfig == "" {
			kubeconfig = clientcmd.RecommendedHomeFile
		}
		logger.WithField("kubeconfig", kubeconfig).Info("In-cluster config not available, trying kubeconfig")
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	logger.Info("Connected to EKS cluster")
	return newEKSDiscoverer(clientset, logger), nil
}

func newEKSDiscoverer(clientset kubernetes.Interface, logger *logrus.Logger) *EKSDiscoverer {
	return &EKSDiscoverer{clientset: clientset, logger: logger}
}

// Name returns the discoverer name
func (e *EKSDiscoverer) Name() string {
	return "aws-eks"
}

// IsRegistryImage checks if the image is from an ECR registry
func IsRegistryImage(imageURI string) bool {
	return strings.Contains(imageURI, ".dkr.ecr.") && strings.Contains(imageURI, ".amazonaws.com/")
}

// DiscoverImages returns every ECR image referenced by a workload in any namespace
func (e *EKSDiscoverer) DiscoverImages(ctx context.Context) ([]cluster.Image, error) {
	logger := e.logger.WithField("operation", "discover_images")

	var images []cluster.Image

	deployments, err := e.clientset.AppsV1().Deployments("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	for _, d := range deployments.Items {
		images = append(images, extractImagesFromPodSpec(d.Spec.Template.Spec, d.Namespace, d.Name, "Deployment")...)
	}

	statefulSets, err := e.clientset.AppsV1().StatefulSets("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list statefulsets: %w", err)
	}
	for _, s := range statefulSets.Items {
		images = append(images, extractImagesFromPodSpec(s.Spec.Template.Spec, s.Namespace, s.Name, "StatefulSet")...)
	}

	daemonSets, err := e.clientset.AppsV1().DaemonSets("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list daemonsets: %w", err)
	}
	for _, d := range daemonSets.Items {
		images = append(images, extractImagesFromPodSpec(d.Spec.Template.Spec, d.Namespace, d.Name, "DaemonSet")...)
	}

	logger.WithFields(logrus.Fields{
		"deployments":  len(deployments.Items),
		"statefulsets": len(statefulSets.Items),
		"daemonsets":   len(daemonSets.Items),
		"image_count":  len(images),
	}).Info("Image discovery completed")
	return images, nil
}

func extractImagesFromPodSpec(podSpec corev1.PodSpec, namespace, workload, workloadType string) []cluster.Image {
	uris := make([]string, 0, len(podSpec.Containers)+len(podSpec.InitContainers))
	for _, c := range podSpec.Containers {
		uris = append(uris, c.Image)
	}
	for _, c := range podSpec.InitContainers {
		uris = append(uris, c.Image)
	}
	for _, c := range podSpec.EphemeralContainers {
		uris = append(uris, c.Image)
	}

	var images []cluster.Image
	for _, uri := range uris {
		if !IsRegistryImage(uri) {
			continue
		}
		img := cluster.ParseImage(uri)
		img.Namespace = namespace
		img.Workload = workload
		img.WorkloadType = workloadType
		images = append(images, img)
	}
	return images
}
