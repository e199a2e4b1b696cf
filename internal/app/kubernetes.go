package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/labfleet/repair-engine/pkg/config"
)

// NewKubernetesClient creates a clientset. It tries in-cluster config first,
// then falls back to the configured kubeconfig or ~/.kube/config.
func NewKubernetesClient(cfg *config.Config, log *logrus.Logger) (*kubernetes.Clientset, *rest.Config, error) {
	var configSource string

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		configSource = "kubeconfig"
		kubeconfig := cfg.Kubeconfig
		if kubeconfig == "" {
			homeDir := os.Getenv("HOME")
			if homeDir == "" {
				return nil, nil, fmt.Errorf("KUBECONFIG not set and HOME directory not found")
			}
			kubeconfig = filepath.Join(homeDir, ".kube", "config")
		}

		log.WithField("kubeconfig", kubeconfig).Debug("Using kubeconfig file")
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load kubeconfig from %s: %w", kubeconfig, err)
		}
	} else {
		configSource = "in-cluster"
		log.Debug("Using in-cluster Kubernetes configuration")
	}

	restConfig.QPS = cfg.KubernetesQPS
	restConfig.Burst = cfg.KubernetesBurst

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}

	log.WithFields(logrus.Fields{
		"config_source": configSource,
		"cluster_host":  restConfig.Host,
		"qps":           cfg.KubernetesQPS,
		"burst":         cfg.KubernetesBurst,
	}).Debug("Kubernetes client created")

	return clientset, restConfig, nil
}
