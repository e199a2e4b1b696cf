package inventory

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	// HostInfoLabel marks ConfigMaps that describe lab hosts
	HostInfoLabel = "labfleet.io/host-info"
	// ConfigMapPrefix prefixes the ConfigMap name of each host
	ConfigMapPrefix = "host-"
)

// ConfigMapStore reads hosts from one ConfigMap per host. The ConfigMap data
// uses the same flat keys as HostInfo.State.
type ConfigMapStore struct {
	clientset kubernetes.Interface
	namespace string
	log       *logrus.Logger
}

// NewConfigMapStore creates a ConfigMap-backed inventory
func NewConfigMapStore(clientset kubernetes.Interface, namespace string, log *logrus.Logger) *ConfigMapStore {
	return &ConfigMapStore{
		clientset: clientset,
		namespace: namespace,
		log:       log,
	}
}

// ConfigMapName returns the ConfigMap holding hostname
func ConfigMapName(hostname string) string {
	return ConfigMapPrefix + hostname
}

// HostConfigMap renders a host as the ConfigMap this store reads
func HostConfigMap(namespace string, h *HostInfo) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ConfigMapName(h.Hostname),
			Namespace: namespace,
			Labels:    map[string]string{HostInfoLabel: "true"},
		},
		Data: h.State(),
	}
}

func (s *ConfigMapStore) decode(cm *corev1.ConfigMap) (*HostInfo, error) {
	info := FromState(cm.Data)
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("configmap %s/%s: %w", cm.Namespace, cm.Name, err)
	}
	return &info, nil
}

// Get implements Store
func (s *ConfigMapStore) Get(ctx context.Context, hostname string) (*HostInfo, error) {
	cm, err := s.clientset.CoreV1().ConfigMaps(s.namespace).Get(ctx, ConfigMapName(hostname), metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrHostNotFound, hostname)
		}
		return nil, fmt.Errorf("failed to get host configmap: %w", err)
	}
	if cm.Labels[HostInfoLabel] != "true" {
		return nil, fmt.Errorf("%w: %s (configmap not labeled %s)", ErrHostNotFound, hostname, HostInfoLabel)
	}
	return s.decode(cm)
}

// List implements Store. Malformed ConfigMaps are logged and skipped.
func (s *ConfigMapStore) List(ctx context.Context) ([]HostInfo, error) {
	list, err := s.clientset.CoreV1().ConfigMaps(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: HostInfoLabel + "=true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list host configmaps: %w", err)
	}

	hosts := make([]HostInfo, 0, len(list.Items))
	for i := range list.Items {
		info, err := s.decode(&list.Items[i])
		if err != nil {
			s.log.WithError(err).WithField("configmap", list.Items[i].Name).Warn("Skipping malformed host configmap")
			continue
		}
		hosts = append(hosts, *info)
	}
	sortHosts(hosts)
	return hosts, nil
}

// HostState implements Store
func (s *ConfigMapStore) HostState(ctx context.Context, hostname string) (map[string]string, error) {
	return stateOf(ctx, s, hostname)
}
