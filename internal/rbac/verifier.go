// Package rbac checks the Kubernetes permissions the repair engine needs.
package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	authv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/labfleet/repair-engine/pkg/models"
)

// Permission represents a Kubernetes permission to verify
type Permission struct {
	APIGroup  string
	Resource  string
	Verb      string
	Namespace string
	Critical  bool
}

func (p Permission) String() string {
	group := p.APIGroup
	if group == "" {
		group = "core"
	}
	return fmt.Sprintf("%s/%s:%s", group, p.Resource, p.Verb)
}

// PermissionCheckResult holds the result of a permission check
type PermissionCheckResult struct {
	Permission Permission
	Allowed    bool
	Reason     string
	Error      error
}

// Verifier checks RBAC permissions for the ServiceAccount
type Verifier struct {
	clientset kubernetes.Interface
	namespace string
	log       *logrus.Logger
}

// NewVerifier creates a new RBAC verifier
func NewVerifier(clientset kubernetes.Interface, namespace string, log *logrus.Logger) *Verifier {
	return &Verifier{
		clientset: clientset,
		namespace: namespace,
		log:       log,
	}
}

// RequiredPermissions returns the permissions used by the ConfigMap inventory.
// Reading host ConfigMaps is critical; events are only used for audit.
func RequiredPermissions(namespace string) []Permission {
	return []Permission{
		{Resource: "configmaps", Verb: "get", Namespace: namespace, Critical: true},
		{Resource: "configmaps", Verb: "list", Namespace: namespace, Critical: true},
		{Resource: "configmaps", Verb: "watch", Namespace: namespace},
		{Resource: "events", Verb: "create", Namespace: namespace},
	}
}

// VerifyPermission checks if the current ServiceAccount has a specific permission
func (v *Verifier) VerifyPermission(ctx context.Context, perm *Permission) PermissionCheckResult {
	result := PermissionCheckResult{Permission: *perm}

	sar := &authv1.SelfSubjectAccessReview{
		Spec: authv1.SelfSubjectAccessReviewSpec{
			ResourceAttributes: &authv1.ResourceAttributes{
				Namespace: perm.Namespace,
				Verb:      perm.Verb,
				Group:     perm.APIGroup,
				Resource:  perm.Resource,
			},
		},
	}

	response, err := v.clientset.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, sar, metav1.CreateOptions{})
	if err != nil {
		result.Error = fmt.Errorf("failed to check permission: %w", err)
		return result
	}

	result.Allowed = response.Status.Allowed
	result.Reason = response.Status.Reason

	if !result.Allowed {
		v.log.WithFields(logrus.Fields{
			"permission": perm.String(),
			"namespace":  perm.Namespace,
			"critical":   perm.Critical,
			"reason":     result.Reason,
		}).Warn("Permission check failed")
	}

	return result
}

// VerifyAll checks every required permission
func (v *Verifier) VerifyAll(ctx context.Context) []PermissionCheckResult {
	permissions := RequiredPermissions(v.namespace)
	results := make([]PermissionCheckResult, 0, len(permissions))

	v.log.WithField("total_checks", len(permissions)).Debug("Verifying RBAC permissions")

	for i := range permissions {
		results = append(results, v.VerifyPermission(ctx, &permissions[i]))
	}
	return results
}

// CheckCriticalPermissions returns an error naming every missing critical permission
func (v *Verifier) CheckCriticalPermissions(ctx context.Context) error {
	var missing []string
	for _, result := range v.VerifyAll(ctx) {
		if result.Permission.Critical && !result.Allowed {
			missing = append(missing, result.Permission.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing critical permissions: %s", strings.Join(missing, ", "))
	}

	v.log.Info("All critical RBAC permissions verified successfully")
	return nil
}

// AccessStatus summarizes results for the health endpoint
func AccessStatus(results []PermissionCheckResult) models.AccessStatus {
	status := models.AccessStatus{
		Status:     models.ComponentStatusOK,
		Checked:    len(results),
		CriticalOK: true,
	}

	var failed []string
	for _, result := range results {
		if result.Allowed {
			continue
		}
		status.Denied++
		failed = append(failed, result.Permission.String())
		if result.Permission.Critical {
			status.CriticalOK = false
		}
	}

	switch {
	case !status.CriticalOK:
		status.Status = models.ComponentStatusDown
	case status.Denied > 0:
		status.Status = models.ComponentStatusDegraded
	}
	if len(failed) > 0 {
		status.Message = "denied: " + strings.Join(failed, ", ")
	}
	return status
}

// GenerateReport creates a human-readable report of permission check results
func GenerateReport(results []PermissionCheckResult) string {
	var b strings.Builder
	b.WriteString("RBAC Permission Verification Report\n")
	b.WriteString("====================================\n\n")

	allowed, denied, errored := 0, 0, 0
	for _, result := range results {
		switch {
		case result.Error != nil:
			errored++
		case result.Allowed:
			allowed++
		default:
			denied++
		}
	}

	fmt.Fprintf(&b, "Total Permissions Checked: %d\n", len(results))
	fmt.Fprintf(&b, "Allowed: %d\n", allowed)
	fmt.Fprintf(&b, "Denied: %d\n", denied)
	fmt.Fprintf(&b, "Errors: %d\n\n", errored)

	if denied == 0 && errored == 0 {
		b.WriteString("All permissions verified successfully\n")
		return b.String()
	}

	b.WriteString("Failed Permissions:\n")
	for _, result := range results {
		if result.Allowed && result.Error == nil {
			continue
		}
		fmt.Fprintf(&b, "  - %s (namespace: %s, critical: %t)\n",
			result.Permission, result.Permission.Namespace, result.Permission.Critical)
		if result.Error != nil {
			fmt.Fprintf(&b, "    Error: %v\n", result.Error)
		} else if result.Reason != "" {
			fmt.Fprintf(&b, "    Reason: %s\n", result.Reason)
		}
	}
	return b.String()
}
