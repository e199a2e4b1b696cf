package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	authv1 "k8s.io/api/authorization/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/labfleet/repair-engine/pkg/models"
)

// fakeClientset answers access reviews with allow(resource, verb)
func fakeClientset(allow func(resource, verb string) bool) *fake.Clientset {
	clientset := fake.NewSimpleClientset()
	clientset.PrependReactor("create", "selfsubjectaccessreviews", func(action k8stesting.Action) (bool, runtime.Object, error) {
		sar := action.(k8stesting.CreateAction).GetObject().(*authv1.SelfSubjectAccessReview)
		attrs := sar.Spec.ResourceAttributes
		sar.Status.Allowed = allow(attrs.Resource, attrs.Verb)
		if !sar.Status.Allowed {
			sar.Status.Reason = "no RBAC policy matched"
		}
		return true, sar, nil
	})
	return clientset
}

func newVerifier(allow func(resource, verb string) bool) *Verifier {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return NewVerifier(fakeClientset(allow), "lab-fleet", log)
}

func TestVerifier_AllAllowed(t *testing.T) {
	v := newVerifier(func(string, string) bool { return true })

	results := v.VerifyAll(context.Background())

	require.Len(t, results, len(RequiredPermissions("lab-fleet")))
	assert.NoError(t, v.CheckCriticalPermissions(context.Background()))

	status := AccessStatus(results)
	assert.Equal(t, models.ComponentStatusOK, status.Status)
	assert.True(t, status.CriticalOK)
	assert.Zero(t, status.Denied)
	assert.Contains(t, GenerateReport(results), "All permissions verified successfully")
}

func TestVerifier_NonCriticalDenied(t *testing.T) {
	v := newVerifier(func(resource, verb string) bool { return resource == "configmaps" })

	results := v.VerifyAll(context.Background())
	status := AccessStatus(results)

	assert.NoError(t, v.CheckCriticalPermissions(context.Background()))
	assert.Equal(t, models.ComponentStatusDegraded, status.Status)
	assert.Equal(t, 1, status.Denied)
	assert.Contains(t, status.Message, "core/events:create")
}

func TestVerifier_CriticalDenied(t *testing.T) {
	v := newVerifier(func(resource, verb string) bool { return verb != "list" })

	err := v.CheckCriticalPermissions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "core/configmaps:list")

	results := v.VerifyAll(context.Background())
	status := AccessStatus(results)
	assert.Equal(t, models.ComponentStatusDown, status.Status)
	assert.False(t, status.CriticalOK)

	report := GenerateReport(results)
	assert.Contains(t, report, "Denied: 1")
	assert.Contains(t, report, "Reason: no RBAC policy matched")
}

func TestVerifier_APIError(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	clientset.PrependReactor("create", "selfsubjectaccessreviews", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("apiserver unavailable")
	})
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	v := NewVerifier(clientset, "lab-fleet", log)

	result := v.VerifyPermission(context.Background(), &Permission{Resource: "configmaps", Verb: "get", Namespace: "lab-fleet"})

	assert.False(t, result.Allowed)
	assert.ErrorContains(t, result.Error, "apiserver unavailable")
	assert.Contains(t, GenerateReport([]PermissionCheckResult{result}), "Errors: 1")
}
