package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/hostclick/kapi/internal/cluster"
	"github.com/hostclick/kapi/internal/cluster/clustertest"
	"github.com/hostclick/kapi/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	clienttesting "k8s.io/client-go/testing"
)

const serviceManifest = `
apiVersion: v1
kind: Service
metadata:
  name: svc-a
  namespace: ns1
spec:
  type: ClusterIP
  ports:
  - port: 80
`

func TestApplyCreatesThenPatches(t *testing.T) {
	f := clustertest.New()
	e := NewEngine(f.Client)
	ctx := context.Background()

	res, err := e.Apply(ctx, serviceManifest)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, "ns1", res.Namespace)
	assert.Equal(t, "svc-a", res.Name)

	res, err = e.Apply(ctx, serviceManifest)
	require.NoError(t, err)
	assert.Equal(t, ActionPatched, res.Action)

	assert.Equal(t, 1, f.Count("create", "services"))
	assert.Equal(t, 1, f.Count("patch", "services"))
	assert.Equal(t, 2, f.Count("get", "services"))
}

func TestDeleteIsIdempotent(t *testing.T) {
	f := clustertest.New()
	e := NewEngine(f.Client)
	ctx := context.Background()

	res, err := e.Delete(ctx, serviceManifest)
	require.NoError(t, err)
	assert.Equal(t, ActionAbsent, res.Action)

	_, err = e.Apply(ctx, serviceManifest)
	require.NoError(t, err)

	res, err = e.Delete(ctx, serviceManifest)
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, res.Action)

	res, err = e.Delete(ctx, serviceManifest)
	require.NoError(t, err)
	assert.Equal(t, ActionAbsent, res.Action)

	_, err = f.Lookup(ctx, clustertest.Service, "ns1", "svc-a")
	assert.True(t, apierrors.IsNotFound(err))
}

func TestNamespacedKindUsesDefaultNamespace(t *testing.T) {
	f := clustertest.New()
	e := NewEngine(f.Client, WithDefaultNamespace("wp-tenants"))
	ctx := context.Background()

	res, err := e.Apply(ctx, "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: cm\ndata:\n  k: v\n")
	require.NoError(t, err)
	assert.Equal(t, "wp-tenants", res.Namespace)

	for _, a := range f.Dynamic.Actions() {
		assert.Equal(t, "wp-tenants", a.GetNamespace(), "%s must be namespaced", a.GetVerb())
	}
	got, err := f.Lookup(ctx, clustertest.ConfigMap, "wp-tenants", "cm")
	require.NoError(t, err)
	v, _, _ := unstructured.NestedString(got.Object, "data", "k")
	assert.Equal(t, "v", v)
}

func TestDefaultNamespaceFallback(t *testing.T) {
	e := NewEngine(clustertest.New().Client, WithDefaultNamespace(""))
	assert.Equal(t, cluster.DefaultNamespace, e.DefaultNamespace())
}

func TestClusterScopedKindHasNoNamespace(t *testing.T) {
	f := clustertest.New()
	e := NewEngine(f.Client, WithDefaultNamespace("wp-tenants"))
	ctx := context.Background()

	res, err := e.Apply(ctx, "apiVersion: v1\nkind: Namespace\nmetadata:\n  name: tenant-a\n  namespace: ignored\n")
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, "", res.Namespace)

	res, err = e.Apply(ctx, "apiVersion: v1\nkind: Namespace\nmetadata:\n  name: tenant-a\n  labels:\n    tier: web\n")
	require.NoError(t, err)
	assert.Equal(t, ActionPatched, res.Action)

	got, err := f.Lookup(ctx, clustertest.Namespace, "", "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "", got.GetNamespace())
	assert.Equal(t, "web", got.GetLabels()["tier"])
}

func TestMalformedInputIsNoOp(t *testing.T) {
	f := clustertest.New()
	e := NewEngine(f.Client)
	ctx := context.Background()

	twoDocs := "apiVersion: v1\nkind: Service\nmetadata:\n  name: a\n---\napiVersion: v1\nkind: Service\nmetadata:\n  name: b\n"
	for _, in := range []string{"", "not: [yaml", "kind: Service\nmetadata:\n  name: x\n", "- a\n", twoDocs} {
		res, err := e.Apply(ctx, in)
		require.NoError(t, err, "apply %q", in)
		assert.Equal(t, ActionSkipped, res.Action)
		assert.NotEmpty(t, res.Reason)

		res, err = e.Delete(ctx, in)
		require.NoError(t, err, "delete %q", in)
		assert.Equal(t, ActionSkipped, res.Action)
	}
	res, err := e.ApplyDocument(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, res.Action)

	assert.Zero(t, f.Calls())
}

func TestStrictManifestsReturnError(t *testing.T) {
	f := clustertest.New()
	e := NewEngine(f.Client, WithStrictManifests(true))

	_, err := e.Apply(context.Background(), "not: [yaml")
	assert.ErrorIs(t, err, manifest.ErrMalformed)
	_, err = e.Delete(context.Background(), "")
	assert.ErrorIs(t, err, manifest.ErrEmpty)
	assert.Zero(t, f.Calls())
}

func TestUnknownKind(t *testing.T) {
	f := clustertest.New()
	e := NewEngine(f.Client)

	_, err := e.Apply(context.Background(), "apiVersion: example.com/v1\nkind: Widget\nmetadata:\n  name: w\n")
	assert.ErrorIs(t, err, cluster.ErrKindUnknown)
	assert.NotErrorIs(t, err, ErrReconcileFailure)
	assert.Zero(t, f.Calls())
}

func TestClusterErrorIsReconcileFailure(t *testing.T) {
	f := clustertest.New()
	f.Dynamic.PrependReactor("get", "services", func(clienttesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewForbidden(schema.GroupResource{Resource: "services"}, "svc-a", errors.New("denied"))
	})
	e := NewEngine(f.Client)

	_, err := e.Apply(context.Background(), serviceManifest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconcileFailure)
	assert.True(t, apierrors.IsForbidden(err))

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OpApply, rerr.Op)
	assert.Equal(t, "ns1", rerr.Namespace)
	assert.Equal(t, "svc-a", rerr.Name)
	assert.Equal(t, "Service", rerr.GVK.Kind)
	assert.Zero(t, f.Count("create", ""))
}

func TestPatchRaceWithDeleteFails(t *testing.T) {
	f := clustertest.New()
	e := NewEngine(f.Client)
	ctx := context.Background()
	_, err := e.Apply(ctx, serviceManifest)
	require.NoError(t, err)

	f.Dynamic.PrependReactor("patch", "services", func(clienttesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewNotFound(schema.GroupResource{Resource: "services"}, "svc-a")
	})
	_, err = e.Apply(ctx, serviceManifest)
	assert.ErrorIs(t, err, ErrReconcileFailure)
	assert.ErrorIs(t, err, cluster.ErrNotFound)
}

func TestDeleteFailure(t *testing.T) {
	f := clustertest.New()
	f.Dynamic.PrependReactor("delete", "services", func(clienttesting.Action) (bool, runtime.Object, error) {
		return true, nil, apierrors.NewInternalError(errors.New("etcd unavailable"))
	})
	e := NewEngine(f.Client)

	_, err := e.Delete(context.Background(), serviceManifest)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, OpDelete, rerr.Op)
}

func TestCanceledContext(t *testing.T) {
	f := clustertest.New()
	e := NewEngine(f.Client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Apply(ctx, serviceManifest)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrReconcileFailure)
	assert.Zero(t, f.Calls())
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: OpDelete, GVK: clustertest.Ingress, Namespace: "ns", Name: "web", Err: errors.New("boom")}
	assert.Equal(t, "delete Ingress ns/web: boom", err.Error())
	err.Namespace = ""
	assert.Equal(t, "delete Ingress web: boom", err.Error())
}
