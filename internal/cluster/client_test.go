package cluster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
)

var (
	gvkService   = schema.GroupVersionKind{Version: "v1", Kind: "Service"}
	gvkNamespace = schema.GroupVersionKind{Version: "v1", Kind: "Namespace"}
	gvrServices  = schema.GroupVersionResource{Version: "v1", Resource: "services"}
)

func newTestClient(t *testing.T, objs ...runtime.Object) (*Client, *dynamicfake.FakeDynamicClient) {
	t.Helper()
	mapper := meta.NewDefaultRESTMapper(nil)
	mapper.Add(gvkService, meta.RESTScopeNamespace)
	mapper.Add(gvkNamespace, meta.RESTScopeRoot)
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), map[schema.GroupVersionResource]string{
		gvrServices: "ServiceList",
		{Version: "v1", Resource: "namespaces"}: "NamespaceList",
	}, objs...)
	return New(dyn, mapper, nil), dyn
}

func TestResolve(t *testing.T) {
	c, _ := newTestClient(t)
	h, err := c.Resolve(context.Background(), gvkService)
	if err != nil {
		t.Fatalf("resolve service: %v", err)
	}
	if h.GVR != gvrServices || !h.Namespaced {
		t.Fatalf("unexpected handle: %+v", h)
	}
	h, err = c.Resolve(context.Background(), gvkNamespace)
	if err != nil {
		t.Fatalf("resolve namespace: %v", err)
	}
	if h.Namespaced {
		t.Fatal("namespaces are cluster scoped")
	}
}

func TestResolveUnknownKind(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Resolve(context.Background(), schema.GroupVersionKind{Group: "example.com", Version: "v1", Kind: "Widget"})
	if !errors.Is(err, ErrKindUnknown) {
		t.Fatalf("expected ErrKindUnknown, got %v", err)
	}
}

func TestHandleNotFoundIsClassified(t *testing.T) {
	c, _ := newTestClient(t)
	h, err := c.Resolve(context.Background(), gvkService)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Get(context.Background(), "ns1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if err := h.Delete(context.Background(), "ns1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete: expected ErrNotFound, got %v", err)
	}
}

func TestHandleCreatePatchDelete(t *testing.T) {
	c, dyn := newTestClient(t)
	ctx := context.Background()
	h, err := c.Resolve(ctx, gvkService)
	if err != nil {
		t.Fatal(err)
	}
	obj := &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": "v1",
		"kind":       "Service",
		"metadata":   map[string]any{"name": "svc-a", "namespace": "ns1"},
		"spec":       map[string]any{"type": "ClusterIP"},
	}}
	if _, err := h.Create(ctx, "ns1", obj); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := h.MergePatch(ctx, "ns1", "svc-a", []byte(`{"metadata":{"labels":{"a":"b"}}}`)); err != nil {
		t.Fatalf("patch: %v", err)
	}
	got, err := dyn.Resource(gvrServices).Namespace("ns1").Get(ctx, "svc-a", metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.GetLabels()["a"] != "b" {
		t.Fatalf("label not merged: %v", got.GetLabels())
	}
	if typ, _, _ := unstructured.NestedString(got.Object, "spec", "type"); typ != "ClusterIP" {
		t.Fatalf("merge patch dropped spec.type: %q", typ)
	}
	if err := h.Delete(ctx, "ns1", "svc-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestLoadConfigFallsBackToKubeconfig(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("KUBERNETES_SERVICE_PORT", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	kc := `apiVersion: v1
kind: Config
clusters:
- name: local
  cluster:
    server: https://127.0.0.1:6443
contexts:
- name: local
  context:
    cluster: local
    user: dev
current-context: local
users:
- name: dev
  user:
    token: abc
`
	if err := os.WriteFile(path, []byte(kc), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, source, err := LoadConfig(Options{Kubeconfig: path, Timeout: 5 * time.Second, QPS: 7, Burst: 9, UserAgent: "kapi/test"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if source != "kubeconfig" || cfg.Host != "https://127.0.0.1:6443" {
		t.Fatalf("unexpected config: %s %s", source, cfg.Host)
	}
	if cfg.Timeout != 5*time.Second || cfg.QPS != 7 || cfg.Burst != 9 || cfg.UserAgent != "kapi/test" {
		t.Fatalf("options not applied: %+v", cfg)
	}
}

func TestLoadConfigFailsWithoutCredentials(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("KUBERNETES_SERVICE_PORT", "")
	_, _, err := LoadConfig(Options{Kubeconfig: filepath.Join(t.TempDir(), "absent")})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestCurrentNamespace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "namespace")
	if got := CurrentNamespace(path); got != DefaultNamespace {
		t.Fatalf("missing file: got %q", got)
	}
	if err := os.WriteFile(path, []byte("  wp-tenants\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := CurrentNamespace(path); got != "wp-tenants" {
		t.Fatalf("got %q", got)
	}
	if err := os.WriteFile(path, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := CurrentNamespace(path); got != DefaultNamespace {
		t.Fatalf("blank file: got %q", got)
	}
}
