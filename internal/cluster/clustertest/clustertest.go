// Package clustertest provides an in-memory cluster.Client for tests.
package clustertest

import (
	"context"

	"github.com/hostclick/kapi/internal/cluster"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
)

var (
	Service     = schema.GroupVersionKind{Version: "v1", Kind: "Service"}
	ConfigMap   = schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"}
	Namespace   = schema.GroupVersionKind{Version: "v1", Kind: "Namespace"}
	Ingress     = schema.GroupVersionKind{Group: "networking.k8s.io", Version: "v1", Kind: "Ingress"}
	HelmRelease = schema.GroupVersionKind{Group: "helm.toolkit.fluxcd.io", Version: "v2beta1", Kind: "HelmRelease"}
)

// Fake is a cluster.Client backed by the client-go dynamic fake.
type Fake struct {
	*cluster.Client
	Dynamic *dynamicfake.FakeDynamicClient
	Mapper  *meta.DefaultRESTMapper
}

// New knows the kinds above. Namespace is cluster scoped, the rest are namespaced.
func New(objs ...runtime.Object) *Fake {
	mapper := meta.NewDefaultRESTMapper(nil)
	listKinds := map[schema.GroupVersionResource]string{}
	for _, gvk := range []schema.GroupVersionKind{Service, ConfigMap, Ingress, HelmRelease} {
		mapper.Add(gvk, meta.RESTScopeNamespace)
	}
	mapper.Add(Namespace, meta.RESTScopeRoot)
	for _, gvk := range []schema.GroupVersionKind{Service, ConfigMap, Namespace, Ingress, HelmRelease} {
		m, _ := mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
		listKinds[m.Resource] = gvk.Kind + "List"
	}
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds, objs...)
	return &Fake{Client: cluster.New(dyn, mapper, nil), Dynamic: dyn, Mapper: mapper}
}

// Count returns how many recorded actions used verb. An empty resource
// matches every resource.
func (f *Fake) Count(verb, resource string) int {
	n := 0
	for _, a := range f.Dynamic.Actions() {
		if a.GetVerb() != verb {
			continue
		}
		if resource == "" || a.GetResource().Resource == resource {
			n++
		}
	}
	return n
}

// Calls returns the number of recorded actions.
func (f *Fake) Calls() int { return len(f.Dynamic.Actions()) }

// Lookup reads an object from the fake. The read is recorded as a get
// action, so count before looking up.
func (f *Fake) Lookup(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) (*unstructured.Unstructured, error) {
	m, err := f.Mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, err
	}
	if m.Scope.Name() == meta.RESTScopeNameRoot {
		return f.Dynamic.Resource(m.Resource).Get(ctx, name, metav1.GetOptions{})
	}
	return f.Dynamic.Resource(m.Resource).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
}
