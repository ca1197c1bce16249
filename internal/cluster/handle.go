package cluster

import (
	"context"
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
)

// ErrNotFound wraps API NotFound errors returned by ResourceHandle calls.
var ErrNotFound = errors.New("resource not found")

// FieldManager is recorded on every write.
const FieldManager = "kapi"

// ResourceHandle is bound to one resolved resource type.
type ResourceHandle struct {
	GVK        schema.GroupVersionKind
	GVR        schema.GroupVersionResource
	Namespaced bool
	resource   dynamic.NamespaceableResourceInterface
}

func (h *ResourceHandle) scoped(namespace string) dynamic.ResourceInterface {
	if h.Namespaced {
		return h.resource.Namespace(namespace)
	}
	return h.resource
}

// Get fetches name. Returns an error matching ErrNotFound when absent.
func (h *ResourceHandle) Get(ctx context.Context, namespace, name string) (*unstructured.Unstructured, error) {
	obj, err := h.scoped(namespace).Get(ctx, name, metav1.GetOptions{})
	return obj, classify(err)
}

// Create creates obj.
func (h *ResourceHandle) Create(ctx context.Context, namespace string, obj *unstructured.Unstructured) (*unstructured.Unstructured, error) {
	out, err := h.scoped(namespace).Create(ctx, obj, metav1.CreateOptions{FieldManager: FieldManager})
	return out, classify(err)
}

// MergePatch sends body as an application/merge-patch+json patch.
func (h *ResourceHandle) MergePatch(ctx context.Context, namespace, name string, body []byte) (*unstructured.Unstructured, error) {
	out, err := h.scoped(namespace).Patch(ctx, name, types.MergePatchType, body, metav1.PatchOptions{FieldManager: FieldManager})
	return out, classify(err)
}

// Delete removes name. Returns an error matching ErrNotFound when absent.
func (h *ResourceHandle) Delete(ctx context.Context, namespace, name string) error {
	return classify(h.scoped(namespace).Delete(ctx, name, metav1.DeleteOptions{}))
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
