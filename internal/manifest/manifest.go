// Package manifest parses rendered Kubernetes resource documents into a typed
// view over an opaque unstructured object.
package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	utiljson "k8s.io/apimachinery/pkg/util/json"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"sigs.k8s.io/yaml"
)

var (
	// ErrMalformed reports a document that cannot be used to address a resource.
	ErrMalformed = errors.New("malformed manifest")
	// ErrEmpty reports a document with no content. It matches ErrMalformed.
	ErrEmpty = fmt.Errorf("%w: empty document", ErrMalformed)
)

// Document is a single Kubernetes resource. Everything besides apiVersion,
// kind and metadata.name/namespace is passed through untouched.
type Document struct {
	obj *unstructured.Unstructured
	gvk schema.GroupVersionKind
}

// Parse reads one YAML or JSON document. A leading or trailing "---" is
// accepted; a stream holding more than one resource is malformed.
func Parse(text string) (*Document, error) {
	var content map[string]any
	r := utilyaml.NewYAMLReader(bufio.NewReader(strings.NewReader(text)))
	for {
		chunk, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		obj, err := decode(chunk)
		if err != nil {
			return nil, err
		}
		if obj == nil {
			continue
		}
		if content != nil {
			return nil, fmt.Errorf("%w: multiple documents, expected one", ErrMalformed)
		}
		content = obj
	}
	if content == nil {
		return nil, ErrEmpty
	}
	return FromObject(content)
}

// decode converts one YAML document to an object. Blank, comment-only, null
// and {} documents yield nil.
func decode(chunk []byte) (map[string]any, error) {
	raw, err := yaml.YAMLToJSON(chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	// utiljson keeps integers as int64 the way the API machinery expects.
	var content map[string]any
	if err := utiljson.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("%w: document is not an object", ErrMalformed)
	}
	if len(content) == 0 {
		return nil, nil
	}
	return content, nil
}

// FromObject validates an already decoded object.
func FromObject(content map[string]any) (*Document, error) {
	obj := &unstructured.Unstructured{Object: content}
	apiVersion, _, _ := unstructured.NestedString(content, "apiVersion")
	if strings.TrimSpace(apiVersion) == "" {
		return nil, fmt.Errorf("%w: apiVersion is required", ErrMalformed)
	}
	kind, _, _ := unstructured.NestedString(content, "kind")
	if strings.TrimSpace(kind) == "" {
		return nil, fmt.Errorf("%w: kind is required", ErrMalformed)
	}
	name, _, _ := unstructured.NestedString(content, "metadata", "name")
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: metadata.name is required", ErrMalformed)
	}
	group, version, err := SplitAPIVersion(apiVersion)
	if err != nil {
		return nil, err
	}
	return &Document{
		obj: obj,
		gvk: schema.GroupVersionKind{Group: group, Version: version, Kind: kind},
	}, nil
}

// SplitAPIVersion splits "group/version" into its parts. A bare version
// belongs to the core group "".
func SplitAPIVersion(apiVersion string) (group, version string, err error) {
	gv, err := schema.ParseGroupVersion(strings.TrimSpace(apiVersion))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if gv.Version == "" {
		return "", "", fmt.Errorf("%w: apiVersion %q has no version", ErrMalformed, apiVersion)
	}
	return gv.Group, gv.Version, nil
}

func (d *Document) APIVersion() string { return d.obj.GetAPIVersion() }
func (d *Document) Kind() string { return d.gvk.Kind }
func (d *Document) Name() string { return d.obj.GetName() }
func (d *Document) Namespace() string { return d.obj.GetNamespace() }
func (d *Document) GroupVersionKind() schema.GroupVersionKind { return d.gvk }

// Object returns a copy of the underlying object so callers may set fields
// (e.g. a defaulted namespace) without mutating the document.
func (d *Document) Object() *unstructured.Unstructured { return d.obj.DeepCopy() }

// String identifies the document in logs: "apps/v1, Kind=Deployment ns/name".
func (d *Document) String() string {
	if ns := d.Namespace(); ns != "" {
		return d.gvk.String() + " " + ns + "/" + d.Name()
	}
	return d.gvk.String() + " " + d.Name()
}
