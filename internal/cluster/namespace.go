package cluster

import (
	"os"
	"strings"
)

const (
	// ServiceAccountNamespaceFile is mounted into every pod with a service account token.
	ServiceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"
	// DefaultNamespace is used outside a pod.
	DefaultNamespace = "default"
)

// CurrentNamespace returns the namespace this process runs in, read from
// path (ServiceAccountNamespaceFile when empty), falling back to "default".
func CurrentNamespace(path string) string {
	if path == "" {
		path = ServiceAccountNamespaceFile
	}
	b, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return DefaultNamespace
	}
	if ns := strings.TrimSpace(string(b)); ns != "" {
		return ns
	}
	return DefaultNamespace
}
