package reconcile

import (
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// ErrReconcileFailure matches every *Error.
var ErrReconcileFailure = errors.New("reconcile failed")

// Error reports a cluster call that failed for a reason other than the
// resource being absent.
type Error struct {
	Op        string
	GVK       schema.GroupVersionKind
	Namespace string
	Name      string
	Err       error
}

func (e *Error) Error() string {
	target := e.Name
	if e.Namespace != "" {
		target = e.Namespace + "/" + e.Name
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.GVK.Kind, target, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrReconcileFailure }
