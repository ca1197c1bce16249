// Package reconcile applies and removes single Kubernetes manifests against a
// live cluster. Apply converges a resource to present, Delete to absent. Both
// are safe to repeat: a second Apply patches what the first created and a
// Delete of an absent resource succeeds.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/hostclick/kapi/internal/cluster"
	"github.com/hostclick/kapi/internal/logging"
	"github.com/hostclick/kapi/internal/manifest"
	"github.com/hostclick/kapi/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	OpApply  = "apply"
	OpDelete = "delete"
)

// Action is what a reconciliation did to the cluster.
type Action string

const (
	ActionSkipped Action = "skipped"
	ActionCreated Action = "created"
	ActionPatched Action = "patched"
	ActionDeleted Action = "deleted"
	ActionAbsent  Action = "absent"
)

// Result describes one reconciliation. Reason is set for skipped documents.
type Result struct {
	Action    Action                  `json:"action"`
	GVK       schema.GroupVersionKind `json:"gvk"`
	Namespace string                  `json:"namespace,omitempty"`
	Name      string                  `json:"name,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
}

// Resolver maps a kind to a handle for its resource. *cluster.Client satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, gvk schema.GroupVersionKind) (*cluster.ResourceHandle, error)
}

// Engine is safe for concurrent use once built.
type Engine struct {
	resolver  Resolver
	namespace string
	strict    bool
	tracer    trace.Tracer
}

type Option func(*Engine)

// WithDefaultNamespace sets the namespace used for namespaced resources whose
// manifest has none. Blank keeps the current value.
func WithDefaultNamespace(ns string) Option {
	return func(e *Engine) {
		if ns != "" {
			e.namespace = ns
		}
	}
}

// WithStrictManifests makes empty or malformed documents an error instead of
// a skipped no-op.
func WithStrictManifests(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

func NewEngine(resolver Resolver, opts ...Option) *Engine {
	e := &Engine{
		resolver:  resolver,
		namespace: cluster.DefaultNamespace,
		tracer:    otel.Tracer("github.com/hostclick/kapi/internal/reconcile"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultNamespace reports the namespace applied to manifests without one.
func (e *Engine) DefaultNamespace() string { return e.namespace }

// Apply parses text and creates the resource, or merge patches it when it
// already exists.
func (e *Engine) Apply(ctx context.Context, text string) (Result, error) {
	doc, err := manifest.Parse(text)
	if err != nil {
		return e.skip(ctx, OpApply, err)
	}
	return e.ApplyDocument(ctx, doc)
}

// Delete parses text and removes the resource. An absent resource is success.
func (e *Engine) Delete(ctx context.Context, text string) (Result, error) {
	doc, err := manifest.Parse(text)
	if err != nil {
		return e.skip(ctx, OpDelete, err)
	}
	return e.DeleteDocument(ctx, doc)
}

func (e *Engine) ApplyDocument(ctx context.Context, doc *manifest.Document) (Result, error) {
	if doc == nil {
		return e.skip(ctx, OpApply, manifest.ErrEmpty)
	}
	return e.run(ctx, OpApply, doc, e.apply)
}

func (e *Engine) DeleteDocument(ctx context.Context, doc *manifest.Document) (Result, error) {
	if doc == nil {
		return e.skip(ctx, OpDelete, manifest.ErrEmpty)
	}
	return e.run(ctx, OpDelete, doc, e.delete)
}

type step func(ctx context.Context, h *cluster.ResourceHandle, doc *manifest.Document, res Result) (Result, error)

func (e *Engine) run(ctx context.Context, op string, doc *manifest.Document, fn step) (Result, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "reconcile."+op, trace.WithAttributes(
		attribute.String("k8s.gvk", doc.GroupVersionKind().String()),
		attribute.String("k8s.name", doc.Name()),
	))
	defer span.End()

	res := Result{GVK: doc.GroupVersionKind(), Name: doc.Name(), Namespace: doc.Namespace()}
	h, err := e.resolver.Resolve(ctx, res.GVK)
	if err != nil {
		if !errors.Is(err, cluster.ErrKindUnknown) {
			err = &Error{Op: op, GVK: res.GVK, Namespace: res.Namespace, Name: res.Name, Err: err}
		}
		e.observe(ctx, span, op, start, res, err)
		return res, err
	}
	if h.Namespaced {
		if res.Namespace == "" {
			res.Namespace = e.namespace
		}
	} else {
		res.Namespace = ""
	}
	span.SetAttributes(attribute.String("k8s.namespace", res.Namespace))

	res, err = fn(ctx, h, doc, res)
	e.observe(ctx, span, op, start, res, err)
	return res, err
}

func (e *Engine) apply(ctx context.Context, h *cluster.ResourceHandle, doc *manifest.Document, res Result) (Result, error) {
	// The sent object always carries the effective namespace, or none for
	// cluster-scoped kinds.
	obj := doc.Object()
	obj.SetNamespace(res.Namespace)

	_, err := h.Get(ctx, res.Namespace, res.Name)
	switch {
	case err == nil:
		body, err := obj.MarshalJSON()
		if err != nil {
			return res, e.fail(OpApply, res, err)
		}
		if _, err := h.MergePatch(ctx, res.Namespace, res.Name, body); err != nil {
			return res, e.fail(OpApply, res, err)
		}
		res.Action = ActionPatched
	case errors.Is(err, cluster.ErrNotFound):
		if _, err := h.Create(ctx, res.Namespace, obj); err != nil {
			return res, e.fail(OpApply, res, err)
		}
		res.Action = ActionCreated
	default:
		return res, e.fail(OpApply, res, err)
	}
	return res, nil
}

func (e *Engine) delete(ctx context.Context, h *cluster.ResourceHandle, _ *manifest.Document, res Result) (Result, error) {
	err := h.Delete(ctx, res.Namespace, res.Name)
	switch {
	case err == nil:
		res.Action = ActionDeleted
	case errors.Is(err, cluster.ErrNotFound):
		res.Action = ActionAbsent
	default:
		return res, e.fail(OpDelete, res, err)
	}
	return res, nil
}

func (e *Engine) fail(op string, res Result, err error) error {
	return &Error{Op: op, GVK: res.GVK, Namespace: res.Namespace, Name: res.Name, Err: err}
}

// skip handles documents that never reach the cluster.
func (e *Engine) skip(ctx context.Context, op string, cause error) (Result, error) {
	res := Result{Action: ActionSkipped, Reason: cause.Error()}
	if e.strict {
		metrics.ReconcileErrorsTotal.WithLabelValues(op, "malformed").Inc()
		logging.FromContext(ctx).Warn("manifest_rejected", zap.String("op", op), zap.Error(cause))
		return res, cause
	}
	metrics.ReconcileTotal.WithLabelValues(op, string(ActionSkipped)).Inc()
	logging.FromContext(ctx).Warn("manifest_skipped", zap.String("op", op), zap.Error(cause))
	return res, nil
}

func (e *Engine) observe(ctx context.Context, span trace.Span, op string, start time.Time, res Result, err error) {
	metrics.ReconcileSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	log := logging.FromContext(ctx).With(
		zap.String("op", op),
		zap.String("gvk", res.GVK.String()),
		zap.String("namespace", res.Namespace),
		zap.String("name", res.Name),
	)
	if err != nil {
		metrics.ReconcileErrorsTotal.WithLabelValues(op, errorKind(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("reconcile_failed", zap.Error(err))
		return
	}
	metrics.ReconcileTotal.WithLabelValues(op, string(res.Action)).Inc()
	span.SetAttributes(attribute.String("kapi.action", string(res.Action)))
	log.Info("reconciled", zap.String("action", string(res.Action)), zap.Duration("took", time.Since(start)))
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, cluster.ErrKindUnknown):
		return "kind_unknown"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "cluster"
	}
}
