// Package suspension converges a tenant's workload and suspension ingress to
// the state requested by billing.
package suspension

import (
	"context"
	"fmt"
	"time"

	"github.com/hostclick/kapi/internal/logging"
	"github.com/hostclick/kapi/internal/reconcile"
	"github.com/hostclick/kapi/internal/render"
	"github.com/hostclick/kapi/internal/store"
	"github.com/hostclick/kapi/internal/telemetry"
	"github.com/hostclick/kapi/internal/tenancy"
	"github.com/hostclick/kapi/pkg/types"
	"go.uber.org/zap"
)

// Reconciler is the subset of *reconcile.Engine the service needs.
type Reconciler interface {
	Apply(ctx context.Context, text string) (reconcile.Result, error)
	Delete(ctx context.Context, text string) (reconcile.Result, error)
}

// Renderer is satisfied by *render.Renderer.
type Renderer interface {
	Render(kind render.Kind, p render.Params) (string, error)
}

// Outcome lists what each step did.
type Outcome struct {
	Workload reconcile.Result `json:"workload"`
	Ingress  reconcile.Result `json:"ingress"`
}

type Service struct {
	renderer   Renderer
	reconciler Reconciler
	store      store.Store
	events     telemetry.Publisher
}

// New wires a Service. st and events may be nil.
func New(renderer Renderer, reconciler Reconciler, st store.Store, events telemetry.Publisher) *Service {
	if events == nil {
		events = telemetry.Nop{}
	}
	return &Service{renderer: renderer, reconciler: reconciler, store: st, events: events}
}

// Converge applies the workload with replicas scaled to the requested state,
// then applies the suspension ingress when suspended or removes it otherwise.
// A failed workload render or apply leaves the ingress untouched.
func (s *Service) Converge(ctx context.Context, t tenancy.Tenant, suspended bool) (Outcome, error) {
	log := logging.FromContext(ctx).With(zap.String("vhost", t.VHost), zap.Bool("suspended", suspended))
	out, err := s.converge(ctx, t, suspended)
	s.record(ctx, log, t, suspended, err)
	if err != nil {
		log.Error("tenant_converge_failed", zap.Error(err))
		return out, err
	}
	if suspended {
		log.Info("tenant_suspended", zap.String("ingress", string(out.Ingress.Action)))
	} else {
		log.Info("tenant_unsuspended", zap.String("ingress", string(out.Ingress.Action)))
	}
	return out, nil
}

func (s *Service) converge(ctx context.Context, t tenancy.Tenant, suspended bool) (Outcome, error) {
	var out Outcome
	params := render.Params{VHost: t.VHost, Name: t.Name, Enabled: !suspended}
	workload, err := s.renderer.Render(render.KindWorkload, params)
	if err != nil {
		return out, fmt.Errorf("render workload: %w", err)
	}
	if out.Workload, err = s.reconciler.Apply(ctx, workload); err != nil {
		return out, fmt.Errorf("apply workload: %w", err)
	}

	ingress, err := s.renderer.Render(render.KindIngress, params)
	if err != nil {
		return out, fmt.Errorf("render ingress: %w", err)
	}
	if suspended {
		out.Ingress, err = s.reconciler.Apply(ctx, ingress)
	} else {
		out.Ingress, err = s.reconciler.Delete(ctx, ingress)
	}
	if err != nil {
		return out, fmt.Errorf("converge ingress: %w", err)
	}
	return out, nil
}

// record stores and publishes the transition. Failures are logged only.
func (s *Service) record(ctx context.Context, log *zap.Logger, t tenancy.Tenant, suspended bool, cause error) {
	ctx = context.WithoutCancel(ctx)
	tr := types.Transition{VHost: t.VHost, Name: t.Name, Suspended: suspended, Outcome: types.OutcomeOK}
	if cause != nil {
		tr.Outcome = types.OutcomeError
		tr.Error = cause.Error()
	}
	if s.store != nil {
		if err := s.store.RecordTransition(ctx, &tr); err != nil {
			log.Warn("transition_record_failed", zap.Error(err))
		}
	}
	if types.IsZeroID(tr.ID) {
		tr.ID = types.NewID()
	}
	if tr.At.IsZero() {
		tr.At = time.Now().UTC()
	}
	s.events.Publish(ctx, types.EventFrom(tr))
}

// State returns the recorded state of vhost.
func (s *Service) State(ctx context.Context, vhost string) (types.TenantState, error) {
	if s.store == nil {
		return types.TenantState{}, store.ErrNotFound
	}
	return s.store.TenantState(ctx, vhost)
}

// History returns up to limit transitions of vhost, newest first.
func (s *Service) History(ctx context.Context, vhost string, limit int) ([]types.Transition, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListTransitions(ctx, vhost, limit)
}
