package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hostclick/kapi/internal/logging"
	"github.com/hostclick/kapi/internal/metrics"
	"github.com/hostclick/kapi/internal/render"
	"github.com/hostclick/kapi/internal/store"
	"github.com/hostclick/kapi/internal/tenancy"
	"github.com/hostclick/kapi/pkg/types"
	"go.uber.org/zap"
)

const (
	reasonNoBody           = "no JSON body"
	reasonMissingSubdomain = "missing subdomain"
	reasonMissingDomain    = "missing domain"
)

func (s *Server) subdomainWebhook(route string, suspended bool) http.HandlerFunc {
	return s.webhook(route, suspended, reasonMissingSubdomain, func(payload map[string]any) (tenancy.Tenant, error) {
		return tenancy.FromSubdomain(stringField(payload, "subdomain"), s.opts.DomainSuffix)
	})
}

func (s *Server) domainWebhook(route string, suspended bool) http.HandlerFunc {
	return s.webhook(route, suspended, reasonMissingDomain, func(payload map[string]any) (tenancy.Tenant, error) {
		return tenancy.FromDomain(stringField(payload, "domain"), stringField(payload, "name"))
	})
}

func (s *Server) webhook(route string, suspended bool, missing string, resolve func(map[string]any) (tenancy.Tenant, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context()).With(zap.String("route", route))
		reply := func(code int, status, reason string) {
			metrics.WebhookEventsTotal.WithLabelValues(route, status).Inc()
			writeStatus(w, code, status, reason)
		}

		payload, err := readPayload(w, r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				reply(http.StatusRequestEntityTooLarge, statusError, "request body too large")
				return
			}
			reply(http.StatusBadRequest, statusError, "unreadable body")
			return
		}
		if len(payload) == 0 {
			log.Info("webhook_ignored", zap.String("reason", reasonNoBody))
			reply(http.StatusOK, statusIgnored, reasonNoBody)
			return
		}

		tenant, err := resolve(payload)
		if err != nil {
			log.Info("webhook_ignored", zap.String("reason", missing))
			reply(http.StatusOK, statusIgnored, missing)
			return
		}

		ctx := logging.WithContext(r.Context(), log.With(zap.String("vhost", tenant.VHost)))
		logging.FromContext(ctx).Info("webhook_received", zap.Bool("suspended", suspended))
		if _, err := s.svc.Converge(ctx, tenant, suspended); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, render.ErrNoBackend) {
				code = http.StatusServiceUnavailable
			}
			reply(code, statusError, err.Error())
			return
		}
		reply(http.StatusOK, statusOK, "")
	}
}

// readPayload decodes a JSON object body. Empty, non-JSON and non-object
// bodies yield a nil map; only transport failures are returned as errors.
func readPayload(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil
	}
	return payload, nil
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

func (s *Server) tenantState(w http.ResponseWriter, r *http.Request) {
	vhost := chi.URLParam(r, "vhost")
	state, err := s.svc.State(r.Context(), vhost)
	if errors.Is(err, store.ErrNotFound) {
		writeStatus(w, http.StatusNotFound, statusError, "tenant not found")
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("tenant_state_failed", zap.String("vhost", vhost), zap.Error(err))
		writeStatus(w, http.StatusInternalServerError, statusError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) tenantTransitions(w http.ResponseWriter, r *http.Request) {
	vhost := chi.URLParam(r, "vhost")
	limit := store.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeStatus(w, http.StatusBadRequest, statusError, "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := s.svc.History(r.Context(), vhost, limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("tenant_history_failed", zap.String("vhost", vhost), zap.Error(err))
		writeStatus(w, http.StatusInternalServerError, statusError, err.Error())
		return
	}
	if items == nil {
		items = []types.Transition{}
	}
	writeJSON(w, http.StatusOK, items)
}
