package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hostclick/kapi/internal/api"
	"github.com/hostclick/kapi/internal/cluster"
	"github.com/hostclick/kapi/internal/logging"
	"github.com/hostclick/kapi/internal/observability"
	"github.com/hostclick/kapi/internal/reconcile"
	"github.com/hostclick/kapi/internal/render"
	"github.com/hostclick/kapi/internal/store"
	"github.com/hostclick/kapi/internal/suspension"
	"github.com/hostclick/kapi/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	a.bind(cmd.Flags().Lookup("addr"), "http.addr")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg, err := a.load()
	if err != nil {
		return err
	}

	shutdownTrace, err := observability.SetupOTel(ctx, observability.Config{
		ServiceName:    "kapi",
		ServiceVersion: version,
		Environment:    cfg.OTel.Environment,
		Endpoint:       cfg.OTel.Endpoint,
		Insecure:       cfg.OTel.Insecure,
	})
	if err != nil {
		logging.L.Warn("otel_setup_failed", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTrace(sctx)
	}()

	ns := cfg.Namespace()
	kc, err := cluster.Connect(cfg.ClusterOptions("kapi/" + version))
	if err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	logging.L.Info("tenant_namespace", zap.String("namespace", ns), zap.String("cluster_source", kc.Source))

	renderer, err := render.New(cfg.RenderOptions(ns))
	if err != nil {
		return err
	}
	if cfg.Templates.Backend == "" {
		logging.L.Warn("ingress_backend_unset", zap.String("env", "SERVICE_NAME"))
	}
	engine := reconcile.NewEngine(kc,
		reconcile.WithDefaultNamespace(ns),
		reconcile.WithStrictManifests(cfg.Reconcile.StrictManifests),
	)

	st, err := store.Open(ctx, cfg.Store.DatabaseURL, cfg.Store.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close(context.Background())

	events := telemetry.NewRedisBuffer(cfg.TelemetryOptions())
	events.Run()
	defer events.Stop()
	logging.L.Info("telemetry", zap.Bool("enabled", events.Enabled()))

	srv := api.NewServer(suspension.New(renderer, engine, st, events), api.Options{
		DomainSuffix: cfg.Domain.Suffix,
		RequireAuth:  cfg.Auth.Require,
		SigningKey:   []byte(cfg.Auth.JWTKey),
		RateLimit:    cfg.HTTP.RateLimit,
		RateWindow:   cfg.HTTP.RateWindow,
		Version:      version,
		Commit:       commit,
	},
		api.Check{Name: "store", Fn: st.Health},
		api.Check{Name: "cluster", Fn: kc.Ping},
	)
	hs := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Kube.Timeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logging.L.Info("kapi listening", zap.String("addr", hs.Addr), zap.String("version", version))
	if err := api.StartHTTP(ctx, hs); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.L.Info("kapi stopped")
	return nil
}
