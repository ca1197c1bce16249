package main

import (
	"fmt"

	"github.com/hostclick/kapi/internal/render"
	"github.com/hostclick/kapi/internal/tenancy"
	"github.com/spf13/cobra"
)

func newRenderCmd(a *app) *cobra.Command {
	var (
		kind, vhost, name, namespace string
		enabled                      bool
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the manifest kapi would apply for a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := render.ParseKind(kind)
			if err != nil {
				return err
			}
			t, err := tenancy.FromDomain(vhost, name)
			if err != nil {
				return fmt.Errorf("--vhost: %w", err)
			}
			cfg, err := a.load()
			if err != nil {
				return err
			}
			r, err := render.New(cfg.RenderOptions(namespace))
			if err != nil {
				return err
			}
			text, err := r.Render(k, render.Params{VHost: t.VHost, Name: t.Name, Enabled: enabled})
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "template kind (ingress|workload)")
	cmd.Flags().StringVar(&vhost, "vhost", "", "tenant virtual host")
	cmd.Flags().StringVar(&name, "name", "", "resource name override")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "namespace written into the manifest")
	cmd.Flags().BoolVar(&enabled, "enabled", false, "render the workload with one replica")
	cmd.Flags().String("backend", "", "ingress backend service")
	a.bind(cmd.Flags().Lookup("backend"), "templates.backend")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("vhost")
	return cmd
}
