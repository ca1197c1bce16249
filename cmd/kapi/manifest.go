package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hostclick/kapi/internal/cluster"
	"github.com/hostclick/kapi/internal/reconcile"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

func newApplyCmd(a *app) *cobra.Command {
	return a.manifestCmd("apply", "Create or merge-patch the object in a manifest", (*reconcile.Engine).Apply)
}

func newDeleteCmd(a *app) *cobra.Command {
	return a.manifestCmd("delete", "Delete the object named by a manifest", (*reconcile.Engine).Delete)
}

type engineOp func(e *reconcile.Engine, ctx context.Context, text string) (reconcile.Result, error)

func (a *app) manifestCmd(use, short string, op engineOp) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   use + " -f FILE",
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readManifest(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a.bind(cmd.Flags().Lookup("namespace"), "kube.namespace")
			cfg, err := a.load()
			if err != nil {
				return err
			}
			kc, err := cluster.Connect(cfg.ClusterOptions("kapi/" + version))
			if err != nil {
				return err
			}
			engine := reconcile.NewEngine(kc,
				reconcile.WithDefaultNamespace(cfg.Namespace()),
				reconcile.WithStrictManifests(cfg.Reconcile.StrictManifests),
			)
			res, err := op(engine, cmd.Context(), text)
			if err != nil {
				return err
			}
			return printYAML(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&file, "filename", "f", "", "manifest file, or - for stdin")
	cmd.Flags().StringP("namespace", "n", "", "namespace for namespaced objects without one")
	_ = cmd.MarkFlagRequired("filename")
	return cmd
}

func readManifest(file string, stdin io.Reader) (string, error) {
	if file == "" {
		return "", errors.New("--filename is required")
	}
	var (
		raw []byte
		err error
	)
	if file == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	return string(raw), nil
}

func printYAML(w io.Writer, v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
