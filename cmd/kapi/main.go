package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/hostclick/kapi/internal/config"
	"github.com/hostclick/kapi/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Set at build time with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = ""
)

type app struct {
	v       *viper.Viper
	cfgFile string
	out     io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: config.New(), out: out}
	root := &cobra.Command{
		Use:           "kapi",
		Short:         "Suspend and unsuspend hosted WordPress tenants on Kubernetes",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default ./kapi.yaml or /etc/kapi/kapi.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug|info|warn|error)")
	root.PersistentFlags().String("kubeconfig", "", "path to a kubeconfig; in-cluster credentials are tried first")
	root.PersistentFlags().String("context", "", "kubeconfig context")
	a.bind(root.PersistentFlags().Lookup("log-level"), "log.level")
	a.bind(root.PersistentFlags().Lookup("kubeconfig"), "kube.kubeconfig")
	a.bind(root.PersistentFlags().Lookup("context"), "kube.context")

	root.AddCommand(
		newServeCmd(a),
		newApplyCmd(a),
		newDeleteCmd(a),
		newRenderCmd(a),
		newWebhookCmd("suspend", true),
		newWebhookCmd("unsuspend", false),
		newTokenCmd(a),
		newVersionCmd(a),
	)
	return root
}

// bind makes a flag override the config key it names when the flag is set.
func (a *app) bind(f *pflag.Flag, key string) {
	_ = a.v.BindPFlag(key, f)
}

// load reads configuration and applies the log level.
func (a *app) load() (*config.Config, error) {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return nil, err
	}
	if !logging.SetLevel(cfg.Log.Level) {
		logging.L.Warn("unknown_log_level", zap.String("level", cfg.Log.Level))
	}
	return cfg, nil
}
