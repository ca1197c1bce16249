package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/hostclick/kapi/internal/api"
	"github.com/spf13/cobra"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the webhook routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTKey == "" {
				return errors.New("auth.jwt_key (JWT_SIGNING_KEY) is not set")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			tok, exp, err := api.IssueToken([]byte(cfg.Auth.JWTKey), subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "billing", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{api.RoleBilling}, "granted roles (billing|admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kapi version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if commit != "" {
				fmt.Fprintf(a.out, "kapi %s (%s)\n", version, commit)
				return
			}
			fmt.Fprintf(a.out, "kapi %s\n", version)
		},
	}
}
