package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hostclick/kapi/pkg/client"
	"github.com/hostclick/kapi/pkg/types"
	"github.com/spf13/cobra"
)

func newWebhookCmd(use string, suspend bool) *cobra.Command {
	var (
		server, token, subdomain, domain, name string
		timeout                                time.Duration
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: "Send the " + use + " webhook to a running kapi",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (subdomain == "") == (domain == "") {
				return errors.New("exactly one of --subdomain or --domain is required")
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			c := client.New(server, token)
			var (
				resp types.WebhookResponse
				err  error
			)
			switch {
			case subdomain != "" && suspend:
				resp, err = c.Suspend(ctx, subdomain)
			case subdomain != "":
				resp, err = c.Unsuspend(ctx, subdomain)
			case suspend:
				resp, err = c.SuspendDomain(ctx, domain, name)
			default:
				resp, err = c.UnsuspendDomain(ctx, domain, name)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "kapi base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token")
	cmd.Flags().StringVar(&subdomain, "subdomain", "", "tenant subdomain")
	cmd.Flags().StringVar(&domain, "domain", "", "full tenant domain (raw route)")
	cmd.Flags().StringVar(&name, "name", "", "resource name override, with --domain")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "request timeout")
	return cmd
}
