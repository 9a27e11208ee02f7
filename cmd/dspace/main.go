// dspace is the command line client for a Dspace server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/maazmalik2004/Dspace/pkg/client"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	server    string
	token     string
	tokenFile string
	timeout   time.Duration
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "dspace",
		Short:         "Store files in Discord channels through a Dspace server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("DSPACE_SERVER", "http://localhost:8080"), "Dspace server URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("DSPACE_AUTH_TOKEN"), "Bearer token (defaults to the saved login)")
	rootCmd.PersistentFlags().StringVar(&opts.tokenFile, "token-file", client.DefaultTokenPath(), "Where login saves its token")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "Request timeout")

	rootCmd.AddCommand(NewUploadCommand(opts))
	rootCmd.AddCommand(NewTreeCommand(opts))
	rootCmd.AddCommand(NewRetrieveCommand(opts))
	rootCmd.AddCommand(NewDeleteCommand(opts))
	rootCmd.AddCommand(NewLoginCommand(opts))

	return rootCmd
}

// newClient builds a client for the selected server. Without an explicit
// token, a saved, unexpired login for the same server is used.
func (o *globalOptions) newClient() *client.Client {
	token := o.token
	if token == "" {
		if saved, err := client.LoadToken(o.tokenFile); err == nil && saved.ValidFor(o.server, time.Minute) {
			token = saved.Token
		}
	}
	return client.New(client.Config{
		BaseURL:   o.server,
		Timeout:   o.timeout,
		AuthToken: token,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
