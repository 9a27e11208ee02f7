package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maazmalik2004/Dspace/internal/cli"
	"github.com/maazmalik2004/Dspace/pkg/client"
)

// NewUploadCommand creates the 'upload' command.
func NewUploadCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a file or directory.",
		Long: `Uploads a local file or directory into your virtual directory. Paths
matching patterns in a .dspaceignore file at the top of the directory are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			skeleton, files, err := cli.Collect(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("nothing to upload in %s", args[0])
			}

			resp, err := opts.newClient().Upload(cmd.Context(), skeleton, files)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d file(s) in %s\n", resp.Message, len(files)-len(resp.Skipped), resp.UploadTime)
			for _, name := range resp.Skipped {
				fmt.Fprintf(out, "skipped %s\n", name)
			}
			return nil
		},
	}
}

// NewTreeCommand creates the 'tree' command.
func NewTreeCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show your virtual directory with node ids.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := opts.newClient().Tree(cmd.Context())
			if err != nil {
				return err
			}
			cli.PrintTree(cmd.OutOrStdout(), root)
			return nil
		},
	}
}

// NewRetrieveCommand creates the 'retrieve' command.
func NewRetrieveCommand(opts *globalOptions) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "retrieve <id>",
		Short: "Download a file, or a directory as a zip archive.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, info, err := cli.Retrieve(cmd.Context(), opts.newClient(), args[0], outputDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes)", path, info.Size)
			if info.RetrievalTime != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " in %s", info.RetrievalTime)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Directory to save into")
	return cmd
}

// NewDeleteCommand creates the 'delete' command.
func NewDeleteCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a file or directory from your virtual directory.",
		Long: `Removes a node and everything below it from your virtual directory.
The uploaded chunks themselves stay in their channels.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.newClient().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

// NewLoginCommand creates the 'login' command.
func NewLoginCommand(opts *globalOptions) *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Obtain and save a token for the server.",
		Long: `Logs in with a username and password and saves the token for later
commands. Without --password the password is read from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}

			c := client.New(client.Config{BaseURL: opts.server, Timeout: opts.timeout})
			resp, err := c.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}

			if err := client.SaveToken(opts.tokenFile, &client.SavedToken{
				Token:     resp.Token,
				ExpiresAt: resp.ExpiresAt,
				Server:    opts.server,
				Username:  resp.Username,
			}); err != nil {
				return fmt.Errorf("save token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s until %s\n", resp.Username, resp.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (read from stdin when omitted)")
	return cmd
}
