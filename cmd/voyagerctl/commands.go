package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/oestradiol/Voyager-Backend/pkg/api/client"
)

const defaultAPI = "http://localhost:8765"

type globalFlags struct {
	api     string
	apiKey  string
	timeout time.Duration
}

// keyPrompt reads the API key interactively. Replaced in tests.
var keyPrompt = func(out io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no API key: pass --api-key or set VOYAGER_API_KEY")
	}
	fmt.Fprint(out, "API key: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "voyagerctl",
		Short:         "Manage Voyager deployments",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.api, "api", envOr("VOYAGER_API_URL", defaultAPI), "API base URL")
	root.PersistentFlags().StringVar(&flags.apiKey, "api-key", os.Getenv("VOYAGER_API_KEY"), "API key")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newCreateCmd(flags),
		newListCmd(flags),
		newGetCmd(flags),
		newDeleteCmd(flags),
		newLogsCmd(flags),
		newRestartCmd(flags),
	)
	return root
}

func newCreateCmd(flags *globalFlags) *cobra.Command {
	var mode, subdomain string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "create <repo[@branch]>",
		Short: "Create a deployment from a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			created, err := client.CreateDeployment(ctx, apiclient.CreateRequest{
				Mode:      mode,
				RepoURL:   args[0],
				Subdomain: subdomain,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deployment created: %s https://%s\n", created.ID, created.Host)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "preview", "deployment mode (preview|production)")
	cmd.Flags().StringVar(&subdomain, "subdomain", "", "subdomain under the base domain")
	cmd.Flags().DurationVar(&wait, "wait", 15*time.Minute, "how long to wait for the deployment")
	return cmd
}

func newListCmd(flags *globalFlags) *cobra.Command {
	var repo, branch string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			deployments, err := client.ListDeployments(ctx, repo, branch)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tHOST\tMODE\tREPO\tBRANCH\tCREATED")
			for _, d := range deployments {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.ID, d.Host, d.Mode, d.RepoURL, d.Branch, d.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "filter by repository")
	cmd.Flags().StringVar(&branch, "branch", "", "filter by branch")
	return cmd
}

func newGetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			d, err := client.GetDeployment(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:         %s\n", d.ID)
			fmt.Fprintf(out, "host:       %s\n", d.Host)
			fmt.Fprintf(out, "mode:       %s\n", d.Mode)
			fmt.Fprintf(out, "repository: %s@%s\n", d.RepoURL, d.Branch)
			fmt.Fprintf(out, "container:  %s (%s)\n", d.ContainerName, d.ContainerID)
			fmt.Fprintf(out, "ports:      %d -> %d\n", d.HostPort, d.InternalPort)
			fmt.Fprintf(out, "created:    %s\n", d.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Tear a deployment down",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			if err := client.DeleteDeployment(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deployment deleted")
			return nil
		},
	}
}

func newLogsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <id>",
		Short: "Print container logs of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			lines, err := client.DeploymentLogs(ctx, args[0])
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newRestartCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <id>",
		Short: "Restart the container of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := flags.context(cmd)
			defer cancel()
			if err := client.RestartDeployment(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deployment restarted")
			return nil
		},
	}
}

func (f *globalFlags) client(cmd *cobra.Command) (*apiclient.Client, error) {
	key := strings.TrimSpace(f.apiKey)
	if key == "" {
		prompted, err := keyPrompt(cmd.ErrOrStderr())
		if err != nil {
			return nil, err
		}
		key = prompted
	}
	if key == "" {
		return nil, errors.New("API key must not be empty")
	}
	return apiclient.New(f.api, key)
}

func (f *globalFlags) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), f.timeout)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
