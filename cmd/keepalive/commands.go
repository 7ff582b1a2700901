package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/loykin/keepalive/pkg/client"
)

// command runs client subcommands against the daemon API.
type command struct{}

func (c *command) client(f *ClientFlags) (*client.Client, error) {
	cfg := client.Config{
		BaseURL:  f.APIUrl,
		Identity: f.Identity,
		Timeout:  f.APITimeout,
		Insecure: f.Insecure,
	}
	if f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: f.CACert}
	}
	return client.New(cfg)
}

// run builds a client, checks the daemon is up and hands both to fn.
func (c *command) run(cmd *cobra.Command, f *ClientFlags, fn func(context.Context, *client.Client) (any, error)) error {
	cl, err := c.client(f)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if !cl.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable at %s - please start daemon first with 'keepalive serve'", f.APIUrl)
	}
	out, err := fn(ctx, cl)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func createJoinCommand(kc *command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Register your identity as an admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return kc.run(cmd, f, func(ctx context.Context, cl *client.Client) (any, error) {
				added, err := cl.Join(ctx)
				return map[string]any{"identity": f.Identity, "added": added}, err
			})
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createAddCommand(kc *command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <search>",
		Short: "Start monitoring the codespace best matching search",
		Long: `Resolve search against your codespaces and register the match.
An exact name wins, then the first name or display name containing search,
then search is tried as a literal codespace name.

Examples:
  keepalive add fluffy-pancake-r4w5
  keepalive add "my project"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return kc.run(cmd, f, func(ctx context.Context, cl *client.Client) (any, error) {
				return cl.Add(ctx, args[0])
			})
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createRemoveCommand(kc *command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Stop monitoring a codespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return kc.run(cmd, f, func(ctx context.Context, cl *client.Client) (any, error) {
				removed, err := cl.Remove(ctx, args[0])
				return map[string]any{"id": args[0], "removed": removed}, err
			})
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createListCommand(kc *command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every codespace of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return kc.run(cmd, f, func(ctx context.Context, cl *client.Client) (any, error) {
				return cl.List(ctx)
			})
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createStatusCommand(kc *command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show monitored codespaces with their live state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return kc.run(cmd, f, func(ctx context.Context, cl *client.Client) (any, error) {
				return cl.Status(ctx)
			})
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createStatsCommand(kc *command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show sweep statistics and engine state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return kc.run(cmd, f, func(ctx context.Context, cl *client.Client) (any, error) {
				return cl.Stats(ctx)
			})
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createSetIntervalCommand(kc *command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-interval <minutes>",
		Short: "Change the sweep interval (5-120 minutes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("minutes must be an integer: %w", err)
			}
			return kc.run(cmd, f, func(ctx context.Context, cl *client.Client) (any, error) {
				return map[string]int{"minutes": minutes}, cl.SetInterval(ctx, minutes)
			})
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createEngineStartCommand(kc *command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the sweep engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return kc.run(cmd, f, func(ctx context.Context, cl *client.Client) (any, error) {
				return cl.StartEngine(ctx)
			})
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createEngineStopCommand(kc *command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the sweep engine after the current resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return kc.run(cmd, f, func(ctx context.Context, cl *client.Client) (any, error) {
				return cl.StopEngine(ctx)
			})
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createSweepCommand(kc *command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a sweep now and wait for it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return kc.run(cmd, f, func(ctx context.Context, cl *client.Client) (any, error) {
				return cl.SweepNow(ctx)
			})
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
