package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command with every subcommand attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	clientFlags := &ClientFlags{}
	kc := &command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createJoinCommand(kc, clientFlags),
		createAddCommand(kc, clientFlags),
		createRemoveCommand(kc, clientFlags),
		createListCommand(kc, clientFlags),
		createStatusCommand(kc, clientFlags),
		createStatsCommand(kc, clientFlags),
		createSetIntervalCommand(kc, clientFlags),
		createEngineStartCommand(kc, clientFlags),
		createEngineStopCommand(kc, clientFlags),
		createSweepCommand(kc, clientFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "keepalive",
		Short: "Keep GitHub Codespaces from idling out",
		Long: `Keepalive periodically visits registered codespaces so they are not
stopped for inactivity, restarting any that were shut down.

Examples:
  keepalive serve --config=keepalive.toml       # Start daemon
  keepalive join --identity=alice               # Become an admin
  keepalive add "my project" --identity=alice   # Monitor a codespace
  keepalive status --api-url=http://remote:8080/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
