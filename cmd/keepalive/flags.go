package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultAPIURL = "http://127.0.0.1:8080/api"

// ClientFlags holds the daemon connection flags of the client commands
type ClientFlags struct {
	APIUrl     string
	Identity   string
	APITimeout time.Duration
	Insecure   bool
	CACert     string
}

// addClientFlags binds f to cmd. Defaults come from KEEPALIVE_API_URL and
// KEEPALIVE_IDENTITY when set.
func addClientFlags(cmd *cobra.Command, f *ClientFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", envOr("KEEPALIVE_API_URL", defaultAPIURL), "daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().StringVar(&f.Identity, "identity", os.Getenv("KEEPALIVE_IDENTITY"), "caller identity checked against the admin set")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Minute, "request timeout (sweep waits for the whole sweep)")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for an https daemon")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
