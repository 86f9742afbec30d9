package main

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	envURL   = "LLMGATE_URL"
	envToken = "LLMGATE_TOKEN"

	defaultURL = "http://localhost:8080"
)

type options struct {
	url   string
	token string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "llmgate-admin",
		Short:         "Operate a running llmgate gateway",
		Long:          "llmgate-admin talks to the llmgate admin API to inspect quota, manage admins and clear history.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.url, "url", envOr(envURL, defaultURL), "gateway base URL ($"+envURL+")")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv(envToken), "admin bearer token ($"+envToken+")")

	root.AddCommand(
		newHashPasswordCmd(),
		newTokenCmd(opts),
		newQuotaCmd(opts),
		newAdminsCmd(opts),
		newHistoryCmd(opts),
		newEventsCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
