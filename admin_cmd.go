package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations (require an admin account)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-cache",
		Short: "Clear the server-side optimization cache",
		Args:  cobra.NoArgs,
		RunE:  runClearCache,
	})

	return cmd
}

func runClearCache(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	client := buildClient(logger)
	ctx := context.Background()

	if err := client.ClearOptimizeCache(ctx); err != nil {
		return describeAuthError(err)
	}

	statusf("Optimization cache cleared.\n")

	return nil
}
