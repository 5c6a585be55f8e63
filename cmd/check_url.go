package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobhearted-crawler/internal/app"
)

// newCheckURLCmd creates the 'check-url' subcommand, which shows how a
// worker's blacklist judges the given URLs.
func newCheckURLCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "check-url --worker ID URL...",
		Short: "Evaluates URLs against a worker's blacklist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			verdicts, err := app.CheckURLs(cmd.Context(), rt.cfg, rt.logger, workerID, args)
			if err != nil {
				return fmt.Errorf("check urls: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, v := range verdicts {
				if v.Allowed {
					fmt.Fprintf(out, "allowed\t%s\n", v.URL)
					continue
				}
				fmt.Fprintf(out, "denied\t%s\t%s\n", v.URL, v.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "id of the configured worker whose blacklist applies")
	_ = cmd.MarkFlagRequired("worker")
	return cmd
}
