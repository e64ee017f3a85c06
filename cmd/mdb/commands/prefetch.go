package commands

import (
	"fmt"
	"time"

	"manifestdb/pkg/prefetcher"

	"github.com/spf13/cobra"
)

var prefetchOutput string

var prefetchCmd = &cobra.Command{
	Use:   "prefetch --output PATH PATH...",
	Short: "Download all sources referenced by the given manifests",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MDB == nil {
			return fmt.Errorf("app not initialized")
		}
		start := time.Now()
		out := cmd.OutOrStdout()

		p := prefetcher.New(MDB.Fetcher, out, MDB.Logger)
		stats, err := p.Run(cmd.Context(), prefetchOutput, args)

		fmt.Fprintf(out, "\n✅ Prefetched %d sources (%d cached, %d downloaded, %d failed) in %v\n",
			stats.Cached+stats.Downloaded, stats.Cached, stats.Downloaded, stats.Failed, time.Since(start))
		return finish(err)
	},
}

func init() {
	prefetchCmd.Flags().StringVar(&prefetchOutput, "output", "", "path to output-directory")
	_ = prefetchCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(prefetchCmd)
}
