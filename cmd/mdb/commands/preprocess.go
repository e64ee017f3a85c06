package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"manifestdb/pkg/meta"
	"manifestdb/pkg/publisher"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var preprocessIndex bool

var preprocessCmd = &cobra.Command{
	Use:   "preprocess [--srcdir PATH] [--dstdir PATH] PATH...",
	Short: "Preprocess manifests and publish them by checksum and by tag",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if MDB == nil {
			return fmt.Errorf("app not initialized")
		}
		ctx := cmd.Context()
		start := time.Now()

		srcDir, err := filepath.Abs(viper.GetString("preprocess.srcdir"))
		if err != nil {
			return finish(err)
		}
		dstDir, err := filepath.Abs(viper.GetString("preprocess.dstdir"))
		if err != nil {
			return finish(err)
		}

		var index *meta.Repository
		if preprocessIndex {
			if index, err = MDB.OpenIndex(ctx, dstDir); err != nil {
				return finish(fmt.Errorf("failed to open publication index: %w", err))
			}
		}

		pub, err := publisher.New(
			publisher.Config{SrcDir: srcDir, DstDir: dstDir},
			MDB.Runner(srcDir), index, cmd.OutOrStdout(), MDB.Logger,
		)
		if err != nil {
			return finish(err)
		}

		results, err := pub.Run(ctx, args)
		fmt.Fprintf(cmd.OutOrStdout(), "\n✅ Published %d manifests in %v\n", len(results), time.Since(start))
		return finish(err)
	},
}

func init() {
	preprocessCmd.Flags().String("srcdir", ".", "source directory")
	preprocessCmd.Flags().String("dstdir", ".", "destination directory")
	preprocessCmd.Flags().BoolVar(&preprocessIndex, "index", false, "record publications in the index database")
	_ = viper.BindPFlag("preprocess.srcdir", preprocessCmd.Flags().Lookup("srcdir"))
	_ = viper.BindPFlag("preprocess.dstdir", preprocessCmd.Flags().Lookup("dstdir"))
	rootCmd.AddCommand(preprocessCmd)
}
