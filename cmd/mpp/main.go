// Command mpp reads a manifest on stdin, runs the preprocessor passes
// until nothing changes and writes the result on stdout.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"manifestdb/pkg/app"
	"manifestdb/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cwd     string
)

var rootCmd = &cobra.Command{
	Use:          "mpp [--cache PATH] [--cwd PATH]",
	Short:        "Manifest pre-processor",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(cfgFile); err != nil {
			return err
		}

		base, err := filepath.Abs(cwd)
		if err != nil {
			return err
		}

		a, err := app.NewApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize mpp: %w", err)
		}
		defer a.Close()

		return a.Processor(base).Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mdb/config.yaml)")
	rootCmd.Flags().StringVar(&cwd, "cwd", ".", "base directory for relative import paths")
	rootCmd.Flags().String("cache", "", "path to cache-directory to use (default: temporary)")
	if err := viper.BindPFlag("cache.path", rootCmd.Flags().Lookup("cache")); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to bind flag:", err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
