package commands

import (
	"fmt"
	"os"

	"manifestdb/pkg/app"
	"manifestdb/pkg/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	// 全局应用实例，供子命令使用
	MDB *app.App
)

var rootCmd = &cobra.Command{
	Use:           "mdb",
	Short:         "Manifest database: prefetch sources and publish preprocessed manifests",
	SilenceUsage:  true,
	SilenceErrors: false,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			viper.Set("log.level", "debug")
		}
		var err error
		MDB, err = app.NewApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize mdb: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if MDB == nil {
			return nil
		}
		err := MDB.Close()
		MDB = nil
		return err
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// 1. 全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mdb/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	// 2. --cache 绑定到 Viper，既可以写在 yaml 里，也可以用参数覆盖
	rootCmd.PersistentFlags().String("cache", "", "path to cache-directory to use (default: temporary)")
	if err := viper.BindPFlag("cache.path", rootCmd.PersistentFlags().Lookup("cache")); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to bind flag:", err)
		os.Exit(1)
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, "Config error:", err)
		os.Exit(1)
	}
}

// finish 在 RunE 出错时也释放资源 (PersistentPostRunE 只在成功时运行)
func finish(err error) error {
	if err != nil && MDB != nil {
		MDB.Close()
		MDB = nil
	}
	return err
}
