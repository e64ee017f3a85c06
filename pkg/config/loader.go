package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
// 提示信息写到 stderr，stdout 留给 manifest 输出
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 搜索顺序：当前目录 -> ./.mdb -> $HOME/.mdb
		viper.AddConfigPath(".")
		viper.AddConfigPath(".mdb")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".mdb"))
		}

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (MDB_CACHE_PATH, MDB_RESOLVER_CACHE_REDIS_URL 等)
	viper.SetEnvPrefix("MDB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// 没有配置文件不算错，默认值和环境变量依然生效
			return nil
		}
		return fmt.Errorf("fatal error config file: %w", err)
	}
	fmt.Fprintln(os.Stderr, "🔧 Using config file:", viper.ConfigFileUsed())
	return nil
}

func setDefaults() {
	// 缓存：为空表示使用临时目录，退出时删除
	viper.SetDefault("cache.path", "")
	viper.SetDefault("log.level", "info")

	// 预处理
	viper.SetDefault("preprocess.command", "mpp")
	viper.SetDefault("preprocess.srcdir", ".")
	viper.SetDefault("preprocess.dstdir", ".")

	// 依赖求解
	viper.SetDefault("resolver.command", "osbuild-depsolve")
	viper.SetDefault("resolver.baseurl", "")
	viper.SetDefault("resolver.cache.ttl", 24*time.Hour)
	viper.SetDefault("resolver.cache.redis_url", "")

	// 发布索引，sqlite 路径为空时放在 dstdir 下
	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.path", "")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	// s3:// 源
	viper.SetDefault("s3.endpoint", "")
	viper.SetDefault("s3.region", "us-east-1")
	viper.SetDefault("s3.access_key", "")
	viper.SetDefault("s3.secret_key", "")
}
