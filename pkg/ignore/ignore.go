package ignore

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName is the per-tree ignore file read from the source directory.
const FileName = ".mdbignore"

// Matcher 判断源目录中的文件是否应跳过预处理
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 初始化忽略匹配器
// srcDir: 源目录，.mdbignore 从这里读取
func NewMatcher(srcDir string) (*Matcher, error) {
	// 1. 默认规则始终生效
	defaultRules := []string{
		// --- 版本控制与本地配置 ---
		".git",
		".mdb",
		FileName,

		// --- 编辑器与系统垃圾文件 ---
		"*~",
		"*.swp",
		".DS_Store",
	}

	var ignorer *gitignore.GitIgnore
	var err error

	// 2. 用户的 .mdbignore 与默认规则合并编译
	ignoreFilePath := filepath.Join(srcDir, FileName)
	if _, errStat := os.Stat(ignoreFilePath); errStat == nil {
		ignorer, err = gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
	} else {
		ignorer = gitignore.CompileIgnoreLines(defaultRules...)
	}
	if err != nil {
		return nil, err
	}

	return &Matcher{ignorer: ignorer}, nil
}

// Matches 检查给定的路径是否匹配忽略规则
// path: 相对于源目录的路径 (例如 "f38/base.json")
// 返回: true 表示应该跳过
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(filepath.ToSlash(path))
}
