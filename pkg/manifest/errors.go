package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode 输入不是合法的 JSON/JSONC/YAML
	ErrDecode = errors.New("cannot decode manifest")

	// ErrSchema 违反了“只允许已知键”的约束，或者节点类型不对
	ErrSchema = errors.New("manifest schema violation")

	// ErrConflict 导入时出现了两个 build pipeline
	ErrConflict = fmt.Errorf("%w: conflicting build pipelines", ErrSchema)
)

func schemaErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrSchema}, args...)...)
}
