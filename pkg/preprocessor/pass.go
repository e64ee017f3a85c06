package preprocessor

import (
	"context"
	"fmt"

	"manifestdb/pkg/manifest"
)

// Pass is one annotation-driven rewrite. Process reports whether it
// changed the manifest.
type Pass interface {
	Name() string
	Process(ctx context.Context) (bool, error)
}

// runPass 先收集全部待处理节点，再逐个处理；出错立即中止，已处理的节点不回滚
func runPass[T any](ctx context.Context, todos []T, apply func(context.Context, T) error) (bool, error) {
	for _, todo := range todos {
		if err := apply(ctx, todo); err != nil {
			return false, err
		}
	}
	return len(todos) > 0, nil
}

func annotationString(v any, name string) (string, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string, got %T", manifest.ErrSchema, name, v)
	}
	return s, nil
}
