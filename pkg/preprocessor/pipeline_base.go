package preprocessor

import (
	"context"
	"fmt"
	"log/slog"

	"manifestdb/pkg/manifest"
)

const AnnotationPipelineBase = manifest.AnnotationPrefix + "pipeline-base"

// PipelineBase rebases a pipeline on the pipeline of another manifest:
// imported stages go first, the imported build pipeline is adopted, and
// the imported sources are merged.
type PipelineBase struct {
	m      *manifest.Manifest
	cfg    Config
	logger *slog.Logger
}

func (p *PipelineBase) Name() string { return "pipeline-base" }

func (p *PipelineBase) Collect() []*manifest.Pipeline {
	var todos []*manifest.Pipeline
	for _, lvl := range p.m.Levels() {
		if lvl.Pipeline != nil && lvl.Pipeline.Annotations.Has(AnnotationPipelineBase) {
			todos = append(todos, lvl.Pipeline)
		}
	}
	return todos
}

func (p *PipelineBase) Process(ctx context.Context) (bool, error) {
	return runPass(ctx, p.Collect(), p.Apply)
}

func (p *PipelineBase) Apply(ctx context.Context, todo *manifest.Pipeline) error {
	rel, err := annotationString(todo.Annotations[AnnotationPipelineBase], AnnotationPipelineBase)
	if err != nil {
		return err
	}

	// 1. 读取被导入的 manifest
	path := p.cfg.Resolve(rel)
	imp, err := manifest.Load(path)
	if err != nil {
		return err
	}
	base := imp.Links().Pipeline
	p.logger.Debug("importing pipeline base", "path", path, "stages", len(base.Stages))

	// 2. 两边都有 build pipeline 时无法合并
	if todo.Build != nil && base.Build != nil {
		return fmt.Errorf("%w: %s imports a build pipeline but the importer already has one", manifest.ErrConflict, rel)
	}

	// 3. 合并 sources
	if err := p.m.MergeSources(imp.Sources); err != nil {
		return err
	}

	// 4. 接管 build pipeline
	if base.Build != nil {
		todo.Build = base.Build
	}

	// 5. 导入的 stages 排在前面
	stages := append(append([]manifest.Stage{}, base.Stages...), todo.Stages...)
	if len(stages) > 0 {
		todo.Stages = stages
	}

	todo.Annotations.Take(AnnotationPipelineBase)
	return nil
}
