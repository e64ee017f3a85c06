package preprocessor

import (
	"context"
	"log/slog"

	"manifestdb/pkg/manifest"
)

const AnnotationPipelineImport = manifest.AnnotationPrefix + "pipeline-import"

// PipelineImport replaces the pipeline of a level with the pipeline of
// another manifest and merges that manifest's sources.
type PipelineImport struct {
	m      *manifest.Manifest
	cfg    Config
	logger *slog.Logger
}

func (p *PipelineImport) Name() string { return "pipeline-import" }

func (p *PipelineImport) Collect() []*manifest.Level {
	var todos []*manifest.Level
	for _, lvl := range p.m.Levels() {
		if lvl.Annotations.Has(AnnotationPipelineImport) {
			todos = append(todos, lvl)
		}
	}
	return todos
}

func (p *PipelineImport) Process(ctx context.Context) (bool, error) {
	return runPass(ctx, p.Collect(), p.Apply)
}

func (p *PipelineImport) Apply(ctx context.Context, todo *manifest.Level) error {
	rel, err := annotationString(todo.Annotations[AnnotationPipelineImport], AnnotationPipelineImport)
	if err != nil {
		return err
	}

	path := p.cfg.Resolve(rel)
	imp, err := manifest.Load(path)
	if err != nil {
		return err
	}
	p.logger.Debug("importing pipeline", "path", path)

	if err := p.m.MergeSources(imp.Sources); err != nil {
		return err
	}
	todo.Pipeline = imp.Links().Pipeline

	todo.Annotations.Take(AnnotationPipelineImport)
	return nil
}
