package preprocessor

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"manifestdb/pkg/manifest"
	"manifestdb/pkg/resolver"
)

// Processor drives all passes over a manifest until a full round makes
// no progress. There is no round limit: an import chain that keeps
// producing new annotations only stops when ctx is cancelled.
type Processor struct {
	cfg      Config
	resolver resolver.Resolver
	logger   *slog.Logger

	// OnRound 在每一轮开始前被调用，round 从 1 开始
	OnRound func(round int)
}

func NewProcessor(cfg Config, r resolver.Resolver, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{cfg: cfg, resolver: r, logger: logger}
}

// passes 按固定顺序构造绑定到 m 的各个 pass
func (p *Processor) passes(m *manifest.Manifest) []Pass {
	return []Pass{
		&Depsolve{m: m, cfg: p.cfg, resolver: p.resolver, logger: p.logger},
		&PipelineBase{m: m, cfg: p.cfg, logger: p.logger},
		&PipelineImport{m: m, cfg: p.cfg, logger: p.logger},
	}
}

// Converge rewrites m in place until it reaches a fixed point.
func (p *Processor) Converge(ctx context.Context, m *manifest.Manifest) error {
	if err := m.Refresh(); err != nil {
		return err
	}

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.OnRound != nil {
			p.OnRound(round)
		}

		progress := false
		for _, pass := range p.passes(m) {
			changed, err := pass.Process(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", pass.Name(), err)
			}
			if !changed {
				continue
			}
			progress = true
			p.logger.Debug("pass made progress", "pass", pass.Name(), "round", round)
			if err := m.Refresh(); err != nil {
				return fmt.Errorf("%s: %w", pass.Name(), err)
			}
		}
		if !progress {
			return nil
		}
	}
}

// Run reads a manifest from in, converges it and writes the result to
// out.
func (p *Processor) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	m, err := manifest.Decode(in)
	if err != nil {
		return err
	}
	if err := p.Converge(ctx, m); err != nil {
		return err
	}
	return m.Encode(out)
}
