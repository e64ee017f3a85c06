package preprocessor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"manifestdb/pkg/manifest"
	"manifestdb/pkg/resolver"
)

const (
	// StageRPM is the only stage kind that carries mpp-depsolve.
	StageRPM = "org.osbuild.rpm"

	AnnotationDepsolve = manifest.AnnotationPrefix + "depsolve"
)

// Depsolve expands mpp-depsolve annotations into resolved package
// checksums and their download URLs.
type Depsolve struct {
	m        *manifest.Manifest
	cfg      Config
	resolver resolver.Resolver
	logger   *slog.Logger
}

func (d *Depsolve) Name() string { return "depsolve" }

func (d *Depsolve) Collect() []*manifest.Stage {
	var todos []*manifest.Stage
	for _, lvl := range d.m.Levels() {
		if lvl.Pipeline == nil {
			continue
		}
		for i := range lvl.Pipeline.Stages {
			st := &lvl.Pipeline.Stages[i]
			if st.Name != StageRPM {
				continue
			}
			if _, ok := st.Options[AnnotationDepsolve]; ok {
				todos = append(todos, st)
			}
		}
	}
	return todos
}

func (d *Depsolve) Process(ctx context.Context) (bool, error) {
	return runPass(ctx, d.Collect(), d.Apply)
}

func (d *Depsolve) Apply(ctx context.Context, st *manifest.Stage) error {
	req, err := d.request(st.Options[AnnotationDepsolve])
	if err != nil {
		return err
	}

	var pkgs []resolver.Package
	if len(req.Packages) > 0 {
		if d.resolver == nil {
			return fmt.Errorf("%w: no resolver configured", resolver.ErrResolve)
		}
		d.logger.Debug("resolving packages",
			"arch", req.Architecture, "release", req.Release, "packages", len(req.Packages))
		if pkgs, err = d.resolver.Resolve(ctx, req); err != nil {
			return err
		}
	}

	// 按 checksum 排序，保证输出稳定
	pkgs = append([]resolver.Package(nil), pkgs...)
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Checksum < pkgs[j].Checksum })

	if len(pkgs) > 0 {
		list, err := packageList(st.Options["packages"])
		if err != nil {
			return err
		}
		urls := make(map[string]string, len(pkgs))
		for _, p := range pkgs {
			list = append(list, p.Checksum)
			urls[p.Checksum] = req.BaseURL + "/" + p.Path
		}
		st.Options["packages"] = list
		d.m.AddURLs(urls)
	}

	manifest.Annotations(st.Options).Take(AnnotationDepsolve)
	return nil
}

// request 校验注解字段并构造求解请求
func (d *Depsolve) request(raw any) (resolver.Request, error) {
	opts, ok := raw.(map[string]any)
	if !ok {
		return resolver.Request{}, fmt.Errorf("%w: %s must be an object", manifest.ErrSchema, AnnotationDepsolve)
	}

	var req resolver.Request
	var err error
	if req.Architecture, err = annotationString(opts["architecture"], AnnotationDepsolve+".architecture"); err != nil {
		return req, err
	}

	release, ok := opts["fedora"]
	if !ok {
		release, ok = opts["release"]
	}
	if !ok {
		return req, fmt.Errorf("%w: %s requires fedora or release", manifest.ErrSchema, AnnotationDepsolve)
	}
	if req.Release, err = scalarString(release, AnnotationDepsolve+".release"); err != nil {
		return req, err
	}

	req.BaseURL = d.cfg.BaseURL
	if v, ok := opts["baseurl"]; ok {
		if req.BaseURL, err = annotationString(v, AnnotationDepsolve+".baseurl"); err != nil {
			return req, err
		}
	}
	if req.BaseURL == "" {
		return req, fmt.Errorf("%w: %s has no baseurl and no default is configured", manifest.ErrSchema, AnnotationDepsolve)
	}
	req.BaseURL = strings.TrimSuffix(req.BaseURL, "/")

	if v, ok := opts["packages"]; ok {
		list, ok := v.([]any)
		if !ok {
			return req, fmt.Errorf("%w: %s.packages must be an array", manifest.ErrSchema, AnnotationDepsolve)
		}
		for i, item := range list {
			s, err := annotationString(item, fmt.Sprintf("%s.packages[%d]", AnnotationDepsolve, i))
			if err != nil {
				return req, err
			}
			req.Packages = append(req.Packages, s)
		}
	}
	return req, nil
}

// scalarString 接受字符串或数字 (fedora: 38)
func scalarString(v any, name string) (string, error) {
	switch t := v.(type) {
	case string:
		if t != "" {
			return t, nil
		}
	case json.Number:
		return t.String(), nil
	case int, int64, uint64, float64:
		return fmt.Sprint(t), nil
	}
	return "", fmt.Errorf("%w: %s must be a string or number, got %T", manifest.ErrSchema, name, v)
}

func packageList(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: options.packages of %s must be an array", manifest.ErrSchema, StageRPM)
}
