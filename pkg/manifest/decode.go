package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Parse decodes a JSON document. Comments and trailing commas (JSONC)
// are accepted and stripped before decoding.
func Parse(data []byte) (*Manifest, error) {
	tree, err := decodeJSON(data)
	if err != nil {
		return nil, err
	}
	return FromTree(tree)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	// 保留整数的原始写法，避免 38 变成 38.0 之类的问题
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	// More() 对多余的 } 或 ] 返回 false，这里必须读到 EOF
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after document", ErrDecode)
	}
	return tree, nil
}

func decodeYAML(data []byte) (any, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return normalizeYAML(tree), nil
}

// Decode reads a whole JSON(C) document from r.
func Decode(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

// Load reads a manifest from disk. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON(C).
func Load(path string) (*Manifest, error) {
	tree, err := ReadTree(path)
	if err != nil {
		return nil, err
	}
	m, err := FromTree(tree)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ReadTree decodes a document from disk without schema validation.
func ReadTree(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var tree any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		tree, err = decodeYAML(data)
	default:
		tree, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

// FromTree builds a Manifest from a generic decoded tree
// (map[string]any / []any / scalars).
func FromTree(tree any) (*Manifest, error) {
	root, ok := tree.(map[string]any)
	if !ok {
		return nil, schemaErrorf("manifest root must be an object, got %s", kindOf(tree))
	}

	ann, err := splitKeys(root, "manifest", "pipeline", "sources")
	if err != nil {
		return nil, err
	}

	m := &Manifest{Level: Level{Annotations: ann}}
	if v, ok := root["pipeline"]; ok {
		if m.Pipeline, err = decodePipeline(v, "pipeline"); err != nil {
			return nil, err
		}
	}
	if v, ok := root["sources"]; ok {
		if m.Sources, err = decodeSources(v); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func decodeLevel(v any, where string) (*Level, error) {
	node, ok := v.(map[string]any)
	if !ok {
		return nil, schemaErrorf("%s must be an object, got %s", where, kindOf(v))
	}
	ann, err := splitKeys(node, where, "pipeline", "runner")
	if err != nil {
		return nil, err
	}

	lvl := &Level{Annotations: ann}
	if r, ok := node["runner"]; ok {
		s, ok := r.(string)
		if !ok {
			return nil, schemaErrorf("%s.runner must be a string, got %s", where, kindOf(r))
		}
		lvl.Runner = s
	}
	if p, ok := node["pipeline"]; ok {
		if lvl.Pipeline, err = decodePipeline(p, where+".pipeline"); err != nil {
			return nil, err
		}
	}
	return lvl, nil
}

func decodePipeline(v any, where string) (*Pipeline, error) {
	node, ok := v.(map[string]any)
	if !ok {
		return nil, schemaErrorf("%s must be an object, got %s", where, kindOf(v))
	}
	ann, err := splitKeys(node, where, "build", "stages")
	if err != nil {
		return nil, err
	}

	p := &Pipeline{Annotations: ann}
	if b, ok := node["build"]; ok {
		if p.Build, err = decodeLevel(b, where+".build"); err != nil {
			return nil, err
		}
	}
	if s, ok := node["stages"]; ok {
		list, ok := s.([]any)
		if !ok {
			return nil, schemaErrorf("%s.stages must be an array, got %s", where, kindOf(s))
		}
		p.Stages = make([]Stage, 0, len(list))
		for i, item := range list {
			st, err := decodeStage(item, fmt.Sprintf("%s.stages[%d]", where, i))
			if err != nil {
				return nil, err
			}
			p.Stages = append(p.Stages, st)
		}
	}
	return p, nil
}

func decodeStage(v any, where string) (Stage, error) {
	node, ok := v.(map[string]any)
	if !ok {
		return Stage{}, schemaErrorf("%s must be an object, got %s", where, kindOf(v))
	}

	var st Stage
	name, ok := node["name"].(string)
	if !ok || name == "" {
		return Stage{}, schemaErrorf("%s.name must be a non-empty string", where)
	}
	st.Name = name

	if o, ok := node["options"]; ok {
		opts, ok := o.(map[string]any)
		if !ok {
			return Stage{}, schemaErrorf("%s.options must be an object, got %s", where, kindOf(o))
		}
		st.Options = opts
	}

	for k, val := range node {
		if k == "name" || k == "options" {
			continue
		}
		if st.Extra == nil {
			st.Extra = make(map[string]any)
		}
		st.Extra[k] = val
	}
	return st, nil
}

// SourcesFromMap validates a generic "sources" object.
func SourcesFromMap(v map[string]any) (*Sources, error) {
	return decodeSources(v)
}

func decodeSources(v any) (*Sources, error) {
	node, ok := v.(map[string]any)
	if !ok {
		return nil, schemaErrorf("sources must be an object, got %s", kindOf(v))
	}
	ann, err := splitKeys(node, "sources", SourceFiles)
	if err != nil {
		return nil, err
	}

	s := &Sources{Annotations: ann}
	f, ok := node[SourceFiles]
	if !ok {
		return s, nil
	}

	where := "sources." + SourceFiles
	files, ok := f.(map[string]any)
	if !ok {
		return nil, schemaErrorf("%s must be an object, got %s", where, kindOf(f))
	}
	fann, err := splitKeys(files, where, "urls")
	if err != nil {
		return nil, err
	}
	s.Files = &FilesSource{Annotations: fann}

	if u, ok := files["urls"]; ok {
		urls, ok := u.(map[string]any)
		if !ok {
			return nil, schemaErrorf("%s.urls must be an object, got %s", where, kindOf(u))
		}
		s.Files.URLs = make(map[string]string, len(urls))
		for checksum, raw := range urls {
			url, ok := raw.(string)
			if !ok {
				return nil, schemaErrorf("%s.urls[%q] must be a string, got %s", where, checksum, kindOf(raw))
			}
			s.Files.URLs[checksum] = url
		}
	}
	return s, nil
}

// splitKeys 检查 node 只包含 allowed 中的键或注解键，返回注解部分
func splitKeys(node map[string]any, where string, allowed ...string) (Annotations, error) {
	var ann Annotations
	var unknown []string
	for k, v := range node {
		switch {
		case slices.Contains(allowed, k):
		case IsAnnotation(k):
			if ann == nil {
				ann = make(Annotations)
			}
			ann[k] = v
		default:
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return nil, schemaErrorf("unknown keys in %s: %s", where, strings.Join(unknown, ", "))
	}
	return ann, nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}

// normalizeYAML 把 yaml.v3 可能产出的 map[any]any 转成 map[string]any
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	default:
		return v
	}
}
