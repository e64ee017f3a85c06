package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// linkPaths 是缓存链接的路径及默认值，顺序从浅到深。
// 序列化时倒序剥离，保证空的子节点不会阻止父节点被剥离。
var linkPaths = []struct {
	path  []string
	empty func(any) bool
}{
	{[]string{"pipeline"}, isEmptyObject},
	{[]string{"pipeline", "stages"}, isEmptyArray},
	{[]string{"sources"}, isEmptyObject},
	{[]string{"sources", SourceFiles}, isEmptyObject},
	{[]string{"sources", SourceFiles, "urls"}, isEmptyObject},
}

// Encode writes the manifest as indented JSON with sorted keys and a
// trailing newline. Link substructures still at their default (empty)
// value are omitted.
func (m *Manifest) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.Stripped()); err != nil {
		return fmt.Errorf("cannot encode manifest: %w", err)
	}
	return nil
}

// Bytes returns the Encode output.
func (m *Manifest) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Stripped returns the generic tree with default-valued links removed.
// The live model is not modified.
func (m *Manifest) Stripped() map[string]any {
	tree := m.Tree()
	for i := len(linkPaths) - 1; i >= 0; i-- {
		info := linkPaths[i]
		itr := tree
		for _, step := range info.path[:len(info.path)-1] {
			next, ok := itr[step].(map[string]any)
			if !ok || len(next) == 0 {
				itr = nil
				break
			}
			itr = next
		}
		if itr == nil {
			continue
		}
		last := info.path[len(info.path)-1]
		if v, ok := itr[last]; ok && info.empty(v) {
			delete(itr, last)
		}
	}
	return tree
}

// Tree returns a deep copy of the manifest as a generic tree, without
// stripping defaults.
func (m *Manifest) Tree() map[string]any {
	out := m.Level.tree()
	if m.Sources != nil {
		out["sources"] = m.Sources.tree()
	}
	return out
}

func (l *Level) tree() map[string]any {
	out := annotationTree(l.Annotations)
	if l.Pipeline != nil {
		out["pipeline"] = l.Pipeline.tree()
	}
	if l.Runner != "" {
		out["runner"] = l.Runner
	}
	return out
}

func (p *Pipeline) tree() map[string]any {
	out := annotationTree(p.Annotations)
	if p.Build != nil {
		out["build"] = p.Build.tree()
	}
	if p.Stages != nil {
		stages := make([]any, 0, len(p.Stages))
		for _, st := range p.Stages {
			stages = append(stages, st.tree())
		}
		out["stages"] = stages
	}
	return out
}

func (s *Stage) tree() map[string]any {
	out := make(map[string]any, len(s.Extra)+2)
	for k, v := range s.Extra {
		out[k] = deepCopy(v)
	}
	out["name"] = s.Name
	if s.Options != nil {
		out["options"] = deepCopy(s.Options)
	}
	return out
}

func (s *Sources) tree() map[string]any {
	out := annotationTree(s.Annotations)
	if s.Files != nil {
		files := annotationTree(s.Files.Annotations)
		if s.Files.URLs != nil {
			urls := make(map[string]any, len(s.Files.URLs))
			for k, v := range s.Files.URLs {
				urls[k] = v
			}
			files["urls"] = urls
		}
		out[SourceFiles] = files
	}
	return out
}

func annotationTree(a Annotations) map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}

func isEmptyObject(v any) bool {
	m, ok := v.(map[string]any)
	return ok && len(m) == 0
}

func isEmptyArray(v any) bool {
	a, ok := v.([]any)
	return ok && len(a) == 0
}
