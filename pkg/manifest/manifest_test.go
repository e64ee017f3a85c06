package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustParse 解析 JSON，失败直接终止测试
func mustParse(t *testing.T, doc string) *Manifest {
	t.Helper()
	m, err := Parse([]byte(doc))
	require.NoError(t, err)
	return m
}

func mustEncode(t *testing.T, m *Manifest) string {
	t.Helper()
	data, err := m.Bytes()
	require.NoError(t, err)
	return string(data)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"Root not an object", `[1, 2]`},
		{"Unknown root key", `{"pipeline": {}, "version": "2"}`},
		{"Unknown pipeline key", `{"pipeline": {"stages": [], "assemblers": []}}`},
		{"Pipeline not an object", `{"pipeline": []}`},
		{"Stages not an array", `{"pipeline": {"stages": {}}}`},
		{"Stage without name", `{"pipeline": {"stages": [{"options": {}}]}}`},
		{"Stage options not an object", `{"pipeline": {"stages": [{"name": "a", "options": 1}]}}`},
		{"Unknown build key", `{"pipeline": {"build": {"pipeline": {}, "arch": "x"}}}`},
		{"Runner not a string", `{"pipeline": {"build": {"runner": 3}}}`},
		{"Unknown source kind", `{"sources": {"org.osbuild.curl": {}}}`},
		{"Unknown files key", `{"sources": {"org.osbuild.files": {"mirrors": {}}}}`},
		{"URL not a string", `{"sources": {"org.osbuild.files": {"urls": {"sha256:aa": 5}}}}`},
		{"Nested unknown key", `{"pipeline": {"build": {"pipeline": {"build": {"pipeline": {"bogus": 1}}}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}

func TestParse_DecodeErrors(t *testing.T) {
	for _, doc := range []string{``, `{`, `{"pipeline": }`, `{} {}`, `{}}`, `{}]`, `{"pipeline": {}}]`, `{} x`} {
		_, err := Parse([]byte(doc))
		assert.ErrorIs(t, err, ErrDecode, "doc: %q", doc)
	}
}

func TestParse_AnnotationsTolerated(t *testing.T) {
	m := mustParse(t, `{
		"mpp-pipeline-import": "base.json",
		"pipeline": {
			"mpp-pipeline-base": "other.json",
			"build": {"mpp-note": true, "runner": "org.osbuild.fedora38"},
		},
		// comments are fine too
		"sources": {"mpp-x": 1, "org.osbuild.files": {"mpp-y": 2}}
	}`)

	assert.Equal(t, "base.json", m.Annotations["mpp-pipeline-import"])
	assert.Equal(t, "other.json", m.Pipeline.Annotations["mpp-pipeline-base"])
	assert.Equal(t, true, m.Pipeline.Build.Annotations["mpp-note"])
	assert.Equal(t, "org.osbuild.fedora38", m.Pipeline.Build.Runner)
	assert.True(t, m.Sources.Annotations.Has("mpp-x"))
	assert.True(t, m.Sources.Files.Annotations.Has("mpp-y"))
}

func TestLevels(t *testing.T) {
	m := mustParse(t, `{"pipeline": {"build": {"pipeline": {"build": {"runner": "r"}}}}}`)

	levels := m.Levels()
	require.Len(t, levels, 3)
	assert.Same(t, &m.Level, levels[0])
	assert.Same(t, m.Pipeline.Build, levels[1])
	assert.Equal(t, "r", levels[2].Runner)

	empty := mustParse(t, `{}`)
	assert.Len(t, empty.Levels(), 1)
}

func TestLinks_TrackTree(t *testing.T) {
	m := mustParse(t, `{}`)

	links := m.Links()
	*links.Stages = append(*links.Stages, Stage{Name: "org.osbuild.noop"})
	links.URLs["sha256:aa"] = "u1"

	// 链接指向当前的树
	assert.Len(t, m.Pipeline.Stages, 1)
	assert.Equal(t, "u1", m.Sources.Files.URLs["sha256:aa"])

	// 整体替换 pipeline 后，重新推导的链接跟随新树
	m.Pipeline = &Pipeline{Stages: []Stage{{Name: "a"}, {Name: "b"}}}
	require.NoError(t, m.Refresh())
	assert.Len(t, *m.Links().Stages, 2)
}

func TestEncode_StripsDefaults(t *testing.T) {
	m := mustParse(t, `{"pipeline": {"stages": []}, "sources": {"org.osbuild.files": {"urls": {}}}}`)
	m.Links()

	assert.Equal(t, "{}\n", mustEncode(t, m))
	// 序列化不修改活动的模型
	assert.NotNil(t, m.Sources.Files.URLs)
}

func TestEncode_KeepsNonDefault(t *testing.T) {
	doc := `{"pipeline": {"build": {"pipeline": {"stages": []}, "runner": "r"}, "stages": []}}`
	m := mustParse(t, doc)

	// 只剥离根链接；嵌套层保留原有的键
	want := `{
  "pipeline": {
    "build": {
      "pipeline": {
        "stages": []
      },
      "runner": "r"
    }
  }
}
`
	assert.Equal(t, want, mustEncode(t, m))
}

func TestEncode_RoundTrip(t *testing.T) {
	doc := `{
		"pipeline": {
			"stages": [
				{"name": "org.osbuild.rpm", "options": {"gpgkeys": ["<key>"], "packages": ["sha256:aa"]}, "zzz": [1, 2.5]}
			]
		},
		"sources": {"org.osbuild.files": {"urls": {"sha256:aa": "https://example/a?x=1&y=2"}}}
	}`
	m := mustParse(t, doc)
	first := mustEncode(t, m)

	// 键排序，整数保持原样，不转义 HTML 字符
	assert.True(t, strings.HasSuffix(first, "}\n"))
	assert.Contains(t, first, `"https://example/a?x=1&y=2"`)
	assert.Contains(t, first, `"<key>"`)
	assert.Contains(t, first, "2.5")
	assert.Less(t, strings.Index(first, `"name"`), strings.Index(first, `"options"`))
	assert.Less(t, strings.Index(first, `"options"`), strings.Index(first, `"zzz"`))

	// 重新加载最小形式得到等价的模型
	again := mustParse(t, first)
	assert.Equal(t, first, mustEncode(t, again))
}

func TestMinimalForm_LinkEquivalent(t *testing.T) {
	m := mustParse(t, `{"pipeline": {"stages": []}, "sources": {}}`)
	minimal := mustEncode(t, m)
	assert.Equal(t, "{}\n", minimal)

	reloaded := mustParse(t, minimal)
	a, b := m.Links(), reloaded.Links()
	assert.Equal(t, *a.Stages, *b.Stages)
	assert.Equal(t, a.URLs, b.URLs)
}

func TestMergeSources(t *testing.T) {
	t.Run("Disjoint keys commute", func(t *testing.T) {
		first := map[string]any{SourceFiles: map[string]any{"urls": map[string]any{"sha256:aa": "u1"}}}
		second := map[string]any{SourceFiles: map[string]any{"urls": map[string]any{"sha256:bb": "u2"}}}

		ab := mustParse(t, `{}`)
		require.NoError(t, ab.MergeSourceMap(first))
		require.NoError(t, ab.MergeSourceMap(second))

		ba := mustParse(t, `{}`)
		require.NoError(t, ba.MergeSourceMap(second))
		require.NoError(t, ba.MergeSourceMap(first))

		want := map[string]string{"sha256:aa": "u1", "sha256:bb": "u2"}
		assert.Equal(t, want, ab.Links().URLs)
		assert.Equal(t, want, ba.Links().URLs)
	})

	t.Run("Last write wins", func(t *testing.T) {
		m := mustParse(t, `{"sources": {"org.osbuild.files": {"urls": {"sha256:aa": "old"}}}}`)
		other := mustParse(t, `{"sources": {"org.osbuild.files": {"urls": {"sha256:aa": "new"}}}}`)
		require.NoError(t, m.MergeSources(other.Sources))
		assert.Equal(t, "new", m.Links().URLs["sha256:aa"])
	})

	t.Run("Unknown kind", func(t *testing.T) {
		m := mustParse(t, `{}`)
		err := m.MergeSourceMap(map[string]any{"org.osbuild.ostree": map[string]any{}})
		assert.ErrorIs(t, err, ErrSchema)
	})

	t.Run("Nil sources", func(t *testing.T) {
		m := mustParse(t, `{}`)
		require.NoError(t, m.MergeSources(nil))
		assert.Equal(t, "{}\n", mustEncode(t, m))
	})
}

func TestValidate(t *testing.T) {
	m := mustParse(t, `{"pipeline": {"stages": [{"name": "a"}]}}`)
	require.NoError(t, m.Validate())

	m.Pipeline.Stages[0].Name = ""
	assert.ErrorIs(t, m.Refresh(), ErrSchema)

	m = mustParse(t, `{}`)
	m.Annotations = Annotations{"depsolve": 1}
	assert.ErrorIs(t, m.Validate(), ErrSchema)
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "base.yaml")
	doc := `
pipeline:
  stages:
    - name: org.osbuild.rpm
      options:
        packages: [sha256:aa]
        count: 3
sources:
  org.osbuild.files:
    urls:
      sha256:aa: https://example/a.rpm
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	m, err := Load(path)
	require.NoError(t, err)
	require.Len(t, m.Pipeline.Stages, 1)
	assert.Equal(t, "org.osbuild.rpm", m.Pipeline.Stages[0].Name)
	assert.Equal(t, "https://example/a.rpm", m.Sources.Files.URLs["sha256:aa"])
	assert.Contains(t, mustEncode(t, m), `"count": 3`)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"x": 1}`), 0644))
	_, err = Load(bad)
	assert.ErrorIs(t, err, ErrSchema)
	assert.Contains(t, err.Error(), bad)
}

func TestAnnotations_Take(t *testing.T) {
	a := Annotations{"mpp-a": 1}
	v, ok := a.Take("mpp-a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.False(t, a.Has("mpp-a"))

	_, ok = a.Take("mpp-a")
	assert.False(t, ok)

	var nilAnn Annotations
	_, ok = nilAnn.Take("mpp-a")
	assert.False(t, ok)
}
