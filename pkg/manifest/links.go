package manifest

import "fmt"

// Links are direct references into the well-known substructures of the
// root document. They are derived from the tree on every call and must
// not be kept across a structural mutation.
type Links struct {
	Pipeline *Pipeline
	Stages   *[]Stage
	Sources  *Sources
	Files    *FilesSource
	URLs     map[string]string
}

// Links returns the root links, creating any missing link target with
// its default (empty) value. Defaults that are still empty at encode
// time are stripped again.
func (m *Manifest) Links() Links {
	if m.Pipeline == nil {
		m.Pipeline = &Pipeline{}
	}
	if m.Pipeline.Stages == nil {
		m.Pipeline.Stages = []Stage{}
	}
	if m.Sources == nil {
		m.Sources = &Sources{}
	}
	if m.Sources.Files == nil {
		m.Sources.Files = &FilesSource{}
	}
	if m.Sources.Files.URLs == nil {
		m.Sources.Files.URLs = map[string]string{}
	}

	return Links{
		Pipeline: m.Pipeline,
		Stages:   &m.Pipeline.Stages,
		Sources:  m.Sources,
		Files:    m.Sources.Files,
		URLs:     m.Sources.Files.URLs,
	}
}

// Levels returns the build chain: the root document followed by every
// nested build entry, outermost first.
func (m *Manifest) Levels() []*Level {
	var levels []*Level
	for lvl := &m.Level; lvl != nil; {
		levels = append(levels, lvl)
		if lvl.Pipeline == nil {
			break
		}
		lvl = lvl.Pipeline.Build
	}
	return levels
}

// Refresh re-derives links and re-checks the invariants passes rely on.
// Call it after any structural mutation.
func (m *Manifest) Refresh() error {
	m.Links()
	return m.Validate()
}

// Validate checks node invariants that decoding guarantees but a
// programmatic mutation could break.
func (m *Manifest) Validate() error {
	for i, lvl := range m.Levels() {
		where := fmt.Sprintf("level %d", i)
		if i == 0 && lvl.Runner != "" {
			return schemaErrorf("runner is not allowed at the manifest root")
		}
		if err := checkAnnotations(lvl.Annotations, where); err != nil {
			return err
		}
		if lvl.Pipeline == nil {
			continue
		}
		if err := checkAnnotations(lvl.Pipeline.Annotations, where+".pipeline"); err != nil {
			return err
		}
		for j, st := range lvl.Pipeline.Stages {
			if st.Name == "" {
				return schemaErrorf("%s.pipeline.stages[%d]: missing name", where, j)
			}
		}
	}

	if m.Sources != nil {
		if err := checkAnnotations(m.Sources.Annotations, "sources"); err != nil {
			return err
		}
		if f := m.Sources.Files; f != nil {
			if err := checkAnnotations(f.Annotations, "sources."+SourceFiles); err != nil {
				return err
			}
			for checksum := range f.URLs {
				if checksum == "" {
					return schemaErrorf("sources.%s.urls: empty checksum key", SourceFiles)
				}
			}
		}
	}
	return nil
}

func checkAnnotations(a Annotations, where string) error {
	for k := range a {
		if !IsAnnotation(k) {
			return schemaErrorf("%s: annotation key %q lacks the %q prefix", where, k, AnnotationPrefix)
		}
	}
	return nil
}

// AddURLs registers checksum -> URL entries in the file source.
func (m *Manifest) AddURLs(urls map[string]string) {
	dst := m.Links().URLs
	for k, v := range urls {
		dst[k] = v
	}
}

// MergeSources merges other into the manifest's sources. For the file
// source, entries of other overwrite existing entries with the same
// checksum key.
func (m *Manifest) MergeSources(other *Sources) error {
	if other == nil || other.Files == nil {
		return nil
	}
	m.AddURLs(other.Files.URLs)
	return nil
}

// MergeSourceMap validates a generic sources object and merges it.
// Unknown source kinds are a schema violation.
func (m *Manifest) MergeSourceMap(sources map[string]any) error {
	s, err := SourcesFromMap(sources)
	if err != nil {
		return err
	}
	return m.MergeSources(s)
}
