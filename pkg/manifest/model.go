// Package manifest is the typed document model of an osbuild manifest.
//
// A manifest is decoded once into typed nodes. Keys outside each node's
// recognized set are rejected, except annotation keys (prefixed "mpp-")
// which are kept in a per-node side map until a preprocessor pass
// consumes them.
package manifest

import "strings"

const (
	// AnnotationPrefix marks keys reserved for preprocessor instructions.
	AnnotationPrefix = "mpp-"

	// SourceFiles is the only recognized source kind.
	SourceFiles = "org.osbuild.files"
)

// IsAnnotation reports whether key is a reserved annotation key.
func IsAnnotation(key string) bool {
	return strings.HasPrefix(key, AnnotationPrefix)
}

// Annotations holds the "mpp-" keys of one node, values as decoded.
type Annotations map[string]any

// Take removes and returns an annotation.
func (a Annotations) Take(key string) (any, bool) {
	v, ok := a[key]
	if ok {
		delete(a, key)
	}
	return v, ok
}

func (a Annotations) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Manifest is the root document: {pipeline?, sources?}.
// The root itself is the first Level of the build chain.
type Manifest struct {
	Level
	Sources *Sources
}

// Level is a pipeline host: either the root document or a "build"
// entry of the form {pipeline, runner}.
type Level struct {
	Pipeline    *Pipeline
	Runner      string
	Annotations Annotations
}

// Pipeline is {build?, stages?}. Stages is nil when the key is absent.
type Pipeline struct {
	Build       *Level
	Stages      []Stage
	Annotations Annotations
}

// Stage is one build step. Only name and options are interpreted;
// every other key is carried through untouched in Extra.
type Stage struct {
	Name    string
	Options map[string]any
	Extra   map[string]any
}

// Sources is {"org.osbuild.files"?}.
type Sources struct {
	Files       *FilesSource
	Annotations Annotations
}

// FilesSource maps content checksums to origin URLs.
type FilesSource struct {
	URLs        map[string]string
	Annotations Annotations
}
