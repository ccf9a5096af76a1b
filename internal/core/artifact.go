// Package core provides the execution engine for developer-workflow tasks.
package core

// Artifact is a file produced by a task and explicitly declared in its
// outputs. Undeclared files are never collected; a task that writes outside
// its declared outputs gets no artifact credit for it.
type Artifact struct {
	// Path is the declared output path, normalized.
	Path string

	// Content is the file content, normalized when a normalizer is
	// configured.
	Content []byte
}

// ArtifactSet is the complete set of artifacts produced by a task, sorted
// lexicographically by Path.
type ArtifactSet struct {
	Artifacts []Artifact
}
