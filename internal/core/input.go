// Package core provides the execution engine for developer-workflow tasks.
package core

// Input is a resolved file whose content contributes to task identity.
// The path is normalized to forward slashes and the content is read in
// full; metadata (mtime, permissions) is deliberately excluded.
type Input struct {
	// Path is the expanded, normalized file path.
	Path string

	// Content is the raw file content.
	Content []byte
}

// InputSet is the complete set of resolved inputs for a task, sorted
// lexicographically by Path.
type InputSet struct {
	Inputs []Input
}
