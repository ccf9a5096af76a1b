// Package core provides the execution engine for developer-workflow tasks.
package core

import (
	"errors"
	"fmt"
)

// Task is a declarative definition of one workflow task.
//
// A task does no work of its own: it is an ordered list of steps, each of
// which either invokes an external tool or merges keys into a JSON file.
// Steps execute strictly in order and stop at the first non-zero exit code.
type Task struct {
	// Name is the logical identifier for the task.
	// Used for user reference and run records; does not affect the task hash.
	Name string `json:"name" yaml:"name"`

	// Doc is a one-line description shown by the task listing.
	Doc string `json:"doc,omitempty" yaml:"doc,omitempty"`

	// Steps is the ordered list of work items. The first step whose exit
	// code is non-zero terminates the task with that exit code.
	Steps []Step `json:"steps" yaml:"steps"`

	// Inputs is a list of file paths or glob patterns (`**` supported).
	// Inputs are expanded deterministically and contribute to the task hash.
	Inputs []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Env is a map of environment variables added to every step's
	// environment on top of the inherited process environment.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Outputs is a list of file paths or directories the task produces.
	// Only declared outputs are eligible for artifact capture and caching.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// Volatile marks tasks whose effects live outside the workspace
	// (package installs, user-level dotfiles). Volatile tasks always
	// execute and are never cached or replayed.
	Volatile bool `json:"volatile,omitempty" yaml:"volatile,omitempty"`
}

// Step is one unit of work inside a task: either an external command
// invocation (Argv set) or a declarative JSON file merge (File set).
// Exactly one of the two must be set.
type Step struct {
	// Name identifies the step in logs, traces and error messages.
	Name string `json:"name" yaml:"name"`

	// Argv is the command and its arguments, executed without a shell.
	// Argv[0] is resolved against PATH.
	Argv []string `json:"argv,omitempty" yaml:"argv,omitempty"`

	// Dir optionally overrides the working directory for this step.
	// Relative to the task working directory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Env is a map of environment variables added for this step only.
	// Step entries override task entries of the same key.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// File, when set, makes this a file-merge step instead of a command.
	File *FileStep `json:"file,omitempty" yaml:"file,omitempty"`
}

// FileStep declares that the JSON document at Path must contain the given
// keys with the given string values. Other keys in an existing document are
// preserved; the write is skipped entirely when the document already
// matches. A leading "~/" in Path refers to the user's home directory.
type FileStep struct {
	Path string            `json:"path" yaml:"path"`
	Set  map[string]string `json:"set" yaml:"set"`
}

// IsCommand reports whether the step invokes an external command.
func (s Step) IsCommand() bool { return s.File == nil }

// Validate checks the structural validity of a task definition.
func (t *Task) Validate() error {
	if t == nil {
		return errors.New("task is nil")
	}
	var errs []error
	if t.Name == "" {
		errs = append(errs, errors.New("task name is required"))
	}
	if len(t.Steps) == 0 {
		errs = append(errs, fmt.Errorf("task %q has no steps", t.Name))
	}
	for i, s := range t.Steps {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("task %q: step %d has no name", t.Name, i))
		}
		switch {
		case s.File == nil && len(s.Argv) == 0:
			errs = append(errs, fmt.Errorf("task %q: step %q has neither argv nor file", t.Name, s.Name))
		case s.File != nil && len(s.Argv) > 0:
			errs = append(errs, fmt.Errorf("task %q: step %q has both argv and file", t.Name, s.Name))
		case s.File != nil && s.File.Path == "":
			errs = append(errs, fmt.Errorf("task %q: step %q file path is empty", t.Name, s.Name))
		case s.File != nil && len(s.File.Set) == 0:
			errs = append(errs, fmt.Errorf("task %q: step %q file sets no keys", t.Name, s.Name))
		}
	}
	return errors.Join(errs...)
}
