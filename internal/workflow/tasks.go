// Package workflow defines the built-in developer-workflow tasks and
// the graphs the runner executes.
package workflow

import (
	"fmt"
	"path/filepath"

	"devrunner/internal/config"
	"devrunner/internal/core"
	"devrunner/internal/dag"
)

// Built-in task names. The set is fixed; configuration adjusts paths
// and tool invocations, never the names.
const (
	TaskLintOpenAPI = "lint-openapi"
	TaskLintStyle   = "lint-style"
	TaskTest        = "test"
	TaskSetup       = "setup"
	TaskVerify      = "verify"
)

const (
	docLintOpenAPI = "bundle the OpenAPI specification and lint the result"
	docLintStyle   = "check Python style against the score threshold"
	docTest        = "run the test suite with coverage and JUnit reports"
	docSetup       = "install project dependencies and commit tooling"
	docVerify      = "run lint-openapi, lint-style and test"
)

// VerifyMembers are the checks verify runs, in canonical order.
var VerifyMembers = []string{TaskLintOpenAPI, TaskLintStyle, TaskTest}

// LintOpenAPITask bundles the multi-file OpenAPI specification into one
// document, then lints the bundle. A failed bundle stops the task, so
// the linter never sees a stale or partial document.
func LintOpenAPITask(cfg *config.Config) core.Task {
	root := filepath.ToSlash(cfg.OpenAPI.Root)
	bundle := filepath.ToSlash(cfg.OpenAPI.Bundle)
	specDir := filepath.ToSlash(filepath.Dir(cfg.OpenAPI.Root))
	return core.Task{
		Name: TaskLintOpenAPI,
		Doc:  docLintOpenAPI,
		Steps: []core.Step{
			{Name: "bundle", Argv: argv(cfg.OpenAPI.Command, "bundle", root, "--output", bundle)},
			{Name: "lint", Argv: argv(cfg.OpenAPI.Command, "lint", bundle)},
		},
		Inputs:  []string{specDir + "/**/*.{yaml,yml,json}"},
		Outputs: []string{bundle},
	}
}

// LintStyleTask runs the Python style checker over the source tree. The
// checker's exit code is the task's exit code, unchanged.
func LintStyleTask(cfg *config.Config) core.Task {
	source := filepath.ToSlash(cfg.Style.Source)
	return core.Task{
		Name: TaskLintStyle,
		Doc:  docLintStyle,
		Steps: []core.Step{
			{Name: "check", Argv: argv(cfg.Style.Command,
				"--rcfile="+cfg.Style.RCFile,
				fmt.Sprintf("--fail-under=%g", cfg.Style.FailUnder),
				source,
			)},
		},
		Inputs: []string{filepath.ToSlash(cfg.Style.RCFile), source + "/**/*.py"},
	}
}

// TestTask runs the test suite. The coverage and JUnit reports are
// written by the test runner itself, so they exist even when tests
// fail; only the exit code distinguishes the outcomes.
func TestTask(cfg *config.Config) core.Task {
	source := filepath.ToSlash(cfg.Tests.Source)
	testsDir := filepath.ToSlash(cfg.Tests.Dir)
	coverageOut := filepath.ToSlash(cfg.Tests.CoverageOut)
	reportOut := filepath.ToSlash(cfg.Tests.ReportOut)
	return core.Task{
		Name: TaskTest,
		Doc:  docTest,
		Steps: []core.Step{
			{Name: "run", Argv: argv(cfg.Tests.Command,
				"--cov="+source,
				"--cov-report=xml:"+coverageOut,
				"--junit-xml="+reportOut,
				testsDir,
			)},
		},
		Inputs:  []string{source + "/**/*.py", testsDir + "/**/*.py"},
		Outputs: []string{coverageOut, reportOut},
	}
}

// SetupTask installs project dependencies and the commit tooling, then
// ensures the commit-template dotfile. Installs mutate the development
// environment, not the workspace, so the task is volatile: it always
// executes and is never replayed from cache. A failing install stops
// the sequence; there is no rollback.
func SetupTask(cfg *config.Config) core.Task {
	return core.Task{
		Name:     TaskSetup,
		Doc:      docSetup,
		Volatile: true,
		Steps: []core.Step{
			{Name: "deps", Argv: argv(cfg.Setup.DepsCommand)},
			{Name: "tools", Argv: argv(cfg.Setup.ToolsCommand)},
			{Name: "commit-template", File: &core.FileStep{
				Path: cfg.Setup.Dotfile,
				Set:  map[string]string{"path": cfg.Setup.Adapter},
			}},
		},
	}
}

// Definition describes one built-in task for listing and dispatch.
type Definition struct {
	Name string
	Doc  string
	// Members lists the tasks a composite definition runs; empty for
	// plain tasks.
	Members []string
}

// Definitions returns the built-in tasks in listing order.
func Definitions() []Definition {
	return []Definition{
		{Name: TaskLintOpenAPI, Doc: docLintOpenAPI},
		{Name: TaskLintStyle, Doc: docLintStyle},
		{Name: TaskTest, Doc: docTest},
		{Name: TaskSetup, Doc: docSetup},
		{Name: TaskVerify, Doc: docVerify, Members: VerifyMembers},
	}
}

// Names returns the built-in task names in listing order.
func Names() []string {
	defs := Definitions()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}

// BuildGraph returns the task graph a command executes. Plain tasks
// yield a single-node graph; verify yields its three member checks with
// no edges between them, so a failing member never stops the others.
func BuildGraph(cfg *config.Config, name string) (*dag.TaskGraph, error) {
	switch name {
	case TaskLintOpenAPI:
		return dag.NewTaskGraph([]core.Task{LintOpenAPITask(cfg)}, nil)
	case TaskLintStyle:
		return dag.NewTaskGraph([]core.Task{LintStyleTask(cfg)}, nil)
	case TaskTest:
		return dag.NewTaskGraph([]core.Task{TestTask(cfg)}, nil)
	case TaskSetup:
		return dag.NewTaskGraph([]core.Task{SetupTask(cfg)}, nil)
	case TaskVerify:
		return dag.NewTaskGraph([]core.Task{
			LintOpenAPITask(cfg),
			LintStyleTask(cfg),
			TestTask(cfg),
		}, nil)
	default:
		return nil, fmt.Errorf("unknown task %q", name)
	}
}

// InputPatterns returns the input globs a watch loop should observe for
// the named task. For verify this is the union of its members' inputs.
func InputPatterns(cfg *config.Config, name string) ([]string, error) {
	if name == TaskVerify {
		seen := make(map[string]struct{})
		var patterns []string
		for _, member := range VerifyMembers {
			memberPatterns, err := InputPatterns(cfg, member)
			if err != nil {
				return nil, err
			}
			for _, p := range memberPatterns {
				if _, ok := seen[p]; ok {
					continue
				}
				seen[p] = struct{}{}
				patterns = append(patterns, p)
			}
		}
		return patterns, nil
	}

	graph, err := BuildGraph(cfg, name)
	if err != nil {
		return nil, err
	}
	var patterns []string
	for _, node := range graph.Nodes() {
		patterns = append(patterns, node.Task.Inputs...)
	}
	return patterns, nil
}

func argv(prefix []string, args ...string) []string {
	out := make([]string, 0, len(prefix)+len(args))
	out = append(out, prefix...)
	return append(out, args...)
}
