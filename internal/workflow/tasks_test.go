package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devrunner/internal/config"
)

func TestLintOpenAPITaskDefinition(t *testing.T) {
	task := LintOpenAPITask(config.DefaultConfig())

	require.Len(t, task.Steps, 2)
	assert.Equal(t, "bundle", task.Steps[0].Name)
	assert.Equal(t,
		[]string{"redocly", "bundle", "openapi/openapi.yaml", "--output", "build/openapi.json"},
		task.Steps[0].Argv)
	assert.Equal(t, "lint", task.Steps[1].Name)
	assert.Equal(t,
		[]string{"redocly", "lint", "build/openapi.json"},
		task.Steps[1].Argv)

	assert.Equal(t, []string{"openapi/**/*.{yaml,yml,json}"}, task.Inputs)
	assert.Equal(t, []string{"build/openapi.json"}, task.Outputs)
	assert.False(t, task.Volatile)
	assert.NoError(t, task.Validate())
}

func TestLintOpenAPITaskCustomCommandPrefix(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OpenAPI.Command = []string{"npx", "redocly"}

	task := LintOpenAPITask(cfg)
	assert.Equal(t,
		[]string{"npx", "redocly", "bundle", "openapi/openapi.yaml", "--output", "build/openapi.json"},
		task.Steps[0].Argv)
}

func TestLintStyleTaskDefinition(t *testing.T) {
	task := LintStyleTask(config.DefaultConfig())

	require.Len(t, task.Steps, 1)
	assert.Equal(t, "check", task.Steps[0].Name)
	assert.Equal(t,
		[]string{"pylint", "--rcfile=.pylintrc", "--fail-under=9.5", "src"},
		task.Steps[0].Argv)

	assert.Equal(t, []string{".pylintrc", "src/**/*.py"}, task.Inputs)
	assert.Empty(t, task.Outputs)
	assert.NoError(t, task.Validate())
}

func TestLintStyleTaskThresholdFormatting(t *testing.T) {
	cfg := config.DefaultConfig()

	cfg.Style.FailUnder = 10
	assert.Contains(t, LintStyleTask(cfg).Steps[0].Argv, "--fail-under=10")

	cfg.Style.FailUnder = 9.25
	assert.Contains(t, LintStyleTask(cfg).Steps[0].Argv, "--fail-under=9.25")
}

func TestTestTaskDefinition(t *testing.T) {
	task := TestTask(config.DefaultConfig())

	require.Len(t, task.Steps, 1)
	assert.Equal(t, "run", task.Steps[0].Name)
	assert.Equal(t,
		[]string{
			"pytest",
			"--cov=src",
			"--cov-report=xml:build/coverage.xml",
			"--junit-xml=build/report.xml",
			"tests",
		},
		task.Steps[0].Argv)

	assert.Equal(t, []string{"src/**/*.py", "tests/**/*.py"}, task.Inputs)
	assert.Equal(t, []string{"build/coverage.xml", "build/report.xml"}, task.Outputs)
	assert.NoError(t, task.Validate())
}

func TestSetupTaskDefinition(t *testing.T) {
	task := SetupTask(config.DefaultConfig())

	assert.True(t, task.Volatile, "installs mutate the environment and must never replay from cache")
	require.Len(t, task.Steps, 3)

	assert.Equal(t, "deps", task.Steps[0].Name)
	assert.Equal(t,
		[]string{"poetry", "install", "--all-extras", "--with", "test"},
		task.Steps[0].Argv)

	assert.Equal(t, "tools", task.Steps[1].Name)
	assert.Equal(t,
		[]string{"npm", "install", "--global", "commitizen", "cz-conventional-changelog"},
		task.Steps[1].Argv)

	assert.Equal(t, "commit-template", task.Steps[2].Name)
	require.NotNil(t, task.Steps[2].File)
	assert.Equal(t, "~/.czrc", task.Steps[2].File.Path)
	assert.Equal(t, map[string]string{"path": "cz-conventional-changelog"}, task.Steps[2].File.Set)

	assert.Empty(t, task.Inputs)
	assert.Empty(t, task.Outputs)
	assert.NoError(t, task.Validate())
}

func TestBuildersDoNotAliasConfigSlices(t *testing.T) {
	cfg := config.DefaultConfig()
	task := LintOpenAPITask(cfg)
	task.Steps[0].Argv[0] = "mutated"
	assert.Equal(t, "redocly", cfg.OpenAPI.Command[0])
}

func TestDefinitionsListTheFixedTaskSet(t *testing.T) {
	defs := Definitions()
	require.Len(t, defs, 5)
	assert.Equal(t, []string{"lint-openapi", "lint-style", "test", "setup", "verify"}, Names())

	for _, def := range defs {
		assert.NotEmpty(t, def.Doc, "task %s needs a listing description", def.Name)
		if def.Name == TaskVerify {
			assert.Equal(t, []string{"lint-openapi", "lint-style", "test"}, def.Members)
		} else {
			assert.Empty(t, def.Members)
		}
	}
}

func TestBuildGraphSingleTask(t *testing.T) {
	graph, err := BuildGraph(config.DefaultConfig(), TaskLintStyle)
	require.NoError(t, err)

	nodes := graph.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, TaskLintStyle, nodes[0].Name)
	assert.Empty(t, graph.Edges())
}

func TestBuildGraphVerifyHasThreeIndependentChecks(t *testing.T) {
	graph, err := BuildGraph(config.DefaultConfig(), TaskVerify)
	require.NoError(t, err)

	nodes := graph.Nodes()
	require.Len(t, nodes, 3)
	names := make(map[string]bool, 3)
	for _, n := range nodes {
		names[n.Name] = true
		depth, ok := graph.Depth(n.Name)
		require.True(t, ok)
		assert.Zero(t, depth, "verify members must not depend on each other")
	}
	assert.True(t, names[TaskLintOpenAPI])
	assert.True(t, names[TaskLintStyle])
	assert.True(t, names[TaskTest])
	assert.Empty(t, graph.Edges())
}

func TestBuildGraphRejectsUnknownTask(t *testing.T) {
	_, err := BuildGraph(config.DefaultConfig(), "deploy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task")
}

func TestBuildGraphHashTracksConfiguration(t *testing.T) {
	cfg := config.DefaultConfig()
	first, err := BuildGraph(cfg, TaskVerify)
	require.NoError(t, err)
	second, err := BuildGraph(cfg, TaskVerify)
	require.NoError(t, err)
	assert.Equal(t, first.Hash(), second.Hash(), "same configuration, same graph identity")

	cfg.Style.FailUnder = 8.0
	changed, err := BuildGraph(cfg, TaskVerify)
	require.NoError(t, err)
	assert.NotEqual(t, first.Hash(), changed.Hash(), "changing a task definition changes the graph identity")
}

func TestInputPatternsForVerifyAreTheMemberUnion(t *testing.T) {
	patterns, err := InputPatterns(config.DefaultConfig(), TaskVerify)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"openapi/**/*.{yaml,yml,json}",
		".pylintrc",
		"src/**/*.py",
		"tests/**/*.py",
	}, patterns)
}

func TestInputPatternsForSingleTask(t *testing.T) {
	patterns, err := InputPatterns(config.DefaultConfig(), TaskLintOpenAPI)
	require.NoError(t, err)
	assert.Equal(t, []string{"openapi/**/*.{yaml,yml,json}"}, patterns)

	_, err = InputPatterns(config.DefaultConfig(), "deploy")
	assert.Error(t, err)
}
