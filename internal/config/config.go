// Package config provides layered configuration for the task runner.
package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runner configuration. Every value has a
// built-in default; files and flags override selectively.
type Config struct {
	// BuildDir is where tasks write their reports and bundles.
	BuildDir string `yaml:"build_dir"`

	OpenAPI OpenAPIConfig `yaml:"openapi"`
	Style   StyleConfig   `yaml:"style"`
	Tests   TestsConfig   `yaml:"tests"`
	Setup   SetupConfig   `yaml:"setup"`
	Watch   WatchConfig   `yaml:"watch"`
	Log     LogConfig     `yaml:"log"`
}

// OpenAPIConfig configures the lint-openapi task.
type OpenAPIConfig struct {
	// Root is the entry-point document the bundler starts from.
	Root string `yaml:"root"`
	// Bundle is the merged output document.
	Bundle string `yaml:"bundle"`
	// Command is the bundler/linter argv prefix (e.g. ["npx", "redocly"]).
	Command []string `yaml:"command"`
}

// StyleConfig configures the lint-style task.
type StyleConfig struct {
	// Source is the directory the checker analyzes.
	Source string `yaml:"source"`
	// RCFile is the checker configuration file.
	RCFile string `yaml:"rcfile"`
	// FailUnder is the minimum acceptable score.
	FailUnder float64 `yaml:"fail_under"`
	// Command is the checker argv prefix.
	Command []string `yaml:"command"`
}

// TestsConfig configures the test task.
type TestsConfig struct {
	// Source is the package measured for coverage.
	Source string `yaml:"source"`
	// Dir is the directory containing the tests.
	Dir string `yaml:"dir"`
	// CoverageOut is the coverage report path.
	CoverageOut string `yaml:"coverage_out"`
	// ReportOut is the JUnit-style report path.
	ReportOut string `yaml:"report_out"`
	// Command is the test runner argv prefix.
	Command []string `yaml:"command"`
}

// SetupConfig configures the setup task.
type SetupConfig struct {
	// DepsCommand installs project dependencies.
	DepsCommand []string `yaml:"deps_command"`
	// ToolsCommand installs the commit tooling.
	ToolsCommand []string `yaml:"tools_command"`
	// Dotfile is the commit-tool configuration file; a leading ~/ is
	// expanded to the user's home directory.
	Dotfile string `yaml:"dotfile"`
	// Adapter is the commit-message adapter recorded in the dotfile.
	Adapter string `yaml:"adapter"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Debounce is how long the watcher waits for events to settle
	// before re-running.
	Debounce Duration `yaml:"debounce"`
}

// Duration is a time.Duration that marshals to and from YAML duration
// strings such as "300ms" or "2s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		BuildDir: "build",
		OpenAPI: OpenAPIConfig{
			Root:    filepath.Join("openapi", "openapi.yaml"),
			Bundle:  filepath.Join("build", "openapi.json"),
			Command: []string{"redocly"},
		},
		Style: StyleConfig{
			Source:    "src",
			RCFile:    ".pylintrc",
			FailUnder: 9.5,
			Command:   []string{"pylint"},
		},
		Tests: TestsConfig{
			Source:      "src",
			Dir:         "tests",
			CoverageOut: filepath.Join("build", "coverage.xml"),
			ReportOut:   filepath.Join("build", "report.xml"),
			Command:     []string{"pytest"},
		},
		Setup: SetupConfig{
			DepsCommand:  []string{"poetry", "install", "--all-extras", "--with", "test"},
			ToolsCommand: []string{"npm", "install", "--global", "commitizen", "cz-conventional-changelog"},
			Dotfile:      "~/.czrc",
			Adapter:      "cz-conventional-changelog",
		},
		Watch: WatchConfig{
			Debounce: Duration(300 * time.Millisecond),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.BuildDir == "" {
		return fmt.Errorf("build_dir is required")
	}
	if c.OpenAPI.Root == "" {
		return fmt.Errorf("openapi.root is required")
	}
	if c.OpenAPI.Bundle == "" {
		return fmt.Errorf("openapi.bundle is required")
	}
	if len(c.OpenAPI.Command) == 0 {
		return fmt.Errorf("openapi.command is required")
	}
	if c.Style.Source == "" {
		return fmt.Errorf("style.source is required")
	}
	if c.Style.RCFile == "" {
		return fmt.Errorf("style.rcfile is required")
	}
	if c.Style.FailUnder < 0 || c.Style.FailUnder > 10 {
		return fmt.Errorf("style.fail_under must be between 0 and 10")
	}
	if len(c.Style.Command) == 0 {
		return fmt.Errorf("style.command is required")
	}
	if c.Tests.Source == "" {
		return fmt.Errorf("tests.source is required")
	}
	if c.Tests.Dir == "" {
		return fmt.Errorf("tests.dir is required")
	}
	if c.Tests.CoverageOut == "" {
		return fmt.Errorf("tests.coverage_out is required")
	}
	if c.Tests.ReportOut == "" {
		return fmt.Errorf("tests.report_out is required")
	}
	if len(c.Tests.Command) == 0 {
		return fmt.Errorf("tests.command is required")
	}
	if len(c.Setup.DepsCommand) == 0 {
		return fmt.Errorf("setup.deps_command is required")
	}
	if len(c.Setup.ToolsCommand) == 0 {
		return fmt.Errorf("setup.tools_command is required")
	}
	if c.Setup.Dotfile == "" {
		return fmt.Errorf("setup.dotfile is required")
	}
	if c.Setup.Adapter == "" {
		return fmt.Errorf("setup.adapter is required")
	}
	if c.Watch.Debounce <= 0 {
		return fmt.Errorf("watch.debounce must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// LoadFromFile parses one YAML configuration layer. Unset fields stay
// zero so Merge can apply layer precedence; use DefaultConfig plus
// Merge to obtain a complete configuration from a single file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one. Non-zero values in other
// take precedence; zero values never override.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.BuildDir != "" {
		c.BuildDir = other.BuildDir
	}

	if other.OpenAPI.Root != "" {
		c.OpenAPI.Root = other.OpenAPI.Root
	}
	if other.OpenAPI.Bundle != "" {
		c.OpenAPI.Bundle = other.OpenAPI.Bundle
	}
	if len(other.OpenAPI.Command) > 0 {
		c.OpenAPI.Command = other.OpenAPI.Command
	}

	if other.Style.Source != "" {
		c.Style.Source = other.Style.Source
	}
	if other.Style.RCFile != "" {
		c.Style.RCFile = other.Style.RCFile
	}
	if other.Style.FailUnder != 0 {
		c.Style.FailUnder = other.Style.FailUnder
	}
	if len(other.Style.Command) > 0 {
		c.Style.Command = other.Style.Command
	}

	if other.Tests.Source != "" {
		c.Tests.Source = other.Tests.Source
	}
	if other.Tests.Dir != "" {
		c.Tests.Dir = other.Tests.Dir
	}
	if other.Tests.CoverageOut != "" {
		c.Tests.CoverageOut = other.Tests.CoverageOut
	}
	if other.Tests.ReportOut != "" {
		c.Tests.ReportOut = other.Tests.ReportOut
	}
	if len(other.Tests.Command) > 0 {
		c.Tests.Command = other.Tests.Command
	}

	if len(other.Setup.DepsCommand) > 0 {
		c.Setup.DepsCommand = other.Setup.DepsCommand
	}
	if len(other.Setup.ToolsCommand) > 0 {
		c.Setup.ToolsCommand = other.Setup.ToolsCommand
	}
	if other.Setup.Dotfile != "" {
		c.Setup.Dotfile = other.Setup.Dotfile
	}
	if other.Setup.Adapter != "" {
		c.Setup.Adapter = other.Setup.Adapter
	}

	if other.Watch.Debounce != 0 {
		c.Watch.Debounce = other.Watch.Debounce
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}

// RebaseBuildDir moves the build directory and every artifact path that
// lives under the current one. Paths configured outside the build dir
// stay where they are.
func (c *Config) RebaseBuildDir(dir string) {
	if dir == "" || dir == c.BuildDir {
		return
	}
	old := c.BuildDir
	rebase := func(p string) string {
		if old != "" && strings.HasPrefix(p, old+"/") {
			return path.Join(dir, strings.TrimPrefix(p, old+"/"))
		}
		return p
	}
	c.OpenAPI.Bundle = rebase(c.OpenAPI.Bundle)
	c.Tests.CoverageOut = rebase(c.Tests.CoverageOut)
	c.Tests.ReportOut = rebase(c.Tests.ReportOut)
	c.BuildDir = dir
}
