// Package core provides the execution engine for developer-workflow tasks.
//
// A task is a declarative, ordered list of steps. Most steps invoke an
// external command line tool; a step may instead declare a JSON file merge.
// Steps run strictly in order and the first non-zero exit code stops the
// task; that exit code becomes the task's exit code.
//
// # Core Types
//
// Task: a named, ordered sequence of steps with declared inputs and outputs.
// Step: one external command invocation or one declarative file merge.
// CommandRunner: the subprocess boundary; tests substitute fakes for it.
// Runner: sequences a task's steps, harvests outputs, talks to the cache.
//
// The cache, hasher, resolver, harvester and replayer exist for incremental
// runs: when a task's resolved inputs, steps, environment and outputs are
// unchanged, a previous result can be replayed bit for bit instead of
// re-invoking the wrapped tools. The default mode does not cache; every
// invocation executes fresh and overwrites its artifacts.
package core
