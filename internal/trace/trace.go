// Package trace builds the canonical record of a pipeline run.
//
// The trace answers "what happened" after the fact: which tasks executed,
// which replayed from cache, which failed with what exit code, and which
// were skipped because an upstream check failed. Two runs that make the
// same decisions produce byte-identical traces, so trace files can be
// compared directly across runs and machines.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the deterministic record of one graph execution.
//
// It contains logical decisions only. Timestamps, durations, goroutine or
// pointer identity, and anything else that varies between otherwise
// identical runs must not appear; captured tool output enters only as a
// digest of its normalized bytes.
//
// GraphHash is a plain string so this package stays decoupled from the
// graph implementation; producers fill it with the graph's canonical hash.
type ExecutionTrace struct {
	GraphHash string
	Events    []TaskEvent
}

// TaskEventKind discriminates task events. The string values are part of
// the trace's canonical bytes; do not rename them.
type TaskEventKind string

const (
	// EventTaskExecuted records a fresh, successful execution.
	EventTaskExecuted TaskEventKind = "TaskExecuted"

	// EventTaskCached records a successful result replayed from cache.
	EventTaskCached TaskEventKind = "TaskCached"

	// EventTaskFailed records a non-zero exit, fresh or replayed.
	EventTaskFailed TaskEventKind = "TaskFailed"

	// EventTaskSkipped records a task that never started because an
	// upstream dependency failed.
	EventTaskSkipped TaskEventKind = "TaskSkipped"
)

// Stable reason codes. Producers may use others, but must keep them
// deterministic for a given decision.
const (
	// ReasonCacheReplay marks a failure that was replayed from cache
	// rather than produced by a fresh tool invocation.
	ReasonCacheReplay = "CacheReplay"

	// ReasonUpstreamFailed marks a skip caused by a failed dependency.
	ReasonUpstreamFailed = "UpstreamFailed"
)

// StepOutcome is one command step's name and exit code, in execution
// order. Steps after the first failure never ran, so they never appear.
type StepOutcome struct {
	Name     string `json:"name"`
	ExitCode int    `json:"exitCode"`
}

// TaskEvent is a single logical decision about one task.
//
// Optional fields are omitted from the JSON encoding when empty; empty
// slices are normalized to nil by Canonicalize.
type TaskEvent struct {
	Kind TaskEventKind

	// Task is the task name. Required.
	Task string

	// TaskHash is the content hash the decision was made against. Skipped
	// tasks have none: their inputs were never resolved.
	TaskHash string

	// ExitCode carries the propagated tool exit code on TaskFailed events
	// and is zero everywhere else.
	ExitCode int

	// Reason is a stable reason code such as ReasonUpstreamFailed.
	Reason string

	// Cause names the upstream task whose failure caused a skip.
	Cause string

	// Steps preserves the executed steps in order. Unlike Artifacts this
	// list is never sorted: step order is the task's semantics.
	Steps []StepOutcome

	// Artifacts lists the declared output paths the event vouches for,
	// sorted by Canonicalize.
	Artifacts []string

	// StdoutDigest and StderrDigest are sha256 digests of the captured,
	// normalized streams; empty streams leave them empty.
	StdoutDigest string
	StderrDigest string
}

// Validate checks the trace invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d]: kind is required", i)
		}
		if e.Task == "" {
			return fmt.Errorf("events[%d]: task is required for kind %q", i, e.Kind)
		}
		if e.Kind == EventTaskFailed && e.ExitCode == 0 {
			return fmt.Errorf("events[%d]: %q failed without an exit code", i, e.Task)
		}
		if e.Kind != EventTaskFailed && e.ExitCode != 0 {
			return fmt.Errorf("events[%d]: %q has exit code %d but kind %q", i, e.Task, e.ExitCode, e.Kind)
		}
		if e.Kind == EventTaskSkipped && e.Reason == "" {
			return fmt.Errorf("events[%d]: skipped task %q needs a reason", i, e.Task)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize normalizes and sorts the trace into its canonical form.
//
// Events are totally ordered by (task, kind, reason, cause, exit code,
// artifacts); the order is independent of execution timing. Artifact
// lists are sorted and empty optional slices become nil. Step lists keep
// their execution order.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Steps) == 0 {
			t.Events[i].Steps = nil
		}
		if len(t.Events[i].Artifacts) == 0 {
			t.Events[i].Artifacts = nil
			continue
		}
		art := make([]string, len(t.Events[i].Artifacts))
		copy(art, t.Events[i].Artifacts)
		sort.Strings(art)
		t.Events[i].Artifacts = art
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a := t.Events[i]
		b := t.Events[j]

		if a.Task != b.Task {
			return a.Task < b.Task
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.Cause != b.Cause {
			return a.Cause < b.Cause
		}
		if a.ExitCode != b.ExitCode {
			return a.ExitCode < b.ExitCode
		}
		return lessStringSlices(a.Artifacts, b.Artifacts)
	})
}

func kindOrder(k TaskEventKind) int {
	switch k {
	case EventTaskExecuted:
		return 10
	case EventTaskCached:
		return 20
	case EventTaskFailed:
		return 30
	case EventTaskSkipped:
		return 40
	default:
		return 1000
	}
}

func lessStringSlices(a, b []string) bool {
	min := len(a)
	if len(b) < min {
		min = len(b)
	}
	for i := 0; i < min; i++ {
		if a[i] == b[i] {
			continue
		}
		return a[i] < b[i]
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical JSON encoding of the trace. It
// canonicalizes a copy, leaving the caller's slices untouched.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash}
	cp.Events = make([]TaskEvent, len(t.Events))
	copy(cp.Events, t.Events)
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// Hash returns the sha256 hex digest of the canonical JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes the field order. Sorting is CanonicalJSON's job; this
// method never mutates the trace.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString("\"graphHash\":")
	gh, _ := json.Marshal(t.GraphHash)
	buf.Write(gh)
	buf.WriteByte(',')

	buf.WriteString("\"events\":[")
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteByte(']')

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON fixes the event field order and omits empty optional
// fields. Artifacts are sorted into a copy so marshalling a
// non-canonicalized event is still deterministic.
func (e TaskEvent) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var artifacts []string
	if len(e.Artifacts) > 0 {
		artifacts = make([]string, len(e.Artifacts))
		copy(artifacts, e.Artifacts)
		sort.Strings(artifacts)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')

	buf.WriteString("\"kind\":")
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)

	writeStringField(&buf, "task", e.Task)
	writeStringField(&buf, "taskHash", e.TaskHash)

	if e.ExitCode != 0 {
		buf.WriteString(",\"exitCode\":")
		cb, _ := json.Marshal(e.ExitCode)
		buf.Write(cb)
	}

	writeStringField(&buf, "reason", e.Reason)
	writeStringField(&buf, "cause", e.Cause)

	if len(e.Steps) > 0 {
		buf.WriteString(",\"steps\":")
		sb, err := json.Marshal(e.Steps)
		if err != nil {
			return nil, err
		}
		buf.Write(sb)
	}

	if len(artifacts) > 0 {
		buf.WriteString(",\"artifacts\":[")
		for i := range artifacts {
			if i > 0 {
				buf.WriteByte(',')
			}
			ab, _ := json.Marshal(artifacts[i])
			buf.Write(ab)
		}
		buf.WriteByte(']')
	}

	writeStringField(&buf, "stdoutDigest", e.StdoutDigest)
	writeStringField(&buf, "stderrDigest", e.StderrDigest)

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeStringField(buf *bytes.Buffer, name, value string) {
	if value == "" {
		return
	}
	buf.WriteByte(',')
	buf.WriteByte('"')
	buf.WriteString(name)
	buf.WriteString("\":")
	vb, _ := json.Marshal(value)
	buf.Write(vb)
}
