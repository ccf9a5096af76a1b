package trace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONStableAcrossInsertionOrder(t *testing.T) {
	events := []TaskEvent{
		{Kind: EventTaskExecuted, Task: "lint-style", TaskHash: "h2"},
		{Kind: EventTaskCached, Task: "lint-openapi", TaskHash: "h1", Artifacts: []string{"build/openapi.json"}},
		{Kind: EventTaskSkipped, Task: "test", Reason: ReasonUpstreamFailed, Cause: "lint-style"},
	}
	permuted := []TaskEvent{events[2], events[0], events[1]}

	b1, err := ExecutionTrace{GraphHash: "graph-abc", Events: events}.CanonicalJSON()
	require.NoError(t, err)
	b2, err := ExecutionTrace{GraphHash: "graph-abc", Events: permuted}.CanonicalJSON()
	require.NoError(t, err)

	assert.Equal(t, string(b1), string(b2))
}

func TestCanonicalJSONOrdersEventsByTask(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "graph-abc",
		Events: []TaskEvent{
			{Kind: EventTaskExecuted, Task: "lint-style", TaskHash: "h2"},
			{Kind: EventTaskExecuted, Task: "lint-openapi", TaskHash: "h1"},
		},
	}

	b, err := tr.CanonicalJSON()
	require.NoError(t, err)

	expected := `{"graphHash":"graph-abc","events":[` +
		`{"kind":"TaskExecuted","task":"lint-openapi","taskHash":"h1"},` +
		`{"kind":"TaskExecuted","task":"lint-style","taskHash":"h2"}]}`
	assert.Equal(t, expected, string(b))
}

func TestCanonicalJSONKeepsStepOrder(t *testing.T) {
	// Alphabetical order would put commit-template first; execution order
	// must win.
	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TaskEvent{{
			Kind:     EventTaskExecuted,
			Task:     "setup",
			TaskHash: "h",
			Steps: []StepOutcome{
				{Name: "deps", ExitCode: 0},
				{Name: "tools", ExitCode: 0},
				{Name: "commit-template", ExitCode: 0},
			},
		}},
	}

	b, err := tr.CanonicalJSON()
	require.NoError(t, err)

	expected := `{"graphHash":"g","events":[{"kind":"TaskExecuted","task":"setup","taskHash":"h",` +
		`"steps":[{"name":"deps","exitCode":0},{"name":"tools","exitCode":0},{"name":"commit-template","exitCode":0}]}]}`
	assert.Equal(t, expected, string(b))
}

func TestCanonicalJSONSortsArtifactsAndOmitsEmptyFields(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TaskEvent{{
			Kind:      EventTaskCached,
			Task:      "test",
			TaskHash:  "h",
			Artifacts: []string{"build/report.xml", "build/coverage.xml"},
		}},
	}
	b, err := tr.CanonicalJSON()
	require.NoError(t, err)
	expected := `{"graphHash":"g","events":[{"kind":"TaskCached","task":"test","taskHash":"h",` +
		`"artifacts":["build/coverage.xml","build/report.xml"]}]}`
	assert.Equal(t, expected, string(b))

	empty := ExecutionTrace{
		GraphHash: "g",
		Events:    []TaskEvent{{Kind: EventTaskCached, Task: "test", TaskHash: "h", Artifacts: []string{}, Steps: []StepOutcome{}}},
	}
	b2, err := empty.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"graphHash":"g","events":[{"kind":"TaskCached","task":"test","taskHash":"h"}]}`, string(b2))
}

func TestFailedAndSkippedEventEncoding(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TaskEvent{
			{
				Kind:     EventTaskFailed,
				Task:     "lint-style",
				TaskHash: "h",
				ExitCode: 16,
				Steps:    []StepOutcome{{Name: "pylint", ExitCode: 16}},
			},
			{Kind: EventTaskSkipped, Task: "verify", Reason: ReasonUpstreamFailed, Cause: "lint-style"},
		},
	}

	b, err := tr.CanonicalJSON()
	require.NoError(t, err)

	expected := `{"graphHash":"g","events":[` +
		`{"kind":"TaskFailed","task":"lint-style","taskHash":"h","exitCode":16,"steps":[{"name":"pylint","exitCode":16}]},` +
		`{"kind":"TaskSkipped","task":"verify","reason":"UpstreamFailed","cause":"lint-style"}]}`
	assert.Equal(t, expected, string(b))
}

func TestOutputDigestsAppearInEncoding(t *testing.T) {
	digest := Digest([]byte("collected 12 items\n"))
	require.Len(t, digest, 64)

	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TaskEvent{{
			Kind:         EventTaskExecuted,
			Task:         "test",
			TaskHash:     "h",
			StdoutDigest: digest,
		}},
	}
	b, err := tr.CanonicalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(b), `"stdoutDigest":"`+digest+`"`)
	assert.NotContains(t, string(b), "stderrDigest")
}

func TestValidateRejectsMalformedTraces(t *testing.T) {
	var nilTrace *ExecutionTrace
	assert.Error(t, nilTrace.Validate())

	tests := []struct {
		name    string
		trace   ExecutionTrace
		wantErr string
	}{
		{
			name:    "missing graph hash",
			trace:   ExecutionTrace{Events: []TaskEvent{{Kind: EventTaskExecuted, Task: "a"}}},
			wantErr: "graphHash",
		},
		{
			name:    "missing task name",
			trace:   ExecutionTrace{GraphHash: "g", Events: []TaskEvent{{Kind: EventTaskExecuted}}},
			wantErr: "task is required",
		},
		{
			name:    "failure without exit code",
			trace:   ExecutionTrace{GraphHash: "g", Events: []TaskEvent{{Kind: EventTaskFailed, Task: "a"}}},
			wantErr: "without an exit code",
		},
		{
			name:    "exit code on a success",
			trace:   ExecutionTrace{GraphHash: "g", Events: []TaskEvent{{Kind: EventTaskExecuted, Task: "a", ExitCode: 3}}},
			wantErr: "exit code 3",
		},
		{
			name:    "skip without reason",
			trace:   ExecutionTrace{GraphHash: "g", Events: []TaskEvent{{Kind: EventTaskSkipped, Task: "a"}}},
			wantErr: "needs a reason",
		},
		{
			name:    "empty artifact id",
			trace:   ExecutionTrace{GraphHash: "g", Events: []TaskEvent{{Kind: EventTaskCached, Task: "a", Artifacts: []string{""}}}},
			wantErr: "artifacts[0]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trace.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHashDeterministicAndSensitive(t *testing.T) {
	base := func() ExecutionTrace {
		return ExecutionTrace{
			GraphHash: "g",
			Events: []TaskEvent{
				{Kind: EventTaskFailed, Task: "lint-openapi", TaskHash: "h1", ExitCode: 2},
				{Kind: EventTaskExecuted, Task: "test", TaskHash: "h2"},
			},
		}
	}

	h1, err := base().Hash()
	require.NoError(t, err)
	h2, err := base().Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	shuffled := base()
	shuffled.Events[0], shuffled.Events[1] = shuffled.Events[1], shuffled.Events[0]
	h3, err := shuffled.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h3, "insertion order must not change the hash")

	changed := base()
	changed.Events[0].ExitCode = 3
	h4, err := changed.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)
}

func TestCanonicalJSONDoesNotMutateCaller(t *testing.T) {
	tr := ExecutionTrace{
		GraphHash: "g",
		Events: []TaskEvent{
			{Kind: EventTaskExecuted, Task: "b", TaskHash: "h2"},
			{Kind: EventTaskExecuted, Task: "a", TaskHash: "h1"},
		},
	}
	_, err := tr.CanonicalJSON()
	require.NoError(t, err)

	assert.Equal(t, "b", tr.Events[0].Task)
	assert.Equal(t, "a", tr.Events[1].Task)
}

func TestDigest(t *testing.T) {
	assert.Empty(t, Digest(nil))
	assert.Empty(t, Digest([]byte{}))

	d1 := Digest([]byte("Your code has been rated at 9.80/10"))
	d2 := Digest([]byte("Your code has been rated at 9.80/10"))
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)
	assert.NotEqual(t, d1, Digest([]byte("Your code has been rated at 8.00/10")))
}

func TestRecorderCollectsAndCanonicalizes(t *testing.T) {
	rec := NewRecorder()
	rec.Record(TaskEvent{Kind: EventTaskExecuted, Task: "lint-style", TaskHash: "h2"})
	rec.Record(TaskEvent{Kind: EventTaskExecuted, Task: "lint-openapi", TaskHash: "h1"})

	snap := rec.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "lint-style", snap[0].Task, "snapshot keeps collection order")

	snap[0].Task = "mutated"
	assert.Equal(t, "lint-style", rec.Snapshot()[0].Task)

	tr := rec.Trace("g")
	require.Len(t, tr.Events, 2)
	assert.Equal(t, "lint-openapi", tr.Events[0].Task, "trace is canonicalized")
	require.NoError(t, tr.Validate())
}

type panicSink struct{}

func (panicSink) Record(TaskEvent) { panic("broken sink") }

func TestSafeRecordIsInert(t *testing.T) {
	assert.NotPanics(t, func() {
		SafeRecord(nil, TaskEvent{Kind: EventTaskExecuted, Task: "a"})
	})
	assert.NotPanics(t, func() {
		SafeRecord(panicSink{}, TaskEvent{Kind: EventTaskExecuted, Task: "a"})
	})

	rec := NewRecorder()
	SafeRecord(rec, TaskEvent{Kind: EventTaskCached, Task: "a", TaskHash: strings.Repeat("a", 64)})
	assert.Len(t, rec.Snapshot(), 1)
}
