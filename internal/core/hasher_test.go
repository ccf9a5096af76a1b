package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseHashInput() HashInput {
	return HashInput{
		Inputs: &InputSet{Inputs: []Input{
			{Path: "pyproject.toml", Content: []byte("[tool.poetry]")},
			{Path: "src/app.py", Content: []byte("print('hi')")},
		}},
		Steps: []Step{
			{Name: "bundle", Argv: []string{"redocly", "bundle", "api/openapi.yaml"}},
			{Name: "lint", Argv: []string{"redocly", "lint", "build/openapi.yaml"}},
		},
		Env:        map[string]string{"CI": "1"},
		Outputs:    []string{"build/openapi.yaml"},
		WorkingDir: "/work",
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	hasher := NewTaskHasher()

	h1 := hasher.ComputeHash(baseHashInput())
	h2 := hasher.ComputeHash(baseHashInput())

	assert.Equal(t, h1, h2)
	assert.Len(t, string(h1), 64)
}

func TestComputeHashSensitivity(t *testing.T) {
	hasher := NewTaskHasher()
	base := hasher.ComputeHash(baseHashInput())

	cases := []struct {
		name   string
		mutate func(*HashInput)
	}{
		{"step argv", func(in *HashInput) {
			in.Steps[0].Argv = []string{"redocly", "bundle", "api/other.yaml"}
		}},
		{"step order", func(in *HashInput) {
			in.Steps[0], in.Steps[1] = in.Steps[1], in.Steps[0]
		}},
		{"step env", func(in *HashInput) {
			in.Steps[1].Env = map[string]string{"NO_COLOR": "1"}
		}},
		{"task env value", func(in *HashInput) {
			in.Env["CI"] = "0"
		}},
		{"added output", func(in *HashInput) {
			in.Outputs = append(in.Outputs, "build/report.xml")
		}},
		{"input content", func(in *HashInput) {
			in.Inputs.Inputs[1].Content = []byte("print('changed')")
		}},
		{"input path", func(in *HashInput) {
			in.Inputs.Inputs[1].Path = "src/other.py"
		}},
		{"working dir", func(in *HashInput) {
			in.WorkingDir = "/elsewhere"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := baseHashInput()
			tc.mutate(&in)
			assert.NotEqual(t, base, hasher.ComputeHash(in))
		})
	}
}

func TestComputeHashFileStepContributes(t *testing.T) {
	hasher := NewTaskHasher()

	fileInput := func(value string) HashInput {
		return HashInput{
			Inputs: &InputSet{},
			Steps: []Step{{
				Name: "commit-template",
				File: &FileStep{Path: "~/.czrc", Set: map[string]string{"path": value}},
			}},
			WorkingDir: "/work",
		}
	}

	h1 := hasher.ComputeHash(fileInput("cz-conventional-changelog"))
	h2 := hasher.ComputeHash(fileInput("cz-emoji"))

	assert.NotEqual(t, h1, h2)
}

func TestComputeHashEnvOrderIrrelevant(t *testing.T) {
	hasher := NewTaskHasher()

	in1 := baseHashInput()
	in1.Env = map[string]string{"A": "1", "B": "2", "C": "3"}
	in2 := baseHashInput()
	in2.Env = map[string]string{"C": "3", "A": "1", "B": "2"}

	assert.Equal(t, hasher.ComputeHash(in1), hasher.ComputeHash(in2),
		"map iteration order must not leak into the hash")
}

func TestComputeHashOutputOrderIrrelevant(t *testing.T) {
	hasher := NewTaskHasher()

	in1 := baseHashInput()
	in1.Outputs = []string{"build/coverage.xml", "build/report.xml"}
	in2 := baseHashInput()
	in2.Outputs = []string{"build/report.xml", "build/coverage.xml"}

	assert.Equal(t, hasher.ComputeHash(in1), hasher.ComputeHash(in2))
}

func TestComputeHashFieldBoundaries(t *testing.T) {
	hasher := NewTaskHasher()

	in1 := HashInput{
		Inputs:     &InputSet{Inputs: []Input{{Path: "a", Content: []byte("bc")}}},
		Steps:      []Step{{Name: "s", Argv: []string{"x"}}},
		WorkingDir: "/w",
	}
	in2 := HashInput{
		Inputs:     &InputSet{Inputs: []Input{{Path: "ab", Content: []byte("c")}}},
		Steps:      []Step{{Name: "s", Argv: []string{"x"}}},
		WorkingDir: "/w",
	}

	assert.NotEqual(t, hasher.ComputeHash(in1), hasher.ComputeHash(in2),
		"path/content boundaries must be length-framed")
}

func TestComputeHashNilInputSet(t *testing.T) {
	hasher := NewTaskHasher()

	in := HashInput{
		Steps:      []Step{{Name: "s", Argv: []string{"x"}}},
		WorkingDir: "/w",
	}
	withEmpty := in
	withEmpty.Inputs = &InputSet{}

	assert.Equal(t, hasher.ComputeHash(in), hasher.ComputeHash(withEmpty),
		"nil and empty input sets are the same identity")
}

func TestComputeHashManyInputs(t *testing.T) {
	hasher := NewTaskHasher()

	wide := func(n int) HashInput {
		set := &InputSet{}
		for i := 0; i < n; i++ {
			set.Inputs = append(set.Inputs, Input{
				Path:    "f" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
				Content: []byte{byte(i)},
			})
		}
		return HashInput{
			Inputs:     set,
			Steps:      []Step{{Name: "s", Argv: []string{"x"}}},
			WorkingDir: "/w",
		}
	}

	assert.NotEqual(t, hasher.ComputeHash(wide(300)), hasher.ComputeHash(wide(301)),
		"input counts above 255 must stay distinguishable")
}
