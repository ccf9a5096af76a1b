// Package core provides the execution engine for developer-workflow tasks.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
)

// TaskHash is the deterministic identity of one task execution: same
// resolved inputs, steps, environment, outputs and working directory
// always produce the same hash, and any change to them produces a new one.
// Timestamps and machine-specific data never contribute.
type TaskHash string

// String returns the hex representation of the TaskHash.
func (t TaskHash) String() string {
	return string(t)
}

// TaskHasher computes TaskHash values.
//
// All components are length-prefixed and written in a fixed order, with
// maps sorted by key, so the digest is unambiguous and stable across runs
// and machines.
type TaskHasher struct{}

// NewTaskHasher creates a new TaskHasher.
func NewTaskHasher() *TaskHasher {
	return &TaskHasher{}
}

// HashInput carries every component that contributes to a task's identity.
type HashInput struct {
	// Inputs is the resolved InputSet (already sorted by the resolver).
	Inputs *InputSet

	// Steps is the task's ordered step list.
	Steps []Step

	// Env is the task-level environment map.
	Env map[string]string

	// Outputs is the list of declared output paths.
	Outputs []string

	// WorkingDir distinguishes otherwise identical tasks run from
	// different roots.
	WorkingDir string
}

// ComputeHash computes the TaskHash for the given input.
//
// Field order: working directory, steps (name, argv, dir, env, file spec),
// task env, outputs, then each input's path and content. Every field is
// written with an 8-byte big-endian length prefix; list lengths are written
// as decimal counts so no two distinct inputs can collide by concatenation.
func (h *TaskHasher) ComputeHash(input HashInput) TaskHash {
	hasher := sha256.New()

	writeField := func(data []byte) {
		length := uint64(len(data))
		lengthBytes := []byte{
			byte(length >> 56),
			byte(length >> 48),
			byte(length >> 40),
			byte(length >> 32),
			byte(length >> 24),
			byte(length >> 16),
			byte(length >> 8),
			byte(length),
		}
		hasher.Write(lengthBytes)
		hasher.Write(data)
	}
	writeCount := func(n int) {
		writeField([]byte(strconv.Itoa(n)))
	}
	writeMap := func(m map[string]string) {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeCount(len(keys))
		for _, k := range keys {
			writeField([]byte(k))
			writeField([]byte(m[k]))
		}
	}

	// 1. Working directory identity
	writeField([]byte(input.WorkingDir))

	// 2. Steps, in declared order
	writeCount(len(input.Steps))
	for _, s := range input.Steps {
		writeField([]byte(s.Name))
		writeCount(len(s.Argv))
		for _, a := range s.Argv {
			writeField([]byte(a))
		}
		writeField([]byte(s.Dir))
		writeMap(s.Env)
		if s.File != nil {
			writeField([]byte(s.File.Path))
			writeMap(s.File.Set)
		} else {
			writeCount(0)
		}
	}

	// 3. Task environment
	writeMap(input.Env)

	// 4. Declared outputs, sorted
	sortedOutputs := make([]string, len(input.Outputs))
	copy(sortedOutputs, input.Outputs)
	sort.Strings(sortedOutputs)
	writeCount(len(sortedOutputs))
	for _, out := range sortedOutputs {
		writeField([]byte(out))
	}

	// 5. Inputs: path and content (already sorted by the resolver)
	inputCount := 0
	if input.Inputs != nil {
		inputCount = len(input.Inputs.Inputs)
	}
	writeCount(inputCount)
	if input.Inputs != nil {
		for _, inp := range input.Inputs.Inputs {
			writeField([]byte(inp.Path))
			writeField(inp.Content)
		}
	}

	sum := hasher.Sum(nil)
	return TaskHash(hex.EncodeToString(sum))
}
