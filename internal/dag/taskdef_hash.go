package dag

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"devrunner/internal/core"
)

// computeTaskDefHash hashes the declarative definition of a task: steps,
// input patterns, environment, outputs and the volatile flag. It excludes
// the task name, resolved file contents and the working directory, so the
// definition identity survives renames of the surrounding workspace.
//
// Input patterns and outputs are treated as sets and sorted; maps are
// sorted by key; every field carries an 8-byte length prefix and list
// lengths are written as decimal counts, so distinct definitions cannot
// collide by concatenation.
func computeTaskDefHash(t *core.Task) TaskDefHash {
	h := sha256.New()

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
		h.Write(lengthBytes)
		h.Write(data)
	}
	writeCount := func(n int) {
		writeField([]byte(strconv.Itoa(n)))
	}
	writeSorted := func(items []string) {
		sorted := make([]string, len(items))
		copy(sorted, items)
		sort.Strings(sorted)
		writeCount(len(sorted))
		for _, item := range sorted {
			writeField([]byte(item))
		}
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

	writeCount(len(t.Steps))
	for _, s := range t.Steps {
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

	writeSorted(t.Inputs)
	writeMap(t.Env)
	writeSorted(t.Outputs)
	if t.Volatile {
		writeField([]byte("volatile"))
	} else {
		writeField([]byte(""))
	}

	sum := h.Sum(nil)
	return TaskDefHash(hex.EncodeToString(sum))
}
