// Package integration exercises the runtime end to end through trace files.
package integration

import (
	"path/filepath"
	"testing"

	"github.com/zoobzio/autotrace"
)

// StartRuntime initializes a runtime writing to a temp file.
func StartRuntime(t *testing.T, capacity int) (*autotrace.Runtime, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.bin")
	rt := &autotrace.Runtime{}
	if err := rt.Init(autotrace.Config{Output: path, BufferCapacity: capacity}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return rt, path
}

// ReadTrace decodes the trace at path and fails the test on any error.
func ReadTrace(t *testing.T, path string) *autotrace.Trace {
	t.Helper()
	tr, err := autotrace.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	return tr
}

// CallTree emits a balanced call tree of the given fan-out and depth below
// root and returns the number of events recorded.
func CallTree(th *autotrace.Thread, root uintptr, fanout, depth int) int {
	th.Enter(root)
	n := 1
	if depth > 0 {
		for i := 0; i < fanout; i++ {
			n += CallTree(th, root*16+uintptr(i), fanout, depth-1)
		}
	}
	th.Exit(root)
	return n + 1
}

// Expected replays CallTree as the kind/address sequence it records.
func Expected(root uint64, fanout, depth int) []autotrace.Event {
	out := []autotrace.Event{{Kind: autotrace.KindBegin, Address: root}}
	if depth > 0 {
		for i := 0; i < fanout; i++ {
			out = append(out, Expected(root*16+uint64(i), fanout, depth-1)...)
		}
	}
	return append(out, autotrace.Event{Kind: autotrace.KindEnd, Address: root})
}

// SameCalls returns the first index where got and want differ in kind or
// address, or -1.
func SameCalls(got, want []autotrace.Event) int {
	n := len(got)
	if len(want) < n {
		n = len(want)
	}
	for i := 0; i < n; i++ {
		if got[i].Kind != want[i].Kind || got[i].Address != want[i].Address {
			return i
		}
	}
	if len(got) != len(want) {
		return n
	}
	return -1
}
