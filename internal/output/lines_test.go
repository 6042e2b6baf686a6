package output

import (
	"reflect"
	"testing"
)

func TestLineWriter_ReassemblesSplitLines(t *testing.T) {
	var got []string
	w := NewLineWriter(func(line []byte) { got = append(got, string(line)) })

	chunks := []string{`{"stage":"sta`, "ge1\"}\n{\"sta", "ge\":\"stage2\"}\r\n", "tail"}
	for _, c := range chunks {
		if n, err := w.Write([]byte(c)); err != nil || n != len(c) {
			t.Fatalf("Write(%q) = %d, %v", c, n, err)
		}
	}

	want := []string{`{"stage":"stage1"}`, `{"stage":"stage2"}`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines before flush = %q, want %q", got, want)
	}

	w.Flush()
	want = append(want, "tail")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("lines after flush = %q, want %q", got, want)
	}

	w.Flush()
	if len(got) != 3 {
		t.Errorf("second Flush emitted again: %q", got)
	}
}

func TestLineWriter_LinesAreCopies(t *testing.T) {
	var lines [][]byte
	w := NewLineWriter(func(line []byte) { lines = append(lines, line) })
	w.Write([]byte("one\ntwo\n"))
	w.Write([]byte("three\n"))

	if string(lines[0]) != "one" || string(lines[1]) != "two" || string(lines[2]) != "three" {
		t.Errorf("lines = %q", lines)
	}
}
