package session

import (
	"reflect"
	"testing"
)

func collectLines(t *testing.T) (*LineBuffer, *[]string) {
	t.Helper()
	var got []string
	lb := NewLineBuffer(func(line []byte) {
		got = append(got, string(line))
	})
	return lb, &got
}

func TestLineBufferSingleWrite(t *testing.T) {
	lb, got := collectLines(t)
	lb.Write([]byte("{\"type\":\"system\"}\n"))
	if want := []string{`{"type":"system"}`}; !reflect.DeepEqual(*got, want) {
		t.Errorf("got %v, want %v", *got, want)
	}
}

func TestLineBufferSplitAcrossWrites(t *testing.T) {
	lb, got := collectLines(t)

	lb.Write([]byte(`{"type":"assist`))
	if len(*got) != 0 {
		t.Fatalf("callback fired before frame completed: %v", *got)
	}

	lb.Write([]byte("ant\"}\n"))
	if want := []string{`{"type":"assistant"}`}; !reflect.DeepEqual(*got, want) {
		t.Errorf("got %v, want %v", *got, want)
	}
}

func TestLineBufferMultipleFramesPerWrite(t *testing.T) {
	lb, got := collectLines(t)
	lb.Write([]byte("one\ntwo\nthr"))
	lb.Write([]byte("ee\n"))
	if want := []string{"one", "two", "three"}; !reflect.DeepEqual(*got, want) {
		t.Errorf("got %v, want %v", *got, want)
	}
}

func TestLineBufferSkipsEmptyLines(t *testing.T) {
	lb, got := collectLines(t)
	lb.Write([]byte("\n\na\n\n"))
	if want := []string{"a"}; !reflect.DeepEqual(*got, want) {
		t.Errorf("got %v, want %v", *got, want)
	}
}

func TestLineBufferFlush(t *testing.T) {
	lb, got := collectLines(t)
	lb.Write([]byte("tail-without-newline"))
	if len(*got) != 0 {
		t.Fatalf("callback fired without newline: %v", *got)
	}
	lb.Flush()
	if want := []string{"tail-without-newline"}; !reflect.DeepEqual(*got, want) {
		t.Errorf("got %v, want %v", *got, want)
	}
	// Second flush is a no-op.
	lb.Flush()
	if len(*got) != 1 {
		t.Errorf("flush re-emitted: %v", *got)
	}
}

func TestIsInformational(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"(node:12345) [DEP0040] DeprecationWarning: The `punycode` module is deprecated.", true},
		{"(node:12345) ExperimentalWarning: VM Modules is an experimental feature", true},
		{"(Use `node --trace-deprecation ...` to show where the warning was created)", true},
		{"Error: ENOENT: no such file or directory", false},
		{"fatal: not a git repository", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isInformational(tt.line); got != tt.want {
			t.Errorf("isInformational(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
