package trace

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tliron/commonlog"
)

func TestTraceLevelsNest(t *testing.T) {
	for level := 0; level <= MaxLevel; level++ {
		var buf bytes.Buffer
		tr := NewTracer(level, &buf)
		for n := 1; n <= MaxLevel; n++ {
			tr.Printf(n, "event %d", n)
		}
		lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
		if level == 0 {
			if buf.Len() != 0 {
				t.Errorf("level 0 produced output: %q", buf.String())
			}
			continue
		}
		if len(lines) != level {
			t.Errorf("level %d: %d lines, want %d", level, len(lines), level)
		}
	}
}

func TestTracePrefix(t *testing.T) {
	var buf bytes.Buffer
	tr := NewTracer(3, &buf)
	tr.Printf(1, "one")
	tr.Printf(3, "three %s", "x")

	want := "JVMCITrace-1: one\n      JVMCITrace-3: three x\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestTracerClampAndNil(t *testing.T) {
	if NewTracer(99, nil).Level() != MaxLevel {
		t.Error("level not clamped to MaxLevel")
	}
	if NewTracer(-2, nil).Level() != 0 {
		t.Error("negative level not clamped to 0")
	}
	var tr *Tracer
	if tr.Enabled(1) {
		t.Error("nil tracer reports enabled")
	}
	tr.Printf(1, "ignored")
}

func TestSetLogger(t *testing.T) {
	orig := Logger()
	defer SetLogger(orig)

	SetLogger(nil)
	if _, ok := Logger().(commonlog.MockLogger); !ok {
		t.Errorf("SetLogger(nil) installed %T, want MockLogger", Logger())
	}
	Logger().Warningf("dropped %d", 1)
}
