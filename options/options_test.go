package options

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCompilerSelectionLastWriteWins(t *testing.T) {
	p := NewPipeline()
	if err := p.SaveCompilerSelection("a"); err != nil {
		t.Fatal(err)
	}
	if err := p.SaveCompilerSelection("b"); err != nil {
		t.Fatal(err)
	}
	name, ok := p.CompilerSelection()
	if !ok || name != "b" {
		t.Errorf("selection = %q, %v; want b", name, ok)
	}
	if err := p.SaveCompilerSelection(""); !errors.Is(err, ErrEmptyValue) {
		t.Errorf("empty name: err = %v, want ErrEmptyValue", err)
	}
}

func TestSaveOptionsFiltersByPrefix(t *testing.T) {
	p := NewPipeline()
	n, err := p.SaveOptions([]Property{
		{Key: OptionPrefix + "Foo", Value: "1"},
		{Key: "unrelated", Value: "2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("saved %d records, want 1", n)
	}
	recs := p.Options()
	if len(recs) != 1 {
		t.Fatalf("records = %v, want exactly one", recs)
	}
	if recs[0].Key != "Foo" || recs[0].Value != "1" || recs[0].Origin != FromOption {
		t.Errorf("record = %+v, want Foo=1 from option", recs[0])
	}
}

func TestOrdinalsAreStable(t *testing.T) {
	p := NewPipeline()
	p.SaveOptions([]Property{
		{Key: OptionPrefix + "A", Value: "1"},
		{Key: OptionPrefix + "B", Value: "2"},
	})
	p.SaveOptions([]Property{{Key: OptionPrefix + "C", Value: "3"}})
	for i, r := range p.Options() {
		if r.Ordinal != i {
			t.Errorf("record %s ordinal = %d, want %d", r.Key, r.Ordinal, i)
		}
	}
}

func TestSavePropertiesAppliesCompilerKey(t *testing.T) {
	p := NewPipeline()
	err := p.SaveProperties([]Property{
		{Key: CompilerKey, Value: "first"},
		{Key: OptionPrefix + "Threshold", Value: "100"},
		{Key: CompilerKey, Value: "second"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if name, _ := p.CompilerSelection(); name != "second" {
		t.Errorf("selection = %q, want second", name)
	}
	if len(p.Options()) != 1 || len(p.Properties()) != 3 {
		t.Errorf("options %d properties %d, want 1 and 3", len(p.Options()), len(p.Properties()))
	}
}

func TestPrintFlagsRequested(t *testing.T) {
	tests := []struct {
		props []Property
		print bool
		show  bool
	}{
		{nil, false, false},
		{[]Property{{Key: OptionPrefix + "PrintFlags", Value: "true"}}, true, false},
		{[]Property{{Key: OptionPrefix + "ShowFlags", Value: "1"}}, false, true},
		{[]Property{{Key: OptionPrefix + "ShowFlags", Value: "false"}}, false, false},
		{[]Property{{Key: OptionPrefix + "PrintFlags", Value: "false"}}, false, false},
		{[]Property{{Key: "PrintFlags", Value: "true"}}, false, false},
		{[]Property{
			{Key: OptionPrefix + "PrintFlags", Value: "true"},
			{Key: OptionPrefix + "ShowFlags", Value: "true"},
		}, true, true},
	}
	for i, tt := range tests {
		p := NewPipeline()
		p.SaveOptions(tt.props)
		if got := p.PrintFlagsRequested(); got != tt.print {
			t.Errorf("case %d: PrintFlagsRequested = %v, want %v", i, got, tt.print)
		}
		if got := p.ShowFlagsRequested(); got != tt.show {
			t.Errorf("case %d: ShowFlagsRequested = %v, want %v", i, got, tt.show)
		}
	}
}

func TestHandoffOnce(t *testing.T) {
	p := NewPipeline()
	p.SaveCompilerSelection("X")
	p.SaveOptions([]Property{{Key: OptionPrefix + "Threshold", Value: "100"}})
	p.AddTrivialPrefix("java/util/")

	snap, err := p.Handoff()
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	if snap.Compiler != "X" || !snap.HasCompiler {
		t.Errorf("compiler = %q", snap.Compiler)
	}
	if v, ok := snap.Option("Threshold"); !ok || v != "100" {
		t.Errorf("Threshold = %q, %v", v, ok)
	}
	if len(snap.TrivialPrefixes) != 1 || snap.TrivialPrefixes[0] != "java.util." {
		t.Errorf("prefixes = %v", snap.TrivialPrefixes)
	}

	if _, err := p.Handoff(); !errors.Is(err, ErrHandedOff) {
		t.Errorf("second Handoff: err = %v, want ErrHandedOff", err)
	}
	if err := p.SaveCompilerSelection("Y"); !errors.Is(err, ErrHandedOff) {
		t.Errorf("save after handoff: err = %v, want ErrHandedOff", err)
	}
	if _, err := p.SaveOptions(nil); !errors.Is(err, ErrHandedOff) {
		t.Errorf("SaveOptions after handoff: err = %v, want ErrHandedOff", err)
	}
	if err := p.AddTrivialPrefix("x."); !errors.Is(err, ErrHandedOff) {
		t.Errorf("AddTrivialPrefix after handoff: err = %v, want ErrHandedOff", err)
	}
	if len(p.Options()) != 0 {
		t.Error("pipeline still holds records after handoff")
	}
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestParseLinesAbortsFileOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.properties")
	writeFile(t, path, "# comment\n\njvmci.option.A=1\nbroken line\njvmci.option.B=2\n")

	p := NewPipeline()
	props := p.ParseProperties(path)
	if len(props) != 1 || props[0].Key != "jvmci.option.A" {
		t.Fatalf("props = %v, want only jvmci.option.A", props)
	}
	w := p.Warnings()
	if len(w) != 1 {
		t.Fatalf("warnings = %v, want one", w)
	}
	want := "Error at line 4 while parsing " + path + ": "
	if !strings.HasPrefix(w[0], want) {
		t.Errorf("warning = %q, want prefix %q", w[0], want)
	}
}

func TestParseLinesCapability(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lines.txt")
	writeFile(t, path, "one\ntwo\nstop\nthree\n")

	var seen []string
	parser := LineParserFunc(func(text string) error {
		if text == "stop" {
			return errors.New("stop requested")
		}
		seen = append(seen, text)
		return nil
	})

	p := NewPipeline()
	if p.ParseLines(path, parser, true) {
		t.Error("ParseLines reported completion after an abort")
	}
	if strings.Join(seen, ",") != "one,two" {
		t.Errorf("seen = %v", seen)
	}

	if p.ParseLines(filepath.Join(dir, "missing"), parser, false) {
		t.Error("missing file reported as parsed")
	}
	if len(p.Warnings()) != 1 {
		t.Errorf("missing file without warnStatFailure added a warning: %v", p.Warnings())
	}
	p.ParseLines(filepath.Join(dir, "missing"), parser, true)
	if len(p.Warnings()) != 2 {
		t.Errorf("missing file with warnStatFailure did not warn: %v", p.Warnings())
	}
}

func TestInitSystemProperties(t *testing.T) {
	home := t.TempDir()
	dir := ConfigDir(home)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "b.properties"), "jvmci.compiler=late\n")
	writeFile(t, filepath.Join(dir, "a.properties"), "jvmci.compiler=early\njvmci.option.Threshold = 100\n")
	writeFile(t, filepath.Join(dir, "ignored.txt"), "jvmci.compiler=nope\n")

	p := NewPipeline()
	if err := p.InitSystemProperties(dir, true); err != nil {
		t.Fatalf("InitSystemProperties: %v", err)
	}
	if name, _ := p.CompilerSelection(); name != "late" {
		t.Errorf("selection = %q, want late (files in name order)", name)
	}
	recs := p.Options()
	if len(recs) != 1 || recs[0].Key != "Threshold" || recs[0].Value != "100" {
		t.Errorf("records = %+v", recs)
	}
}

func TestInitSystemPropertiesMissingDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	p := NewPipeline()
	if err := p.InitSystemProperties(missing, false); err != nil {
		t.Errorf("non-strict: err = %v, want nil", err)
	}
	if len(p.Warnings()) != 1 {
		t.Errorf("warnings = %v, want one", p.Warnings())
	}
	if err := p.InitSystemProperties(missing, true); !errors.Is(err, ErrConfigDir) {
		t.Errorf("strict: err = %v, want ErrConfigDir", err)
	}
}

func TestLoadTrivialPrefixes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trivial.txt")
	writeFile(t, path, "# prefixes\njava.util.\n\njava/lang/Math.\njava.util.\n")

	p := NewPipeline()
	if !p.LoadTrivialPrefixes(path) {
		t.Fatal("LoadTrivialPrefixes did not complete")
	}
	got := p.TrivialPrefixes()
	if strings.Join(got, "|") != "java.util.|java.lang.Math." {
		t.Errorf("prefixes = %v", got)
	}
}

// ---------------------------------------------------------------------------
// bridge.toml
// ---------------------------------------------------------------------------

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig(`
[compiler]
name = "X"
trace-level = 2

[paths]
home = "jdk"
trivial-prefixes = "trivial.txt"
strict = true

[heap]
capacity = 4096
verify = true
gc-interval = "5s"

[properties]
"jvmci.option.Threshold" = "100"
"jvmci.compiler" = "Y"
jvmci.option.PrintFlags = false
`)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if c.Compiler.Name != "X" || c.Compiler.TraceLevel != 2 {
		t.Errorf("compiler = %+v", c.Compiler)
	}
	if !c.Paths.Strict || c.Paths.Home != "jdk" {
		t.Errorf("paths = %+v", c.Paths)
	}
	if c.Heap.Capacity != 4096 || !c.Heap.Verify || c.Heap.GCInterval != 5*time.Second {
		t.Errorf("heap = %+v", c.Heap)
	}

	want := []Property{
		{Key: "jvmci.option.Threshold", Value: "100"},
		{Key: "jvmci.compiler", Value: "Y"},
		{Key: "jvmci.option.PrintFlags", Value: "false"},
	}
	if len(c.Properties) != len(want) {
		t.Fatalf("properties = %v, want %v", c.Properties, want)
	}
	for i := range want {
		if c.Properties[i] != want[i] {
			t.Errorf("property %d = %v, want %v", i, c.Properties[i], want[i])
		}
	}
}

func TestParseConfigDefaults(t *testing.T) {
	c, err := ParseConfig(`[compiler]
name = "X"
`)
	if err != nil {
		t.Fatal(err)
	}
	if c.Heap.Capacity != DefaultHeapCapacity {
		t.Errorf("capacity = %d, want default", c.Heap.Capacity)
	}
	if _, err := ParseConfig("[compiler\n"); err == nil {
		t.Error("malformed TOML parsed without error")
	}
}

func TestLoadAndApplyConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "trivial.txt"), "java.util.\n")
	writeFile(t, filepath.Join(dir, ConfigFile), `
[compiler]
name = "X"

[paths]
trivial-prefixes = "trivial.txt"

[properties]
"jvmci.compiler" = "ignored"
"jvmci.option.Threshold" = "100"
`)
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindConfig(sub)
	if err != nil || c == nil {
		t.Fatalf("FindConfig: %v, %v", c, err)
	}
	p := NewPipeline()
	if err := c.Apply(p); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if name, _ := p.CompilerSelection(); name != "X" {
		t.Errorf("selection = %q, want X ([compiler] overrides [properties])", name)
	}
	if got := p.TrivialPrefixes(); len(got) != 1 || got[0] != "java.util." {
		t.Errorf("prefixes = %v", got)
	}
	if recs := p.Options(); len(recs) != 1 || recs[0].Key != "Threshold" {
		t.Errorf("records = %v", recs)
	}
}
