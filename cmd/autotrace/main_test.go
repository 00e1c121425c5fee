package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zoobzio/autotrace"
)

// resetFlags restores every flag to its default, since cobra keeps parsed
// values on the package-level commands between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--color=off", "--log-level=disabled"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDemoWritesValidTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.bin")

	out, err := execute(t, "demo", "-o", path, "--threads", "2", "--calls", "50", "--capacity", "16")
	if err != nil {
		t.Fatalf("demo failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Foobar is terrible") {
		t.Errorf("Expected workload output, got %q", out)
	}

	tr, err := autotrace.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	// main: 50 foo + 1 wub; workers: doWork wrapping 50 foo; foo = 4 events.
	want := 50*4 + 2 + 2*(2+50*4)
	if len(tr.Events) != want {
		t.Errorf("Expected %d events, got %d", want, len(tr.Events))
	}
	if ids := tr.ThreadIDs(); len(ids) != 3 || ids[0] != 0 {
		t.Errorf("Expected threads [0 1 2], got %v", ids)
	}
	if len(tr.Symbols()) != 4 {
		t.Errorf("Expected 4 symbols, got %d", len(tr.Symbols()))
	}
	if err := autotrace.Validate(tr); err != nil {
		t.Errorf("Expected valid trace, got %v", err)
	}

	out, err = execute(t, "check", path)
	if err != nil {
		t.Fatalf("check failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok") {
		t.Errorf("Expected ok, got %q", out)
	}

	out, err = execute(t, "stats", path)
	if err != nil {
		t.Fatalf("stats failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "threads") {
		t.Errorf("Expected thread summary, got %q", out)
	}

	out, err = execute(t, "dump", "--thread", "1", path)
	if err != nil {
		t.Fatalf("dump failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "doWork") {
		t.Errorf("Expected symbolized doWork frames, got %q", out)
	}
}

func TestDemoConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "from-config.bin")
	cfgPath := filepath.Join(dir, "autotrace.toml")
	body := "output = \"" + filepath.ToSlash(path) + "\"\nbuffer_capacity = 8\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := execute(t, "demo", "--config", cfgPath, "--threads", "1", "--calls", "5", "--skip-main-quit")
	if err != nil {
		t.Fatalf("demo failed: %v\n%s", err, out)
	}
	tr, err := autotrace.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if n := len(tr.ByThread()[0]); n != 5*4+2 {
		t.Errorf("Expected force-flushed main thread events, got %d", n)
	}
}

func TestCheckRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.bin")
	if err := os.WriteFile(path, []byte("not a trace at all, definitely not"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := execute(t, "check", path); err == nil {
		t.Error("Expected check to fail")
	}
}
