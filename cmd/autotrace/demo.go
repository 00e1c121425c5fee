package main

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/zoobzio/autotrace"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Record a trace of a small multi-threaded workload",
	Long: `Runs a main thread and worker threads that each call foo -> bar in a loop,
with entry/exit hooks wired by hand, and writes the trace to --output.`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().StringP("output", "o", "trace.bin", "trace file to write")
	demoCmd.Flags().String("config", "", "TOML config file")
	demoCmd.Flags().Int("threads", 2, "number of worker threads")
	demoCmd.Flags().Int("calls", 1000, "foo calls per thread")
	demoCmd.Flags().Int("capacity", autotrace.DefaultBufferCapacity, "per-thread buffer capacity")
	demoCmd.Flags().Bool("skip-main-quit", false, "leave the main thread registered so Quit force-flushes it")
}

// demoConfig merges the config file with explicitly set flags.
func demoConfig(cmd *cobra.Command) (autotrace.Config, error) {
	cfg := autotrace.DefaultConfig()
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return cfg, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path != "" {
		if cfg, err = autotrace.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if cmd.Flags().Changed("output") || path == "" {
		if cfg.Output, err = cmd.Flags().GetString("output"); err != nil {
			return cfg, fmt.Errorf("failed to get output flag: %w", err)
		}
	}
	if cmd.Flags().Changed("capacity") || path == "" {
		if cfg.BufferCapacity, err = cmd.Flags().GetInt("capacity"); err != nil {
			return cfg, fmt.Errorf("failed to get capacity flag: %w", err)
		}
	}
	return cfg, nil
}

func runDemo(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := demoConfig(cmd)
	if err != nil {
		return err
	}
	workers, err := cmd.Flags().GetInt("threads")
	if err != nil {
		return fmt.Errorf("failed to get threads flag: %w", err)
	}
	calls, err := cmd.Flags().GetInt("calls")
	if err != nil {
		return fmt.Errorf("failed to get calls flag: %w", err)
	}
	skipMainQuit, err := cmd.Flags().GetBool("skip-main-quit")
	if err != nil {
		return fmt.Errorf("failed to get skip-main-quit flag: %w", err)
	}

	var rt autotrace.Runtime
	if err := rt.Init(cfg, autotrace.WithLogger(logger)); err != nil {
		return err
	}

	w := newWorkload(cmd.OutOrStdout(), calls)
	for _, p := range w.probes() {
		if err := rt.NameAddress(p.pc, p.name); err != nil {
			return err
		}
	}

	mainThread, err := rt.ThreadInit(0, cfg.BufferCapacity)
	if err != nil {
		return err
	}
	ctx := autotrace.WithThread(cmd.Context(), mainThread)

	threads := autotrace.NewThreads(1)
	for i := 0; i < workers; i++ {
		threads.SpawnTraced(cmd.Context(), &rt, cfg.BufferCapacity, func(ctx context.Context) error {
			w.doWork(ctx)
			return nil
		})
	}

	for i := 0; i < calls; i++ {
		w.foo(ctx)
	}
	w.wub(ctx)

	joinErr := threads.Join()
	if !skipMainQuit {
		mainThread.Quit()
	}
	stats := rt.Stats()
	if err := rt.Quit(); err != nil {
		return err
	}
	if joinErr != nil {
		return joinErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d events (%d bytes) to %s\n", stats.Events, stats.Bytes, cfg.Output)
	return nil
}

// probe is a hand-wired entry/exit hook site.
type probe struct {
	name string
	pc   uintptr
}

func newProbe(fn any) probe {
	pc := reflect.ValueOf(fn).Pointer()
	name := fmt.Sprintf("%#x", pc)
	if f := runtime.FuncForPC(pc); f != nil {
		name = f.Name()
	}
	return probe{name: name, pc: pc}
}

// enter records entry on the context's thread and returns the exit hook.
func (p probe) enter(ctx context.Context) func() {
	th := autotrace.ThreadFromContext(ctx)
	if th == nil {
		return func() {}
	}
	th.Enter(p.pc)
	return func() { th.Exit(p.pc) }
}

// workload mirrors a tiny native program: doWork calls foo, foo calls bar.
type workload struct {
	out                       io.Writer
	barP, fooP, wubP, doWorkP probe
	calls                     int
}

func newWorkload(out io.Writer, calls int) *workload {
	return &workload{
		out:     out,
		calls:   calls,
		barP:    newProbe((*workload).bar),
		fooP:    newProbe((*workload).foo),
		wubP:    newProbe((*workload).wub),
		doWorkP: newProbe((*workload).doWork),
	}
}

func (w *workload) probes() []probe {
	return []probe{w.barP, w.fooP, w.wubP, w.doWorkP}
}

func (w *workload) bar(ctx context.Context) {
	defer w.barP.enter(ctx)()
}

func (w *workload) foo(ctx context.Context) {
	defer w.fooP.enter(ctx)()
	w.bar(ctx)
}

func (w *workload) wub(ctx context.Context) {
	defer w.wubP.enter(ctx)()
	fmt.Fprintln(w.out, "Foobar is terrible")
}

func (w *workload) doWork(ctx context.Context) {
	defer w.doWorkP.enter(ctx)()
	for i := 0; i < w.calls; i++ {
		w.foo(ctx)
	}
}
