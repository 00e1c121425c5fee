package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/zoobzio/autotrace"
)

var dumpCmd = &cobra.Command{
	Use:   "dump FILE",
	Short: "Print the events of a trace file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().Bool("timeline", false, "order events by timestamp instead of file order")
	dumpCmd.Flags().Int("thread", -1, "only show this thread id")
	dumpCmd.Flags().Int("width", 48, "width of the call column")
}

func runDump(cmd *cobra.Command, args []string) error {
	timeline, err := cmd.Flags().GetBool("timeline")
	if err != nil {
		return fmt.Errorf("failed to get timeline flag: %w", err)
	}
	only, err := cmd.Flags().GetInt("thread")
	if err != nil {
		return fmt.Errorf("failed to get thread flag: %w", err)
	}
	width, err := cmd.Flags().GetInt("width")
	if err != nil {
		return fmt.Errorf("failed to get width flag: %w", err)
	}
	useColor(cmd)

	tr, readErr := autotrace.ReadFile(args[0])
	if tr == nil {
		return readErr
	}

	events := tr.Events
	if timeline {
		events = tr.Timeline()
	}
	symbols := tr.Symbols()
	depth := make(map[uint32]int)
	begin := color.New(color.FgGreen).SprintFunc()
	end := color.New(color.FgYellow).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	out := cmd.OutOrStdout()
	for _, ev := range events {
		d := depth[ev.ThreadID]
		if ev.Kind == autotrace.KindEnd && d > 0 {
			d--
		}
		if only < 0 || uint32(only) == ev.ThreadID {
			name, ok := symbols[ev.Address]
			if !ok {
				name = fmt.Sprintf("%#x", ev.Address)
			}
			call := strings.Repeat("  ", d)
			if ev.Kind == autotrace.KindBegin {
				call += "→ " + name
			} else {
				call += "← " + name
			}
			call = runewidth.Truncate(call, width, "...")
			call = runewidth.FillRight(call, width)
			if ev.Kind == autotrace.KindBegin {
				call = begin(call)
			} else {
				call = end(call)
			}
			fmt.Fprintf(out, "%12d  tid=%-6d %s %s\n", ev.Timestamp, ev.ThreadID, call, dim(fmt.Sprintf("%#x", ev.Address)))
		}
		if ev.Kind == autotrace.KindBegin {
			d++
		}
		depth[ev.ThreadID] = d
	}

	if readErr != nil {
		return fmt.Errorf("trace damaged after %d events: %w", len(tr.Events), readErr)
	}
	return nil
}
