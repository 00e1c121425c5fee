package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/zoobzio/autotrace"
)

var statsCmd = &cobra.Command{
	Use:   "stats FILE",
	Short: "Summarize a trace file",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Width(14)
	cellStyle  = lipgloss.NewStyle().Width(14).Align(lipgloss.Right)
)

func runStats(cmd *cobra.Command, args []string) error {
	colored := useColor(cmd)
	render := func(s lipgloss.Style, text string) string {
		if !colored {
			s = s.UnsetBold().UnsetForeground()
		}
		return s.Render(text)
	}

	tr, err := autotrace.ReadFile(args[0])
	if tr == nil {
		return err
	}

	p := message.NewPrinter(language.English)
	out := cmd.OutOrStdout()
	h := tr.Header

	fmt.Fprintln(out, render(titleStyle, args[0]))
	p.Fprintf(out, "%s v%d, %d-byte pointers\n", render(labelStyle, "format"), h.Version, h.PointerSize)
	p.Fprintf(out, "%s %s\n", render(labelStyle, "epoch"), time.Unix(0, h.Epoch).UTC().Format(time.RFC3339Nano))
	p.Fprintf(out, "%s %v\n", render(labelStyle, "finalized"), h.Finalized() || tr.Footer != nil)
	p.Fprintf(out, "%s %d\n", render(labelStyle, "events"), len(tr.Events))
	p.Fprintf(out, "%s %d\n", render(labelStyle, "threads"), len(tr.ThreadIDs()))
	if tr.Footer != nil {
		p.Fprintf(out, "%s %d\n", render(labelStyle, "symbols"), len(tr.Footer.Symbols))
	}

	flushes := make(map[uint32]uint64)
	if tr.Footer != nil {
		for _, s := range tr.Footer.Threads {
			flushes[s.ID] = s.Flushes
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, render(titleStyle, render(labelStyle, "thread")+render(cellStyle, "events")+render(cellStyle, "flushes")+render(cellStyle, "span (ms)")))
	byThread := tr.ByThread()
	for _, id := range tr.ThreadIDs() {
		events := byThread[id]
		span := time.Duration(events[len(events)-1].Timestamp - events[0].Timestamp)
		fmt.Fprintln(out,
			render(labelStyle, p.Sprintf("%d", id))+
				render(cellStyle, p.Sprintf("%d", len(events)))+
				render(cellStyle, p.Sprintf("%d", flushes[id]))+
				render(cellStyle, p.Sprintf("%.3f", float64(span)/float64(time.Millisecond))))
	}

	if err != nil {
		return fmt.Errorf("trace damaged after %d events: %w", len(tr.Events), err)
	}
	return nil
}
