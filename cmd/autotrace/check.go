package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zoobzio/autotrace"
)

var checkCmd = &cobra.Command{
	Use:   "check FILE",
	Short: "Validate nesting and timestamp order of a trace file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	useColor(cmd)
	out := cmd.OutOrStdout()

	tr, err := autotrace.ReadFile(args[0])
	if err != nil {
		return err
	}
	if err := autotrace.Validate(tr); err != nil {
		var nestErr *autotrace.NestingError
		if errors.As(err, &nestErr) {
			fmt.Fprintf(out, "%s first violation on thread %d at event %d\n", color.RedString("FAIL"), nestErr.ThreadID, nestErr.Index)
		}
		return err
	}
	if !tr.Header.Finalized() && tr.Footer == nil {
		fmt.Fprintf(out, "%s trace was not finalized\n", color.YellowString("WARN"))
	}
	fmt.Fprintf(out, "%s %d events on %d threads\n", color.GreenString("ok"), len(tr.Events), len(tr.ThreadIDs()))
	return nil
}
