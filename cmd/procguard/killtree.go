package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/procguard/proc"
	"github.com/vinayprograms/procguard/telemetry"
	"github.com/vinayprograms/procguard/terminate"
)

func newKillTreeCmd(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "kill-tree <pid>",
		Short: "Terminate a process and all of its descendants",
		Long: `Terminate every descendant of pid, then pid itself.

Each batch is asked to terminate first. Processes still running after the
grace period are killed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}

			t := terminate.New(proc.NewSystemTable(),
				terminate.WithLogger(ctx.logger),
				terminate.WithTracer(telemetry.GetTracer()),
			)
			report := t.TerminateTree(cmd.Context(), pid)
			printReport(cmd.OutOrStdout(), report)
			return report.Err()
		},
	}
}

func printReport(w io.Writer, r *terminate.Report) {
	fmt.Fprintf(w, "root:        %d\n", r.Root)
	fmt.Fprintf(w, "descendants: %d\n", len(r.Descendants))
	fmt.Fprintf(w, "terminated:  %d\n", len(r.Terminated))
	fmt.Fprintf(w, "killed:      %d\n", len(r.Killed))
	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "skipped:     %v\n", r.Skipped)
	}
	for _, err := range r.Errors {
		fmt.Fprintf(w, "error:       %v\n", err)
	}
	fmt.Fprintf(w, "duration:    %s\n", r.Duration)
}
