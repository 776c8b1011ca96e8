package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	pgerrors "github.com/vinayprograms/procguard/errors"
	"github.com/vinayprograms/procguard/proc"
)

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [pid]",
		Short: "Print the process tree rooted at pid (default: procguard itself)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid := os.Getpid()
			if len(args) == 1 {
				p, err := parsePID(args[0])
				if err != nil {
					return err
				}
				pid = p
			}

			node, err := proc.NewSystemTable().Tree(cmd.Context(), pid)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), node.String())
			return nil
		},
	}
}

func parsePID(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, pgerrors.InvalidConfig("invalid pid: " + s)
	}
	return pid, nil
}
