package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var runAll bool

	cmd := &cobra.Command{
		Use:   "run [trigger]",
		Short: "Run a pipeline stage trigger",
		Long: "Run a pipeline stage trigger against all packages waiting at its start status.\n" +
			"With --all, every stage runs once in pipeline order.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			out := cmd.OutOrStdout()
			if runAll {
				if len(args) != 0 {
					return fmt.Errorf("--all does not take a trigger argument")
				}
				summaries, err := rt.runner.RunAll(cmd.Context())
				for _, summary := range summaries {
					fmt.Fprintf(out, "%s: %s\n", summary.Trigger, summary.Detail)
				}
				return err
			}

			if len(args) == 0 {
				return fmt.Errorf("a trigger is required (one of: %s)", strings.Join(rt.runner.Triggers(), ", "))
			}
			summary, err := rt.runner.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s\n", summary.Trigger, summary.Detail)
			for _, object := range summary.Objects {
				fmt.Fprintf(out, "  %s\n", object)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&runAll, "all", false, "Run every stage once, in pipeline order")
	return cmd
}
