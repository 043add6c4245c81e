package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"savekit/internal/pipeline"
	"savekit/internal/saveerr"
)

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Load the save, falling back to backups, and report the outcome",
		Args:  cobra.NoArgs,
		RunE:  runLoad,
	}
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	load := false
	rt, err := openRuntime(ctx, runtimeOptions{load: &load})
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.saves.Load(ctx)
	if report != nil {
		printLoadReport(os.Stdout, report)
	}
	return err
}

func printLoadReport(out io.Writer, report *pipeline.LoadReport) {
	switch report.Source {
	case pipeline.SourceBackup:
		fmt.Fprintf(out, "Loaded from backup %d\n", report.Iteration)
	case pipeline.SourcePrimary:
		fmt.Fprintln(out, "Loaded from primary save")
	default:
		fmt.Fprintln(out, "No save found, using defaults")
	}
	if report.Migrated {
		fmt.Fprintln(out, "Converted from the legacy format")
	}
	if len(report.Failures) > 0 {
		fmt.Fprintf(out, "Failed sources (%d):\n", len(report.Failures))
		for _, failure := range report.Failures {
			fmt.Fprintf(out, "  - %v\n", failure)
		}
	}
	printIssues(out, report.Issues)
}

func printIssues(out io.Writer, issues []*saveerr.Error) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(out, "Issues (%d):\n", len(issues))
	for _, issue := range issues {
		fmt.Fprintf(out, "  - %v\n", issue)
	}
}
