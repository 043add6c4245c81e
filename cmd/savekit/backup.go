package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect and restore backups",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List retained backups, newest first",
		Args:  cobra.NoArgs,
		RunE:  runBackupList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore ITERATION",
		Short: "Write a backup over the save and load it",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupRestore,
	})
	return cmd
}

func runBackupList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	load := false
	rt, err := openRuntime(ctx, runtimeOptions{load: &load, quiet: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	records := rt.saves.Backups()
	fmt.Fprintf(os.Stdout, "Capacity %d, retained %d\n", rt.saves.BackupCapacity(), len(records))
	for _, rec := range records {
		fmt.Fprintf(os.Stdout, "  %d\t%d bytes\n", rec.Iteration, len(rec.JSON))
	}
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	iteration, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid backup iteration %q", args[0])
	}

	ctx := context.Background()
	load := false
	rt, err := openRuntime(ctx, runtimeOptions{load: &load})
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.saves.RestoreBackup(ctx, iteration)
	if report != nil {
		printLoadReport(os.Stdout, report)
	}
	return err
}
