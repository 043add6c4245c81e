package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"savekit/internal/document"
)

func slotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slot",
		Short: "Manage save slots",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List slots with save date and playtime",
		Args:  cobra.NoArgs,
		RunE:  runSlotList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a slot at the lowest free index and save",
		Args:  cobra.NoArgs,
		RunE:  runSlotCreate,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete INDEX",
		Short: "Delete a slot and save",
		Args:  cobra.ExactArgs(1),
		RunE:  runSlotDelete,
	})
	return cmd
}

func openSlotRuntime(ctx context.Context) (*runtime, error) {
	load := true
	rt, err := openRuntime(ctx, runtimeOptions{load: &load})
	if err != nil {
		return nil, err
	}
	if !rt.cfg.Slots.Enabled {
		rt.Close()
		return nil, fmt.Errorf("slots are disabled in %s", configPath)
	}
	return rt, nil
}

func runSlotList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := openSlotRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	slots, err := rt.saves.Slots()
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		fmt.Fprintln(os.Stdout, "No slots.")
		return nil
	}
	for _, slot := range slots {
		fmt.Fprintf(os.Stdout, "%d\t%s\t%s\t%d entries\n",
			slot.Index, slot.SaveDate.Format(document.DateLayout), document.FormatPlaytime(slot.Playtime), slot.Entries)
	}
	return nil
}

func runSlotCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := openSlotRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	index, err := rt.saves.CreateSlot()
	if err != nil {
		return err
	}
	report, err := rt.saves.Save(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Created slot %d\n", index)
	printSaveReport(report)
	return nil
}

func runSlotDelete(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid slot index %q", args[0])
	}

	ctx := context.Background()
	rt, err := openSlotRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.saves.DeleteSlot(index); err != nil {
		return err
	}
	report, err := rt.saves.Save(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Deleted slot %d\n", index)
	printSaveReport(report)
	return nil
}
