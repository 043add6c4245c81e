package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"savekit/internal/document"
)

func showCmd() *cobra.Command {
	var slot int
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(slot)
		},
	}
	cmd.Flags().IntVar(&slot, "slot", -1, "Print only this slot")
	return cmd
}

func runShow(slot int) error {
	ctx := context.Background()

	load := true
	rt, err := openRuntime(ctx, runtimeOptions{load: &load})
	if err != nil {
		return err
	}
	defer rt.Close()

	doc, err := rt.saves.Document()
	if err != nil {
		return err
	}

	if slot >= 0 {
		s, ok := doc.Slot(slot)
		if !ok {
			return fmt.Errorf("slot %d not found", slot)
		}
		printSlot(os.Stdout, s)
		return nil
	}

	fmt.Fprintf(os.Stdout, "Global (%d):\n", len(doc.Global))
	printEntries(os.Stdout, doc.Global)
	for i := range doc.Slots {
		fmt.Fprintln(os.Stdout, "")
		printSlot(os.Stdout, &doc.Slots[i])
	}
	if len(doc.Metadata) > 0 {
		keys := make([]string, 0, len(doc.Metadata))
		for key := range doc.Metadata {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintln(os.Stdout, "")
		fmt.Fprintln(os.Stdout, "Metadata:")
		for _, key := range keys {
			fmt.Fprintf(os.Stdout, "  %s: %s\n", key, doc.Metadata[key])
		}
	}
	return nil
}

func printSlot(out io.Writer, slot *document.Slot) {
	fmt.Fprintf(out, "Slot %d (saved %s, playtime %s):\n",
		slot.Index, slot.SaveDate.Format(document.DateLayout), document.FormatPlaytime(slot.Playtime))
	printEntries(out, slot.Entries)
}

func printEntries(out io.Writer, entries []document.Entry) {
	for _, entry := range entries {
		fmt.Fprintf(out, "  %s (%s) = %s\n", entry.Key, entry.Type, entry.Value)
	}
}
