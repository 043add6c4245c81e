package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"savekit/internal/document"
	"savekit/internal/pipeline"
)

func saveCmd() *cobra.Command {
	var sets []string
	var slot int
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Load the save, apply changes and write it back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSave(sets, slot)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Assign a value as key=json (repeatable)")
	cmd.Flags().IntVar(&slot, "slot", -1, "Slot to load before applying slot-scoped values")
	return cmd
}

type assignment struct {
	key   string
	value json.RawMessage
}

func parseAssignments(sets []string) ([]assignment, error) {
	out := make([]assignment, 0, len(sets))
	for _, set := range sets {
		key, raw, ok := strings.Cut(set, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=json", set)
		}
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("invalid --set %q: value is not JSON", set)
		}
		out = append(out, assignment{key: key, value: json.RawMessage(raw)})
	}
	return out, nil
}

// applyAssignments sets global values first and falls back to slot values,
// which requires an active slot.
func applyAssignments(registry *document.Registry, slotActive bool, sets []assignment) error {
	for _, set := range sets {
		value, ok := registry.Lookup(document.ScopeGlobal, set.key)
		if !ok {
			value, ok = registry.Lookup(document.ScopeSlot, set.key)
			if ok && !slotActive {
				return fmt.Errorf("%s is slot-scoped, pass --slot", set.key)
			}
		}
		if !ok {
			return fmt.Errorf("no value declared for key %s", set.key)
		}
		dyn, ok := value.(*document.Dynamic)
		if !ok {
			return fmt.Errorf("value %s cannot be set from the command line", set.key)
		}
		if err := dyn.Set(set.value); err != nil {
			return fmt.Errorf("setting %s: %w", set.key, err)
		}
	}
	return nil
}

func runSave(sets []string, slot int) error {
	ctx := context.Background()

	assignments, err := parseAssignments(sets)
	if err != nil {
		return err
	}

	load := true
	rt, err := openRuntime(ctx, runtimeOptions{load: &load})
	if err != nil {
		return err
	}
	defer rt.Close()

	if slot >= 0 {
		issues, err := rt.saves.LoadSlot(slot)
		if err != nil {
			return err
		}
		printIssues(os.Stdout, issues)
	}

	if err := applyAssignments(rt.saves.Registry(), slot >= 0, assignments); err != nil {
		return err
	}

	report, err := rt.saves.Save(ctx)
	if err != nil {
		return err
	}
	printSaveReport(report)
	return nil
}

func printSaveReport(report *pipeline.SaveReport) {
	fmt.Fprintf(os.Stdout, "Saved %d bytes\n", report.Bytes)
	if report.BackupErr != nil {
		fmt.Fprintf(os.Stdout, "Backup failed: %v\n", report.BackupErr)
	} else if report.Backup.Iteration > 0 {
		fmt.Fprintf(os.Stdout, "Backup iteration %d\n", report.Backup.Iteration)
	}
	printIssues(os.Stdout, report.Issues)
}
