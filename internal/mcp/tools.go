package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"savekit/internal/config"
	"savekit/internal/document"
	"savekit/internal/pipeline"
	"savekit/internal/saveerr"
)

type GetStatusInput struct{}

type ListSlotsInput struct{}

type ListBackupsInput struct{}

type GetSchemaInput struct{}

type GetEntryInput struct {
	Key  string `json:"key" jsonschema:"save key"`
	Slot *int   `json:"slot,omitempty" jsonschema:"slot index; omit for a global entry"`
}

type SaveGameInput struct{}

type StatusOutput struct {
	State          string `json:"state"`
	Path           string `json:"path"`
	GlobalEntries  int    `json:"global_entries"`
	Slots          int    `json:"slots"`
	ActiveSlot     *int   `json:"active_slot,omitempty"`
	Backups        int    `json:"backups"`
	BackupCapacity int    `json:"backup_capacity"`
	LatestBackup   int    `json:"latest_backup,omitempty"`
}

type SlotOutput struct {
	Index           int     `json:"index"`
	SaveDate        string  `json:"save_date"`
	PlaytimeSeconds float64 `json:"playtime_seconds"`
	Entries         int     `json:"entries"`
	Active          bool    `json:"active"`
}

type ListSlotsOutput struct {
	Slots []SlotOutput `json:"slots"`
}

type EntryOutput struct {
	Scope   string `json:"scope"`
	Key     string `json:"key"`
	Type    string `json:"type"`
	Value   any    `json:"value"`
	Default any    `json:"default,omitempty"`
}

type BackupOutput struct {
	Iteration int `json:"iteration"`
	Bytes     int `json:"bytes"`
}

type ListBackupsOutput struct {
	Capacity int            `json:"capacity"`
	Backups  []BackupOutput `json:"backups"`
}

type IssueOutput struct {
	Code    string `json:"code"`
	CodeID  int    `json:"code_id"`
	Scope   string `json:"scope,omitempty"`
	Key     string `json:"key,omitempty"`
	Message string `json:"message"`
}

type SaveGameOutput struct {
	Bytes     int           `json:"bytes"`
	Backup    int           `json:"backup_iteration,omitempty"`
	BackupErr string        `json:"backup_error,omitempty"`
	Issues    []IssueOutput `json:"issues"`
}

type SchemaOutput struct {
	Version int            `json:"version"`
	Objects []ObjectOutput `json:"objects"`
}

type ObjectOutput struct {
	Name   string        `json:"name"`
	Scope  string        `json:"scope"`
	Values []ValueOutput `json:"values"`
}

type ValueOutput struct {
	Key     string `json:"key"`
	Type    string `json:"type"`
	Default string `json:"default,omitempty"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_status",
		Description: "Report pipeline state, slot and backup counts",
	}, s.handleGetStatus)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_slots",
		Description: "List save slots with save date and playtime",
	}, s.handleListSlots)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_entry",
		Description: "Read one stored entry from the global scope or a slot",
	}, s.handleGetEntry)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_backups",
		Description: "List retained backups, newest first",
	}, s.handleListBackups)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "save_game",
		Description: "Save the current values and rotate backups",
	}, s.handleSaveGame)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "get_schema",
		Description: "Return the declared save objects",
	}, s.handleGetSchema)
}

func (s *Server) handleGetStatus(ctx context.Context, req *sdk.CallToolRequest, input GetStatusInput) (*sdk.CallToolResult, StatusOutput, error) {
	doc, err := s.saves.Document()
	if err != nil {
		return nil, StatusOutput{}, err
	}
	backups := s.saves.Backups()
	out := StatusOutput{
		State:          s.saves.State().String(),
		Path:           s.saves.Path(),
		GlobalEntries:  len(doc.Global),
		Slots:          len(doc.Slots),
		Backups:        len(backups),
		BackupCapacity: s.saves.BackupCapacity(),
	}
	if index, ok := s.saves.ActiveSlot(); ok {
		out.ActiveSlot = &index
	}
	if len(backups) > 0 {
		out.LatestBackup = backups[0].Iteration
	}
	return nil, out, nil
}

func (s *Server) handleListSlots(ctx context.Context, req *sdk.CallToolRequest, input ListSlotsInput) (*sdk.CallToolResult, ListSlotsOutput, error) {
	slots, err := s.saves.Slots()
	if err != nil {
		return nil, ListSlotsOutput{}, err
	}
	output := make([]SlotOutput, 0, len(slots))
	for _, slot := range slots {
		output = append(output, slotOutput(slot))
	}
	return nil, ListSlotsOutput{Slots: output}, nil
}

func (s *Server) handleGetEntry(ctx context.Context, req *sdk.CallToolRequest, input GetEntryInput) (*sdk.CallToolResult, EntryOutput, error) {
	if input.Key == "" {
		return nil, EntryOutput{}, fmt.Errorf("key is required")
	}
	doc, err := s.saves.Document()
	if err != nil {
		return nil, EntryOutput{}, err
	}

	scope := string(document.ScopeGlobal)
	entries := doc.Global
	if input.Slot != nil {
		slot, ok := doc.Slot(*input.Slot)
		if !ok {
			return nil, EntryOutput{}, fmt.Errorf("slot %d not found", *input.Slot)
		}
		scope = document.SlotScope(slot.Index)
		entries = slot.Entries
	}

	entry, ok := document.FindEntry(entries, input.Key)
	if !ok {
		return nil, EntryOutput{}, fmt.Errorf("entry %s not found in %s", input.Key, scope)
	}
	out := EntryOutput{Scope: scope, Key: entry.Key, Type: entry.Type}
	if err := json.Unmarshal(entry.Value, &out.Value); err != nil {
		return nil, EntryOutput{}, fmt.Errorf("decoding %s: %w", input.Key, err)
	}
	if len(entry.Default) > 0 {
		if err := json.Unmarshal(entry.Default, &out.Default); err != nil {
			return nil, EntryOutput{}, fmt.Errorf("decoding default of %s: %w", input.Key, err)
		}
	}
	return nil, out, nil
}

func (s *Server) handleListBackups(ctx context.Context, req *sdk.CallToolRequest, input ListBackupsInput) (*sdk.CallToolResult, ListBackupsOutput, error) {
	records := s.saves.Backups()
	output := make([]BackupOutput, 0, len(records))
	for _, rec := range records {
		output = append(output, BackupOutput{Iteration: rec.Iteration, Bytes: len(rec.JSON)})
	}
	return nil, ListBackupsOutput{Capacity: s.saves.BackupCapacity(), Backups: output}, nil
}

func (s *Server) handleSaveGame(ctx context.Context, req *sdk.CallToolRequest, input SaveGameInput) (*sdk.CallToolResult, SaveGameOutput, error) {
	report, err := s.saves.Save(ctx)
	if err != nil {
		return nil, SaveGameOutput{}, err
	}
	out := SaveGameOutput{
		Bytes:  report.Bytes,
		Backup: report.Backup.Iteration,
		Issues: issueOutputs(report.Issues),
	}
	if report.BackupErr != nil {
		out.BackupErr = report.BackupErr.Error()
	}
	return nil, out, nil
}

func (s *Server) handleGetSchema(ctx context.Context, req *sdk.CallToolRequest, input GetSchemaInput) (*sdk.CallToolResult, SchemaOutput, error) {
	return nil, schemaOutputFromConfig(s.schema), nil
}

func schemaOutputFromConfig(schema *config.Schema) SchemaOutput {
	if schema == nil {
		return SchemaOutput{}
	}

	out := SchemaOutput{
		Version: schema.Version,
		Objects: make([]ObjectOutput, 0, len(schema.Objects)),
	}
	for _, obj := range schema.Objects {
		objOut := ObjectOutput{
			Name:   obj.Name,
			Scope:  obj.Scope,
			Values: make([]ValueOutput, 0, len(obj.Values)),
		}
		for _, value := range obj.Values {
			objOut.Values = append(objOut.Values, ValueOutput{
				Key:     value.Key,
				Type:    value.Type,
				Default: value.Default,
			})
		}
		out.Objects = append(out.Objects, objOut)
	}
	return out
}

func slotOutput(slot pipeline.SlotInfo) SlotOutput {
	return SlotOutput{
		Index:           slot.Index,
		SaveDate:        slot.SaveDate.UTC().Format(document.DateLayout),
		PlaytimeSeconds: slot.Playtime.Seconds(),
		Entries:         slot.Entries,
		Active:          slot.Active,
	}
}

func issueOutputs(issues []*saveerr.Error) []IssueOutput {
	out := make([]IssueOutput, 0, len(issues))
	for _, issue := range issues {
		out = append(out, IssueOutput{
			Code:    issue.Code.String(),
			CodeID:  int(issue.Code),
			Scope:   issue.Scope,
			Key:     issue.Key,
			Message: issue.Error(),
		})
	}
	return out
}
