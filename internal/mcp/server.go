package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"savekit/internal/backup"
	"savekit/internal/config"
	"savekit/internal/document"
	"savekit/internal/pipeline"
)

// SaveManager is the part of the pipeline the tools use.
type SaveManager interface {
	State() pipeline.State
	Path() string
	Document() (*document.Document, error)
	Slots() ([]pipeline.SlotInfo, error)
	ActiveSlot() (int, bool)
	Backups() []backup.Record
	BackupCapacity() int
	Save(ctx context.Context) (*pipeline.SaveReport, error)
}

type Server struct {
	schema *config.Schema
	saves  SaveManager
	mcp    *sdk.Server
}

func NewServer(schema *config.Schema, saves SaveManager, version string) *Server {
	s := &Server{
		schema: schema,
		saves:  saves,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "savekit",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}
