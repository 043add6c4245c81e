package main

import (
	"context"

	"github.com/spf13/cobra"

	"savekit/internal/mcp"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server over stdio",
		RunE:  runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	rt, err := openRuntime(ctx, runtimeOptions{quiet: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	server := mcp.NewServer(rt.schema, rt.saves, version)
	return server.Run(ctx, &sdk.StdioTransport{})
}
