package main

import (
	"os"

	"github.com/spf13/cobra"
)

const configPath = "savekit.yaml"

func main() {
	root := &cobra.Command{
		Use:          "savekit",
		Short:        "Versioned save documents with backups, slots and encryption",
		SilenceUsage: true,
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.AddCommand(initCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(loadCmd())
	root.AddCommand(saveCmd())
	root.AddCommand(showCmd())
	root.AddCommand(slotCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(moveCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
