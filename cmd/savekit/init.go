package main

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

//go:embed templates/*.yaml
var templates embed.FS

func initCmd() *cobra.Command {
	var projectName string
	var company string
	var template string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new savekit project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(projectName) == "" {
				return fmt.Errorf("--name is required")
			}
			return runInit(projectName, company, template)
		},
	}
	cmd.Flags().StringVar(&projectName, "name", "", "Product name")
	cmd.Flags().StringVar(&company, "company", "", "Company name")
	cmd.Flags().StringVar(&template, "template", "rpg", "Schema template name")
	return cmd
}

func runInit(projectName, company, template string) error {
	schemaPath := "schema.yaml"
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	if _, err := os.Stat(schemaPath); err == nil {
		return fmt.Errorf("%s already exists", schemaPath)
	}

	contents, err := templates.ReadFile("templates/" + template + ".yaml")
	if err != nil {
		return fmt.Errorf("reading template %s: %w", template, err)
	}

	configContents := fmt.Sprintf("project: %s\ncompany: %s\nversion: 1\ngame_version: 0.1.0\nschema: %s\n\nstorage:\n  type: file\n  path: \"%%persistent_data_path%%/save.json\"\n\nencryption:\n  enabled: false\n  cipher: aes-gcm\n  key_path: \"%%persistent_data_path%%/save.key\"\n\nbackups:\n  capacity: 3\n\nslots:\n  enabled: true\n  max: 3\n\nload_on_start: true\n\nlogging:\n  mode: development\n", projectName, company, schemaPath)
	if err := os.WriteFile(configPath, []byte(configContents), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}
	if err := os.WriteFile(schemaPath, contents, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", schemaPath, err)
	}

	fmt.Fprintf(os.Stdout, "Wrote %s and %s\n", configPath, schemaPath)
	return nil
}
