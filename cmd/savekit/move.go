package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"savekit/internal/config"
)

func moveCmd() *cobra.Command {
	var storageType string
	var target string
	var prefix string
	cmd := &cobra.Command{
		Use:   "move",
		Short: "Copy the save and its backups to another storage backend and switch to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(storageType) == "" {
				return fmt.Errorf("--type is required")
			}
			return runMove(strings.ToLower(storageType), target, prefix)
		},
	}
	cmd.Flags().StringVar(&storageType, "type", "", "Target storage type (file, memory, sqlite, postgres, redis, pebble, gcs)")
	cmd.Flags().StringVar(&target, "path", "", "Target address: DSN for sqlite, postgres and pebble, addr for redis, bucket for gcs")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Key or object prefix on the target")
	return cmd
}

// targetStorage derives the new storage section from the current one. The
// document path is kept, so the same key is used on the target.
func targetStorage(current config.StorageConfig, storageType, target, prefix string) config.StorageConfig {
	next := config.StorageConfig{
		Type:      storageType,
		Path:      current.Path,
		Prefix:    prefix,
		ChunkSize: current.ChunkSize,
	}
	switch storageType {
	case config.StorageSQLite, config.StoragePostgres, config.StoragePebble:
		next.DSN = target
	case config.StorageRedis:
		next.Addr = target
	case config.StorageGCS:
		next.Bucket = target
	}
	return next
}

func runMove(storageType, target, prefix string) error {
	ctx := context.Background()

	load := false
	rt, err := openRuntime(ctx, runtimeOptions{load: &load})
	if err != nil {
		return err
	}
	defer rt.Close()

	if storageType == rt.cfg.Storage.Type && storageType == config.StorageFile {
		return fmt.Errorf("save data is already stored in files")
	}

	next := targetStorage(rt.cfg.Storage, storageType, target, prefix)
	updated := *rt.cfg
	updated.Storage = next
	if err := updated.Validate(); err != nil {
		return err
	}

	loc, err := rt.openLocation(ctx, next)
	if err != nil {
		return err
	}
	if err := rt.saves.SwitchLocation(ctx, loc); err != nil {
		return err
	}
	if err := config.WriteProjectConfig(configPath, &updated); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Moved %s to %s storage\n", rt.cfg.Storage.Path, storageType)
	return nil
}
