package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"savekit/internal/config"
	"savekit/internal/crypt"
	"savekit/internal/document"
	"savekit/internal/logger"
	"savekit/internal/pipeline"
	"savekit/internal/storage"
	"savekit/internal/storage/pebble"
	"savekit/internal/storage/postgres"
	"savekit/internal/storage/redis"
	"savekit/internal/storage/sqlite"
)

// runtime bundles what every command needs: configuration, the registry
// built from the schema and an initialized pipeline.
type runtime struct {
	cfg     *config.ProjectConfig
	schema  *config.Schema
	log     *logger.Logger
	places  storage.Placeholders
	saves   *pipeline.Manager
	closers []io.Closer
}

type runtimeOptions struct {
	// load overrides load_on_start when set.
	load  *bool
	quiet bool
}

func openRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	cfg, err := config.LoadProjectConfig(configPath)
	if err != nil {
		return nil, err
	}

	schema, err := config.LoadSchema(cfg.Schema)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		return nil, err
	}

	registry, err := document.RegistryFromSchema(schema)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:    cfg,
		schema: schema,
		log:    log,
		places: storage.NewPlaceholders(cfg.Company, cfg.Project),
	}

	loc, err := rt.openLocation(ctx, cfg.Storage)
	if err != nil {
		rt.Close()
		return nil, err
	}

	enc, err := rt.encryption()
	if err != nil {
		rt.Close()
		return nil, err
	}

	maxSlots := 0
	if cfg.Slots.Enabled {
		maxSlots = cfg.Slots.Max
	}
	loadOnStart := cfg.ShouldLoadOnStart()
	if opts.load != nil {
		loadOnStart = *opts.load
	}

	saves, err := pipeline.New(pipeline.Options{
		Registry:       registry,
		Location:       loc,
		Path:           cfg.Storage.Path,
		BackupPath:     cfg.Backups.Path,
		BackupCapacity: cfg.BackupCapacity(),
		Encryption:     enc,
		Providers: pipeline.DefaultProviders(pipeline.GameInfo{
			Product: cfg.Project,
			Company: cfg.Company,
			Version: cfg.GameVersion,
		}),
		MaxSlots:         maxSlots,
		LoadOnInitialize: loadOnStart,
		Logger:           log.With("component", "pipeline"),
		Events:           rt.events(opts.quiet),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.saves = saves

	if err := saves.Initialize(ctx, nil); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// openLocation builds the storage backend named by cfg. Key-value backends
// are wrapped in a ChunkedLocation.
func (rt *runtime) openLocation(ctx context.Context, cfg config.StorageConfig) (storage.Location, error) {
	var store storage.KeyValueStore
	switch cfg.Type {
	case config.StorageFile:
		return storage.NewFileLocation(rt.places), nil
	case config.StorageMemory:
		store = storage.NewMemoryStore()
	case config.StorageSQLite:
		client, err := sqlite.New(ctx, rt.places.Resolve(cfg.DSN))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client)
		store = client
	case config.StoragePostgres:
		client, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client)
		store = client
	case config.StorageRedis:
		client, err := redis.New(ctx, cfg.Addr)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client)
		store = client
	case config.StoragePebble:
		dir := cfg.DSN
		if dir == "" {
			dir = cfg.Path + ".pebble"
		}
		db, err := pebble.Open(rt.places.Resolve(dir), rt.log.With("component", "pebble"))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, db)
		store = db
	case config.StorageGCS:
		bucket, err := storage.NewBucketLocation(ctx, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, bucket)
		return bucket, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	return storage.NewChunkedLocation(store, cfg.Prefix, cfg.ChunkSize), nil
}

// encryption returns nil when encryption is disabled. The key always lives
// in a local file so that moving the save data never moves the key with it.
func (rt *runtime) encryption() (*crypt.Handler, error) {
	if !rt.cfg.Encryption.Enabled {
		return nil, nil
	}
	c, err := crypt.CipherByName(rt.cfg.Encryption.Cipher)
	if err != nil {
		return nil, err
	}
	keys := crypt.NewKeyStore(storage.NewFileLocation(rt.places), rt.cfg.Encryption.KeyPath)
	return crypt.NewHandler(keys, c), nil
}

func (rt *runtime) events(quiet bool) pipeline.Events {
	if quiet {
		return pipeline.Events{}
	}
	return pipeline.Events{
		OnGameLoadFailed: func(f pipeline.LoadFailure) {
			fmt.Fprintf(os.Stderr, "load failed: %v\n", f)
		},
		OnGameLoadFailedCompletely: func(report *pipeline.LoadReport) {
			fmt.Fprintf(os.Stderr, "no usable save found after %d attempts, using defaults\n", len(report.Failures))
		},
		OnGameSaveFailed: func(err error) {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
		},
	}
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.log.Warn("closing storage", "error", err)
		}
	}
	rt.closers = nil
	rt.log.Sync()
}
