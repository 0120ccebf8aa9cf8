package config

import (
	"context"
	"fmt"

	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/pkg/store"
	"github.com/marmos91/feedfs/pkg/store/badger"
	"github.com/marmos91/feedfs/pkg/store/memory"
	"github.com/marmos91/feedfs/pkg/store/s3"
	"github.com/mitchellh/mapstructure"
)

// CreateStorage creates the article store selected by cfg.Type, decoding
// the matching backend section into that backend's config struct.
//
// Supported types:
//   - "memory": pkg/store/memory (nothing survives a restart)
//   - "badger": pkg/store/badger (local durable database)
//   - "s3": pkg/store/s3 (S3 or a compatible object store)
func CreateStorage(ctx context.Context, cfg *StorageConfig) (store.Storage, error) {
	switch cfg.Type {
	case "memory":
		logger.Info("Using in-memory article storage")
		return memory.New(), nil
	case "badger":
		return createBadgerStorage(ctx, cfg.Badger)
	case "s3":
		return createS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}

func createBadgerStorage(ctx context.Context, options map[string]any) (store.Storage, error) {
	var badgerCfg badger.Config
	if err := decode(options, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}
	if badgerCfg.DBPath == "" && !badgerCfg.InMemory {
		return nil, fmt.Errorf("badger storage: db_path is required")
	}

	st, err := badger.New(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	logger.Info("Using badger article storage at %s", badgerCfg.DBPath)
	return st, nil
}

func createS3Storage(ctx context.Context, options map[string]any) (store.Storage, error) {
	var s3Cfg s3.Config
	if err := decode(options, &s3Cfg); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}

	st, err := s3.New(ctx, s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 storage: %w", err)
	}
	logger.Info("Using S3 article storage: bucket=%s prefix=%q", s3Cfg.Bucket, s3Cfg.KeyPrefix)
	return st, nil
}

// decode maps an untyped config section onto a backend config struct,
// accepting duration strings and weakly typed scalars from env/YAML.
func decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
