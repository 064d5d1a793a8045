package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tributary/internal/accession"
	"tributary/internal/config"
	"tributary/internal/correlation"
	"tributary/internal/logging"
	"tributary/internal/packages"
	"tributary/internal/routine"
	"tributary/internal/services/catalog"
	"tributary/internal/services/origin"
	"tributary/internal/services/sourcestore"
	"tributary/internal/transform"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// runtime bundles the wired pipeline collaborators for one command
// invocation.
type runtime struct {
	cfg    *config.Config
	store  *packages.Store
	runner *routine.Runner
	logger *slog.Logger
	close  func()
}

func (c *commandContext) buildRuntime() (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store, err := packages.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open package store: %w", err)
	}

	catalogClient, err := catalog.New(cfg.Catalog)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	sourceClient, err := sourcestore.New(cfg.SourceStore)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	originClient, err := origin.New(cfg.Origin)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	deps := routine.Deps{
		Resolver:    correlation.NewResolver(store),
		Catalog:     catalogClient,
		SourceStore: sourceClient,
		Origin:      originClient,
		Allocator:   accession.NewAllocator(catalogClient, cfg.Accession.MaxCreateAttempts),
		Mapper:      transform.NewMapper(catalogClient, time.Duration(cfg.Accession.SearchSkewSeconds)*time.Second),
	}
	runner := routine.NewRunner(routine.Definitions(deps), store, cfg.Paths.LockFile, logger)

	return &runtime{
		cfg:    cfg,
		store:  store,
		runner: runner,
		logger: logger,
		close:  func() { _ = store.Close() },
	}, nil
}
