package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateSourceStore(); err != nil {
		return err
	}
	if err := c.validateOrigin(); err != nil {
		return err
	}
	if err := c.validateAccession(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if strings.TrimSpace(c.Catalog.BaseURL) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/tributary/config.toml"
		}
		return fmt.Errorf("catalog.base_url is required; edit %s (create with 'tributary config init')", defaultPath)
	}
	if strings.TrimSpace(c.Catalog.Username) == "" {
		return errors.New("catalog.username must be set")
	}
	if strings.TrimSpace(c.Catalog.Password) == "" {
		return errors.New("catalog.password must be set")
	}
	if c.Catalog.RepositoryID <= 0 {
		return errors.New("catalog.repository_id must be positive")
	}
	if c.Catalog.TimeoutSeconds <= 0 {
		return errors.New("catalog.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateSourceStore() error {
	if strings.TrimSpace(c.SourceStore.BaseURL) == "" {
		return errors.New("source_store.base_url must be set")
	}
	if c.SourceStore.TimeoutSeconds <= 0 {
		return errors.New("source_store.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateOrigin() error {
	if strings.TrimSpace(c.Origin.BaseURL) == "" {
		return errors.New("origin.base_url must be set")
	}
	if c.Origin.TimeoutSeconds <= 0 {
		return errors.New("origin.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateAccession() error {
	if c.Accession.MaxCreateAttempts <= 0 {
		return errors.New("accession.max_create_attempts must be positive")
	}
	if c.Accession.SearchSkewSeconds < 0 {
		return errors.New("accession.search_skew_seconds must be >= 0")
	}
	return nil
}
