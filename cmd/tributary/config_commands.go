package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tributary/internal/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand())
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit the file to set catalog, source store, and origin credentials before running tributary.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load("")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "show",
		Short:       "Show the effective configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load("")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s (exists: %t)\n\n", path, exists)
			fmt.Fprintf(out, "[paths]\n")
			fmt.Fprintf(out, "data_dir = %q\n", cfg.Paths.DataDir)
			fmt.Fprintf(out, "log_dir = %q\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "lock_file = %q\n", cfg.Paths.LockFile)
			fmt.Fprintf(out, "api_bind = %q\n\n", cfg.Paths.APIBind)
			fmt.Fprintf(out, "[catalog]\n")
			fmt.Fprintf(out, "base_url = %q\n", cfg.Catalog.BaseURL)
			fmt.Fprintf(out, "username = %q\n", cfg.Catalog.Username)
			fmt.Fprintf(out, "repository_id = %d\n\n", cfg.Catalog.RepositoryID)
			fmt.Fprintf(out, "[source_store]\n")
			fmt.Fprintf(out, "base_url = %q\n\n", cfg.SourceStore.BaseURL)
			fmt.Fprintf(out, "[origin]\n")
			fmt.Fprintf(out, "base_url = %q\n", cfg.Origin.BaseURL)
			fmt.Fprintf(out, "username = %q\n\n", cfg.Origin.Username)
			fmt.Fprintf(out, "[accession]\n")
			fmt.Fprintf(out, "max_create_attempts = %d\n", cfg.Accession.MaxCreateAttempts)
			fmt.Fprintf(out, "search_skew_seconds = %d\n\n", cfg.Accession.SearchSkewSeconds)
			fmt.Fprintf(out, "[logging]\n")
			fmt.Fprintf(out, "format = %q\n", cfg.Logging.Format)
			fmt.Fprintf(out, "level = %q\n", cfg.Logging.Level)
			return nil
		},
	}
}
